// Package live distributes message change events to in-process
// subscribers. Delivery is best effort: a dropped subscriber falls back to
// pull-based refresh, which remains the correctness path.
package live

import (
	"sync"

	"github.com/google/uuid"

	"github.com/theraline/theraline/internal/chat"
	"github.com/theraline/theraline/internal/logger"
)

var log = logger.New("live")

// Subscription is an owned handle for one registered callback. Close
// unregisters it; lifecycle is caller-controlled, never ambient.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

type convSub struct {
	userID uuid.UUID
	fn     func(chat.Event)
}

type msgSub struct {
	conversationID string
	fn             func(chat.Event)
}

// Bridge fans events out to conversation-list and per-conversation
// subscribers. Callbacks run synchronously on the publishing goroutine and
// must return quickly.
type Bridge struct {
	mu       sync.RWMutex
	nextID   uint64
	convSubs map[uint64]convSub
	msgSubs  map[uint64]msgSub
}

// NewBridge returns an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		convSubs: make(map[uint64]convSub),
		msgSubs:  make(map[uint64]msgSub),
	}
}

// OnConversationsChanged registers fn to run whenever an event touches any
// conversation the user participates in. The caller owns the returned
// handle.
func (b *Bridge) OnConversationsChanged(userID uuid.UUID, fn func(chat.Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.convSubs[id] = convSub{userID: userID, fn: fn}

	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.convSubs, id)
	}}
}

// OnMessagesChanged registers fn for events scoped to one conversation.
func (b *Bridge) OnMessagesChanged(conversationID string, fn func(chat.Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.msgSubs[id] = msgSub{conversationID: conversationID, fn: fn}

	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.msgSubs, id)
	}}
}

// Publish delivers ev to every matching subscriber. Implements
// chat.Publisher.
func (b *Bridge) Publish(ev chat.Event) {
	if ev.Message == nil {
		return
	}

	b.mu.RLock()
	var targets []func(chat.Event)
	for _, sub := range b.convSubs {
		if sub.userID == ev.Message.SenderID || sub.userID == ev.Message.ReceiverID {
			targets = append(targets, sub.fn)
		}
	}
	for _, sub := range b.msgSubs {
		if sub.conversationID == ev.ConversationID {
			targets = append(targets, sub.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// Fanout publishes each event to every backend in order.
type Fanout []chat.Publisher

// Publish implements chat.Publisher.
func (f Fanout) Publish(ev chat.Event) {
	for _, p := range f {
		p.Publish(ev)
	}
}
