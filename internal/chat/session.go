package chat

import (
	"sync"

	"github.com/theraline/theraline/internal/models"
)

// Session holds the currently open conversation for one connected client.
// Only one conversation is open at a time; opening a new one supersedes any
// load still in flight for the previous one. Every state update is guarded
// by the (conversation id, epoch) pair handed out by Open, so a stale
// response cannot overwrite the list of a conversation opened later.
type Session struct {
	mu       sync.Mutex
	activeID string
	epoch    uint64
	messages []*models.Message
}

// NewSession returns a session with no open conversation.
func NewSession() *Session {
	return &Session{}
}

// Open makes conversationID the active conversation and returns the epoch
// token that must accompany the eventual SetMessages call.
func (s *Session) Open(conversationID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeID = conversationID
	s.epoch++
	s.messages = nil
	return s.epoch
}

// Close clears the active conversation. In-flight loads for it will be
// dropped by the epoch guard.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeID = ""
	s.epoch++
	s.messages = nil
}

// ActiveID returns the open conversation id, or "" when none is open.
func (s *Session) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetMessages installs a freshly loaded message list. It reports whether
// the list was accepted; a response for a superseded conversation or epoch
// is discarded. Messages already merged by live events are folded in
// rather than replaced, so a concurrent send is not lost.
func (s *Session) SetMessages(conversationID string, epoch uint64, messages []*models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != conversationID || s.epoch != epoch {
		return false
	}

	merged := messages
	for _, existing := range s.messages {
		merged = MergeMessage(merged, existing)
	}
	s.messages = merged
	return true
}

// Apply folds a live event into the open message list. Events for other
// conversations are ignored. It reports whether the session state changed.
func (s *Session) Apply(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" || ev.ConversationID != s.activeID {
		return false
	}

	s.messages = ApplyEvent(s.messages, ev)
	return true
}

// Messages returns a copy of the open conversation's message list.
func (s *Session) Messages() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
