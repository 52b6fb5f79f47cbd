package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/theraline/theraline/internal/chat"
	"github.com/theraline/theraline/internal/logger"
	"github.com/theraline/theraline/internal/models"
)

// Frame types exchanged over the socket.
const (
	FrameOpen     = "open"     // client opens a conversation
	FrameClose    = "close"    // client closes the open conversation
	FrameTyping   = "typing"   // ephemeral typing indicator, relayed only
	FrameEvent    = "event"    // server push: message inserted/updated
	FrameSnapshot = "snapshot" // server push: full open-conversation history
	FrameError    = "error"
)

var log = logger.New("websocket")

// Frame is the envelope for every websocket payload in either direction.
type Frame struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	IsTyping       bool              `json:"is_typing,omitempty"`
	Event          *chat.Event       `json:"event,omitempty"`
	Messages       []*models.Message `json:"messages,omitempty"`
	Error          string            `json:"error,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Client represents a connected websocket client. Each connection owns one
// conversation session: the single "open" conversation whose history is
// mirrored to the peer.
type Client struct {
	ID      uuid.UUID
	Socket  *websocket.Conn
	Send    chan []byte
	Session *chat.Session
}

// Manager maintains the set of active clients and feeds them live events.
// It implements chat.Publisher so it can sit on the event fanout next to
// the in-process bridge.
type Manager struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	service    *chat.Service
	mutex      sync.Mutex
}

// NewManager creates a new websocket manager.
func NewManager(service *chat.Service) *Manager {
	return &Manager{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		service:    service,
	}
}

// Run starts the websocket manager
func (m *Manager) Run() {
	for {
		select {
		case client := <-m.register:
			m.mutex.Lock()
			if existing, ok := m.clients[client.ID]; ok && existing != client {
				close(existing.Send)
			}
			m.clients[client.ID] = client
			log.Info("client connected: %s", client.ID)
			m.mutex.Unlock()
		case client := <-m.unregister:
			m.mutex.Lock()
			// Match by pointer, not just id: a reconnect may have replaced
			// this entry already, and the old connection's teardown must not
			// tear down the new one.
			if existing, ok := m.clients[client.ID]; ok && existing == client {
				delete(m.clients, client.ID)
				close(client.Send)
				log.Info("client disconnected: %s", client.ID)
			}
			m.mutex.Unlock()
		}
	}
}

// Publish implements chat.Publisher: every event is folded into the open
// session of both participants (idempotent merge) and pushed to them.
func (m *Manager) Publish(ev chat.Event) {
	if ev.Message == nil {
		return
	}

	frame := Frame{Type: FrameEvent, ConversationID: ev.ConversationID, Event: &ev, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Error("failed to marshal event frame: %v", err)
		return
	}

	for _, userID := range []uuid.UUID{ev.Message.SenderID, ev.Message.ReceiverID} {
		m.mutex.Lock()
		client, ok := m.clients[userID]
		m.mutex.Unlock()
		if !ok {
			continue
		}

		client.Session.Apply(ev)
		m.SendToUser(userID, payload)
	}
}

// SendToUser sends a payload to a specific user, dropping the client if
// its send buffer is full.
func (m *Manager) SendToUser(userID uuid.UUID, message []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if client, ok := m.clients[userID]; ok {
		select {
		case client.Send <- message:
		default:
			close(client.Send)
			delete(m.clients, client.ID)
			log.Warn("send buffer full for user %s, removing client", userID)
		}
	}
}

// HandleWebSocket handles websocket requests from clients
func (m *Manager) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	userUUID, ok := userID.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user identification"})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Origin enforcement happens at the CORS layer; the token in
			// the auth middleware gates the upgrade.
			return true
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:      userUUID,
		Socket:  conn,
		Send:    make(chan []byte, 256),
		Session: chat.NewSession(),
	}

	m.register <- client

	go client.readPump(m)
	go client.writePump()
}

func (c *Client) sendFrame(frame Frame) {
	frame.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Error("failed to marshal frame: %v", err)
		return
	}
	select {
	case c.Send <- payload:
	default:
	}
}

// openConversation loads the conversation history off the read loop. The
// session's epoch guard drops the result if the client has since opened a
// different conversation.
func (c *Client) openConversation(m *Manager, conversationID string) {
	epoch := c.Session.Open(conversationID)

	go func() {
		messages, err := m.service.LoadMessages(context.Background(), c.ID, conversationID)
		if err != nil {
			c.sendFrame(Frame{Type: FrameError, ConversationID: conversationID, Error: err.Error()})
			return
		}

		if !c.Session.SetMessages(conversationID, epoch, messages) {
			log.Debug("dropping stale load for %s, client %s moved on", conversationID, c.ID)
			return
		}

		c.sendFrame(Frame{
			Type:           FrameSnapshot,
			ConversationID: conversationID,
			Messages:       c.Session.Messages(),
		})
	}()
}

// relayTyping forwards a typing indicator to the other participant. Typing
// state is ephemeral and never persisted.
func (c *Client) relayTyping(m *Manager, frame Frame) {
	a, b, err := chat.SplitConversationID(frame.ConversationID)
	if err != nil || (c.ID != a && c.ID != b) {
		c.sendFrame(Frame{Type: FrameError, Error: "invalid conversation id"})
		return
	}

	other := a
	if other == c.ID {
		other = b
	}

	payload, err := json.Marshal(Frame{
		Type:           FrameTyping,
		ConversationID: frame.ConversationID,
		IsTyping:       frame.IsTyping,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	m.SendToUser(other, payload)
}

// readPump pumps control frames from the websocket connection
func (c *Client) readPump(m *Manager) {
	defer func() {
		m.unregister <- c
		c.Socket.Close()
	}()

	c.Socket.SetReadLimit(64 * 1024)
	c.Socket.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Socket.SetPongHandler(func(string) error {
		c.Socket.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("error reading from client %s: %v", c.ID, err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.sendFrame(Frame{Type: FrameError, Error: "invalid frame format"})
			continue
		}

		switch frame.Type {
		case FrameOpen:
			if frame.ConversationID == "" {
				c.sendFrame(Frame{Type: FrameError, Error: "conversation_id required"})
				continue
			}
			c.openConversation(m, frame.ConversationID)
		case FrameClose:
			c.Session.Close()
		case FrameTyping:
			c.relayTyping(m, frame)
		default:
			c.sendFrame(Frame{Type: FrameError, Error: "unknown frame type"})
		}
	}
}

// writePump pumps messages from the manager to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush anything already queued into the same write.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
