package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/liveloop/backend/internal/battle"
)

// Event is the envelope delivered to battle watchers.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event type values.
const (
	EventTypeScore = "score"
	EventTypeState = "state"
)

// Hub fans events out to the watchers of a single session.
type Hub struct {
	sessionID string
	logger    *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	shutdown   chan struct{}

	clients map[*Client]struct{}
}

func newHub(sessionID string, logger *slog.Logger) *Hub {
	return &Hub{
		sessionID:  sessionID,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		shutdown:   make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			for client := range h.clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Info("watcher joined", "sessionId", h.sessionID, "profileId", client.profileID, "watchers", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("watcher left", "sessionId", h.sessionID, "profileId", client.profileID, "watchers", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow watcher; drop it rather than stall the battle feed.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Manager owns one hub per session and implements the battle broadcaster.
type Manager struct {
	mu     sync.Mutex
	hubs   map[string]*Hub
	logger *slog.Logger
}

// NewManager constructs an empty hub manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		hubs:   make(map[string]*Hub),
		logger: logger,
	}
}

// HubFor returns the session's hub, creating and starting it on first use.
func (m *Manager) HubFor(sessionID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[sessionID]
	if !ok {
		hub = newHub(sessionID, m.logger)
		m.hubs[sessionID] = hub
		go hub.run()
	}
	return hub
}

// CloseSession shuts down the session's hub, disconnecting its watchers.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	hub, ok := m.hubs[sessionID]
	if ok {
		delete(m.hubs, sessionID)
	}
	m.mu.Unlock()

	if ok {
		close(hub.shutdown)
	}
}

// BroadcastScore delivers a score update to the session's watchers.
func (m *Manager) BroadcastScore(sessionID string, update battle.ScoreUpdate) {
	m.publish(sessionID, Event{Type: EventTypeScore, Data: update})
}

// BroadcastState delivers a state transition to the session's watchers.
func (m *Manager) BroadcastState(sessionID string, update battle.StateUpdate) {
	m.publish(sessionID, Event{Type: EventTypeState, Data: update})
}

// publish drops events for sessions with no hub: nobody is watching.
func (m *Manager) publish(sessionID string, event Event) {
	m.mu.Lock()
	hub, ok := m.hubs[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("marshal broadcast event", "sessionId", sessionID, "error", err)
		return
	}

	select {
	case hub.broadcast <- payload:
	case <-hub.shutdown:
	}
}

var _ battle.Broadcaster = (*Manager)(nil)
