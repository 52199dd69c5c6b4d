// Package hub fans session events out to subscribed WebSocket connections.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

const sendBufferSize = 64

var (
	// ErrBufferFull is returned when the broadcast queue cannot take another event.
	ErrBufferFull = errors.New("broadcast buffer full")
	// ErrClosed is returned once the hub has stopped.
	ErrClosed = errors.New("hub closed")
)

// Connection is one subscriber to a session's events.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	hub *Hub
	mu  sync.Mutex
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

// Hub manages all subscriber connections.
type Hub struct {
	logger *slog.Logger

	// connections indexed by session id, then connection id
	sessions map[string]map[string]*Connection
	count    int
	mu       sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan sessionMessage
	done       chan struct{}
	stopOnce   sync.Once
}

// New creates a new Hub. Call Run to start it.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		sessions:   make(map[string]map[string]*Connection),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan sessionMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every connection's Send channel.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]*Connection)
			}
			h.sessions[conn.SessionID][conn.ID] = conn
			h.count++
			h.mu.Unlock()
			h.logger.Debug("connection registered", "conn_id", conn.ID, "session_id", conn.SessionID)

		case conn := <-h.unregister:
			h.remove(conn)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Connection
			for _, conn := range h.sessions[msg.sessionID] {
				select {
				case conn.Send <- msg.data:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				h.logger.Warn("connection buffer full, dropping", "conn_id", conn.ID, "session_id", conn.SessionID)
				h.remove(conn)
			}
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.sessions[conn.SessionID]
	if _, ok := conns[conn.ID]; !ok {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(h.sessions, conn.SessionID)
	}
	h.count--
	close(conn.Send)
	h.logger.Debug("connection unregistered", "conn_id", conn.ID, "session_id", conn.SessionID)
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conns := range h.sessions {
		for _, conn := range conns {
			close(conn.Send)
		}
		delete(h.sessions, id)
	}
	h.count = 0
}

// Subscribe registers ws (which may be nil in tests) for sessionID's events.
func (h *Hub) Subscribe(sessionID string, ws *websocket.Conn) (*Connection, error) {
	conn := &Connection{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBufferSize),
		hub:       h,
	}
	select {
	case h.register <- conn:
		return conn, nil
	case <-h.done:
		return nil, ErrClosed
	}
}

// Unregister removes conn. It is safe to call more than once.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues ev for every subscriber of its session. It never blocks.
func (h *Hub) Publish(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.broadcast <- sessionMessage{sessionID: ev.SessionID, data: data}:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// HasSubscribers reports whether sessionID has any active connections.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}
