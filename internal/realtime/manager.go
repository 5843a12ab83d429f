// Package realtime streams committed funding changes to WebSocket clients
// subscribed to a startup.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"incubator-portal/portal-backend/internal/funding"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

// MessageTypeChange tags every message pushed to clients
const MessageTypeChange = "funding.change"

var (
	ErrManagerClosed = errors.New("realtime manager is closed")
	ErrBroadcastFull = errors.New("broadcast channel full")
)

// Message is the JSON frame written to subscribers
type Message struct {
	Type      string             `json:"type"`
	StartupID uuid.UUID          `json:"startup_id"`
	Event     funding.StageEvent `json:"event"`
	Snapshot  funding.Snapshot   `json:"snapshot"`
	Timestamp time.Time          `json:"timestamp"`
}

// Connection is one subscribed WebSocket client
type Connection struct {
	ID        string
	StartupID uuid.UUID
	Conn      *websocket.Conn
	Send      chan Message
}

type countRequest struct {
	startupID uuid.UUID
	reply     chan int
}

// hub owns the subscription table; only its goroutine touches it
type hub struct {
	subscribers map[uuid.UUID]map[*Connection]bool
	broadcast   chan Message
	register    chan *Connection
	unregister  chan *Connection
	counts      chan countRequest
	stop        chan struct{}
	done        chan struct{}
}

// Manager upgrades requests into subscriptions and fans change events out to
// them. It implements funding.Publisher and funding.StreamServer.
type Manager struct {
	hub      *hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewManager creates a manager and starts its hub. checkOrigin may be nil to
// accept every origin.
func NewManager(logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	h := &hub{
		subscribers: make(map[uuid.UUID]map[*Connection]bool),
		broadcast:   make(chan Message, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		counts:      make(chan countRequest),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	m := &Manager{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
	go m.run()
	return m
}

// ServeStream upgrades the request and subscribes the connection to startupID
func (m *Manager) ServeStream(w http.ResponseWriter, r *http.Request, startupID uuid.UUID) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:        uuid.NewString(),
		StartupID: startupID,
		Conn:      conn,
		Send:      make(chan Message, sendBuffer),
	}

	select {
	case m.hub.register <- c:
	case <-m.hub.done:
		conn.Close()
		return ErrManagerClosed
	}

	go m.readPump(c)
	go m.writePump(c)
	return nil
}

// Publish queues a change for every subscriber of the event's startup
func (m *Manager) Publish(ctx context.Context, event funding.ChangeEvent) error {
	msg := Message{
		Type:      MessageTypeChange,
		StartupID: event.StartupID,
		Event:     event.Event,
		Snapshot:  event.Snapshot,
		Timestamp: event.Event.OccurredAt,
	}

	select {
	case <-m.hub.done:
		return ErrManagerClosed
	default:
	}

	select {
	case m.hub.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBroadcastFull
	}
}

// ConnectionCount returns the number of clients subscribed to startupID
func (m *Manager) ConnectionCount(startupID uuid.UUID) int {
	req := countRequest{startupID: startupID, reply: make(chan int, 1)}
	select {
	case m.hub.counts <- req:
		return <-req.reply
	case <-m.hub.done:
		return 0
	}
}

// Close stops the hub and closes every subscription
func (m *Manager) Close() {
	select {
	case <-m.hub.stop:
	default:
		close(m.hub.stop)
	}
	<-m.hub.done
}

func (m *Manager) run() {
	h := m.hub
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			subs, ok := h.subscribers[c.StartupID]
			if !ok {
				subs = make(map[*Connection]bool)
				h.subscribers[c.StartupID] = subs
			}
			subs[c] = true
			m.logger.Debug("WebSocket subscribed",
				zap.String("connection_id", c.ID),
				zap.String("startup_id", c.StartupID.String()))

		case c := <-h.unregister:
			h.remove(c)
			m.logger.Debug("WebSocket unsubscribed",
				zap.String("connection_id", c.ID),
				zap.String("startup_id", c.StartupID.String()))

		case msg := <-h.broadcast:
			for c := range h.subscribers[msg.StartupID] {
				select {
				case c.Send <- msg:
				default:
					m.logger.Warn("Dropping slow WebSocket subscriber",
						zap.String("connection_id", c.ID),
						zap.String("startup_id", c.StartupID.String()))
					h.remove(c)
				}
			}

		case req := <-h.counts:
			req.reply <- len(h.subscribers[req.startupID])

		case <-h.stop:
			for _, subs := range h.subscribers {
				for c := range subs {
					close(c.Send)
				}
			}
			h.subscribers = map[uuid.UUID]map[*Connection]bool{}
			return
		}
	}
}

// remove drops c and closes its send channel once
func (h *hub) remove(c *Connection) {
	subs, ok := h.subscribers[c.StartupID]
	if !ok || !subs[c] {
		return
	}
	delete(subs, c)
	close(c.Send)
	if len(subs) == 0 {
		delete(h.subscribers, c.StartupID)
	}
}

// readPump discards client frames; it exists to serve pongs and notice closes
func (m *Manager) readPump(c *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- c:
		case <-m.hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("WebSocket read failed",
					zap.String("connection_id", c.ID),
					zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
