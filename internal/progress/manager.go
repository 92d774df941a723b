// Package progress streams batch and regeneration progress to WebSocket clients
// of the company that started the work.
package progress

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event kinds.
const (
	KindBatch        = "batch"
	KindRegeneration = "regeneration"
)

// Event reports how far a batch or lot regeneration has got.
type Event struct {
	Kind      string    `json:"kind"`
	CompanyID int64     `json:"company_id"`
	LotID     uuid.UUID `json:"lot_id"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Connection is one subscribed client.
type Connection struct {
	ID        string
	CompanyID int64
	conn      *websocket.Conn
	send      chan Event
}

// Manager handles WebSocket connections and fans events out to them
type Manager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	broadcast  chan Event
	register   chan *Connection
	unregister chan *Connection
	stop       chan struct{}
	stopOnce   sync.Once

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewManager creates a manager and starts its hub goroutine.
func NewManager(logger *zap.Logger) *Manager {
	m := &Manager{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan Event, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	go m.run()

	return m
}

// Publish queues event for the clients of event.CompanyID. It never blocks;
// when the queue is full the event is dropped.
func (m *Manager) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case m.broadcast <- event:
	case <-m.stop:
	default:
		m.logger.Warn("Progress queue full, dropping event",
			zap.Int64("company_id", event.CompanyID),
			zap.String("lot_id", event.LotID.String()),
		)
	}
}

// HandleConnection upgrades the request and subscribes it to companyID.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, companyID int64) (*Connection, error) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		conn:      ws,
		send:      make(chan Event, sendBuffer),
	}

	select {
	case m.register <- conn:
	case <-m.stop:
		ws.Close()
		return nil, fmt.Errorf("progress manager closed")
	}

	go m.readPump(conn)
	go m.writePump(conn)

	return conn, nil
}

// readPump only watches for the client going away; clients send nothing.
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.unregister <- conn:
		case <-m.stop:
		}
		conn.conn.Close()
	}()

	conn.conn.SetReadLimit(512)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("Progress connection closed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.conn.Close()
	}()

	for {
		select {
		case event, ok := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// run owns the send channels: only this goroutine closes them.
func (m *Manager) run() {
	for {
		select {
		case conn := <-m.register:
			m.mu.Lock()
			m.connections[conn] = true
			m.mu.Unlock()
			m.logger.Debug("Progress connection registered",
				zap.String("connection_id", conn.ID),
				zap.Int64("company_id", conn.CompanyID),
			)

		case conn := <-m.unregister:
			m.mu.Lock()
			if m.connections[conn] {
				delete(m.connections, conn)
				close(conn.send)
			}
			m.mu.Unlock()

		case event := <-m.broadcast:
			m.mu.Lock()
			for conn := range m.connections {
				if conn.CompanyID != event.CompanyID {
					continue
				}
				select {
				case conn.send <- event:
				default:
					// too slow to keep up; drop it rather than stall the pipeline
					delete(m.connections, conn)
					close(conn.send)
				}
			}
			m.mu.Unlock()

		case <-m.stop:
			m.mu.Lock()
			for conn := range m.connections {
				delete(m.connections, conn)
				close(conn.send)
			}
			m.mu.Unlock()
			return
		}
	}
}

// ConnectionCount returns the number of clients subscribed to companyID.
func (m *Manager) ConnectionCount(companyID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for conn := range m.connections {
		if conn.CompanyID == companyID {
			count++
		}
	}
	return count
}

// Close disconnects every client and stops the hub.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
