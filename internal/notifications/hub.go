package notifications

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stagepass/ticket-marketplace/marketplace-backend/internal/orchestrator"
)

// Message is the frame pushed to subscribed clients.
type Message struct {
	Type      string                     `json:"type"`
	Progress  *orchestrator.ProgressEvent `json:"progress,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`
}

const (
	MessageTypeProgress = "run_progress"
	MessageTypeStatus   = "status"
)

// Hub fans run progress events out to WebSocket subscribers. It implements
// orchestrator.ProgressEmitter: Emit never blocks the run, slow or full
// clients get dropped instead.
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan Message
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	upgrader    websocket.Upgrader
	logger      *zap.Logger

	mu   sync.RWMutex
	byID map[string]*Connection
}

// Connection represents one WebSocket subscriber. A connection may filter on
// a single run ID; with no filter it receives every progress event.
type Connection struct {
	ID     string
	RunID  *uuid.UUID
	Conn   *websocket.Conn
	Send   chan Message
	opened time.Time
}

// NewHub creates the hub and starts its dispatch loop.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan Message, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		byID:        make(map[string]*Connection),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	go h.run()

	return h
}

// Emit implements orchestrator.ProgressEmitter.
func (h *Hub) Emit(event orchestrator.ProgressEvent) {
	msg := Message{
		Type:      MessageTypeProgress,
		Progress:  &event,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("progress broadcast channel full, dropping event",
			zap.String("run_id", event.RunID.String()),
			zap.String("stage_id", event.StageID))
	}
}

// HandleConnection upgrades an HTTP request to a WebSocket subscription. The
// optional run query parameter narrows the feed to a single run.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	connection := &Connection{
		ID:     uuid.New().String(),
		Conn:   conn,
		Send:   make(chan Message, 256),
		opened: time.Now(),
	}
	if raw := r.URL.Query().Get("run"); raw != "" {
		if runID, err := uuid.Parse(raw); err == nil {
			connection.RunID = &runID
		}
	}

	select {
	case h.register <- connection:
	case <-h.stop:
		conn.Close()
		return fmt.Errorf("progress hub is shut down")
	}

	h.mu.Lock()
	h.byID[connection.ID] = connection
	h.mu.Unlock()

	go h.readPump(connection)
	go h.writePump(connection)

	return nil
}

func (h *Hub) readPump(conn *Connection) {
	defer func() {
		// After Close the dispatch loop is gone; don't hang the pump on it.
		select {
		case h.unregister <- conn:
		case <-h.stop:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Subscribers are read-only; drain until the peer closes.
	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			break
		}
	}
}

func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			h.logger.Debug("subscriber registered", zap.String("connection_id", conn.ID))

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
				h.mu.Lock()
				delete(h.byID, conn.ID)
				h.mu.Unlock()
				h.logger.Debug("subscriber unregistered", zap.String("connection_id", conn.ID))
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !conn.wants(message) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					close(conn.Send)
					delete(h.connections, conn)
					h.mu.Lock()
					delete(h.byID, conn.ID)
					h.mu.Unlock()
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			h.mu.Lock()
			h.byID = make(map[string]*Connection)
			h.mu.Unlock()
			return
		}
	}
}

func (c *Connection) wants(msg Message) bool {
	if c.RunID == nil || msg.Progress == nil {
		return true
	}
	return msg.Progress.RunID == *c.RunID
}

// ConnectionCount returns the number of active subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// Close shuts the hub down and disconnects all subscribers.
func (h *Hub) Close() {
	close(h.stop)
}
