package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait = time.Second
	// viewerQueueSize is how many messages a viewer may lag behind before it misses some.
	viewerQueueSize = 4
)

// viewer is one connection with its own outgoing queue, drained by writePump.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// HubService fans messages out to connected viewers.
// Only Run touches the client map; network writes happen in per-viewer goroutines.
type HubService struct {
	clients    map[*websocket.Conn]*viewer
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	count      atomic.Int64
	dropped    atomic.Uint64
	logger     *logger.Logger
}

// NewHubService creates a hub whose broadcast buffer holds bufferSize messages.
func NewHubService(bufferSize int, logger *logger.Logger) *HubService {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &HubService{
		clients:    make(map[*websocket.Conn]*viewer),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register/unregister/broadcast until ctx is done, then closes every client.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for conn, v := range h.clients {
				close(v.send)
				delete(h.clients, conn)
			}
			h.count.Store(0)
			return

		case conn := <-h.register:
			v := &viewer{conn: conn, send: make(chan []byte, viewerQueueSize)}
			h.clients[conn] = v
			total := h.count.Add(1)
			go h.writePump(v)
			h.logger.Info("Client connected. Total: %d", total)

		case conn := <-h.unregister:
			if v, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(v.send)
				h.count.Add(-1)
			}
			h.logger.Info("Client disconnected. Total: %d", h.count.Load())

		case message := <-h.broadcast:
			for _, v := range h.clients {
				select {
				case v.send <- message:
				default:
					// Viewer is behind; it misses this message.
					h.dropped.Add(1)
				}
			}
		}
	}
}

// writePump writes queued messages to one viewer until its queue is closed.
// After a failed write the viewer is unregistered and the rest of its queue discarded.
func (h *HubService) writePump(v *viewer) {
	defer v.conn.Close()

	failed := false
	for message := range v.send {
		if failed {
			continue
		}
		v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			failed = true
			v.conn.Close()
			h.Unregister(v.conn)
		}
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every viewer. It never blocks: when the
// buffer is full the message is dropped and false is returned.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// GetClientCount never waits on viewer I/O.
func (h *HubService) GetClientCount() int {
	return int(h.count.Load())
}

// Dropped returns how many messages were discarded, either because the hub
// buffer was full or because a viewer's own queue was.
func (h *HubService) Dropped() uint64 {
	return h.dropped.Load()
}
