package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Hub broadcasts outcome summaries to connected admin dashboards over
// websockets. It is both a Sink and the handler for the events endpoint.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	isDev bool
}

// NewHub creates an empty hub.
func NewHub(isDev bool) *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]struct{}),
		isDev: isDev,
	}
}

// Send broadcasts the summary to every connected dashboard. A connection
// that fails to take the write is dropped.
func (h *Hub) Send(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("Dropping stale event feed connection", "error", err)
			h.remove(c)
			if closeErr := c.Close(websocket.StatusAbnormalClosure, "write failed"); closeErr != nil {
				slog.Debug("Failed to close stale connection", "error", closeErr)
			}
		}
	}
	return nil
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away. The feed is one-way; inbound frames are drained and
// ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.OriginPatterns = []string{"*"}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("Failed to accept event feed websocket", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[ws] = struct{}{}
	h.mu.Unlock()
	slog.Info("Admin event feed connected", "ip", r.RemoteAddr)

	defer func() {
		h.remove(ws)
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed closed"); closeErr != nil {
			slog.Debug("Failed to close event feed websocket", "error", closeErr)
		}
	}()

	for {
		if _, _, err := ws.Read(r.Context()); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
