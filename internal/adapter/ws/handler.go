// Package ws implements the observer WebSocket adapter: a hub of connected
// observers, their room and agent subscriptions, and per-connection write pumps.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	hbotel "github.com/Strob0t/Habitat/internal/adapter/otel"
	"github.com/Strob0t/Habitat/internal/config"
	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/protocol"
	"github.com/Strob0t/Habitat/internal/logger"
	"github.com/Strob0t/Habitat/internal/port/broadcast"
	"github.com/Strob0t/Habitat/internal/resilience"
)

// maxMessageBytes caps a single inbound frame.
const maxMessageBytes = 64 << 10

// ErrSendBufferFull is returned by Send when the observer's queue is full.
var ErrSendBufferFull = errors.New("observer send buffer full")

// Hub manages connected observers and routes outbound messages to them.
// Publishing never blocks: each observer has a bounded queue drained by its
// own write pump, and a full queue drops the message for that observer.
type Hub struct {
	cfg     config.Sync
	handler broadcast.CommandHandler
	metrics *hbotel.Metrics

	mu        sync.RWMutex
	observers map[string]*observer
}

var _ broadcast.Observers = (*Hub)(nil)

// NewHub creates a hub using the queue, write and breaker settings in cfg.
func NewHub(cfg config.Sync) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Hub{cfg: cfg, observers: make(map[string]*observer)}
}

// SetCommandHandler sets the receiver of inbound observer messages.
// Must be called before serving connections.
func (h *Hub) SetCommandHandler(ch broadcast.CommandHandler) { h.handler = ch }

// SetMetrics enables connection and drop counters.
func (h *Hub) SetMetrics(m *hbotel.Metrics) { h.metrics = m }

// HandleWS upgrades the request and serves the observer until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	c.SetReadLimit(maxMessageBytes)

	o := h.add(c)
	ctx := logger.WithObserverID(o.ctx, o.id)
	slog.InfoContext(ctx, "observer connected", "remote", r.RemoteAddr)

	go o.writePump(ctx, h)
	if h.handler != nil {
		h.handler.Connected(ctx, o.id)
	}

	defer func() {
		h.remove(o, websocket.StatusNormalClosure, "")
		if h.handler != nil {
			h.handler.Disconnected(context.WithoutCancel(ctx), o.id)
		}
	}()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			if err == nil {
				err = errors.New("type is required")
			}
			_ = h.Send(o.id, protocol.Error("", "", fmt.Errorf("decode message: %w: %w", domain.ErrValidation, err)))
			continue
		}
		if h.handler != nil {
			h.handler.HandleCommand(ctx, o.id, msg)
		}
	}
}

func (h *Hub) add(c *websocket.Conn) *observer {
	ctx, cancel := context.WithCancel(context.Background())
	o := &observer{
		id:      uuid.NewString(),
		conn:    c,
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan []byte, h.cfg.SendBuffer),
		breaker: resilience.NewBreaker(h.cfg.MaxFailures, h.cfg.BreakerTimeout),
		rooms:   make(map[string]struct{}),
		agents:  make(map[string]struct{}),
	}
	h.mu.Lock()
	h.observers[o.id] = o
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ObserversConnected.Add(ctx, 1)
	}
	return o
}

// remove unregisters o and closes its connection. Safe to call repeatedly.
func (h *Hub) remove(o *observer, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.observers[o.id]
	delete(h.observers, o.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	o.cancel()
	_ = o.conn.Close(code, reason)
	if h.metrics != nil {
		h.metrics.ObserversConnected.Add(context.Background(), -1)
	}
	slog.Info("observer disconnected", "observer_id", o.id)
}

// drop disconnects an observer whose connection keeps failing.
func (h *Hub) drop(o *observer) {
	slog.Warn("dropping unresponsive observer", "observer_id", o.id)
	if h.metrics != nil {
		h.metrics.ObserversDropped.Add(context.Background(), 1)
	}
	h.remove(o, websocket.StatusPolicyViolation, "unresponsive")
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*observer, 0, len(h.observers))
	for _, o := range h.observers {
		all = append(all, o)
	}
	h.mu.RUnlock()
	for _, o := range all {
		h.remove(o, websocket.StatusGoingAway, "server shutting down")
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
