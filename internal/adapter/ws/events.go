package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/protocol"
	"github.com/Strob0t/Habitat/internal/resilience"
)

// observer is one connected client. The subscription sets are guarded by
// the hub mutex.
type observer struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	send    chan []byte
	breaker *resilience.Breaker

	rooms  map[string]struct{}
	agents map[string]struct{}
}

// writePump drains the send queue until the observer goes away. Failed
// writes count against the observer's breaker; once it opens the observer
// is dropped.
func (o *observer) writePump(ctx context.Context, h *Hub) {
	for {
		select {
		case <-o.ctx.Done():
			return
		case data := <-o.send:
			err := o.breaker.Execute(func() error {
				wctx, cancel := context.WithTimeout(o.ctx, h.writeTimeout())
				defer cancel()
				return o.conn.Write(wctx, websocket.MessageText, data)
			})
			if err == nil {
				continue
			}
			if o.ctx.Err() != nil {
				return
			}
			slog.DebugContext(ctx, "observer write failed", "error", err)
			if errors.Is(err, resilience.ErrCircuitOpen) || o.breaker.State() == resilience.StateOpen {
				h.drop(o)
				return
			}
		}
	}
}

func (h *Hub) writeTimeout() time.Duration {
	if h.cfg.WriteTimeout <= 0 {
		return 5 * time.Second
	}
	return h.cfg.WriteTimeout
}

// enqueue queues data without blocking. Caller holds at least the read lock.
func (h *Hub) enqueue(o *observer, data []byte) bool {
	select {
	case o.send <- data:
		return true
	default:
		if h.metrics != nil {
			h.metrics.MessagesDropped.Add(context.Background(), 1)
		}
		return false
	}
}

func encode(msg protocol.Outbound) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal outbound message", "type", msg.Type, "error", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) subscription(observerID string, set func(*observer) map[string]struct{}, key string, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.observers[observerID]
	if !ok {
		return fmt.Errorf("observer %s: %w", observerID, domain.ErrNotFound)
	}
	if key == "" {
		return fmt.Errorf("subscription id is required: %w", domain.ErrValidation)
	}
	if on {
		set(o)[key] = struct{}{}
	} else {
		delete(set(o), key)
	}
	return nil
}

func roomsOf(o *observer) map[string]struct{}  { return o.rooms }
func agentsOf(o *observer) map[string]struct{} { return o.agents }

// SubscribeRoom adds roomID to the observer's room subscriptions.
func (h *Hub) SubscribeRoom(observerID, roomID string) error {
	return h.subscription(observerID, roomsOf, roomID, true)
}

// UnsubscribeRoom removes roomID from the observer's room subscriptions.
func (h *Hub) UnsubscribeRoom(observerID, roomID string) error {
	return h.subscription(observerID, roomsOf, roomID, false)
}

// SubscribeAgent adds agentID to the observer's agent subscriptions.
func (h *Hub) SubscribeAgent(observerID, agentID string) error {
	return h.subscription(observerID, agentsOf, agentID, true)
}

// UnsubscribeAgent removes agentID from the observer's agent subscriptions.
func (h *Hub) UnsubscribeAgent(observerID, agentID string) error {
	return h.subscription(observerID, agentsOf, agentID, false)
}

// Send queues msg for one observer.
func (h *Hub) Send(observerID string, msg protocol.Outbound) error {
	data, ok := encode(msg)
	if !ok {
		return fmt.Errorf("encode %s: %w", msg.Type, domain.ErrValidation)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	o, found := h.observers[observerID]
	if !found {
		return fmt.Errorf("observer %s: %w", observerID, domain.ErrNotFound)
	}
	if !h.enqueue(o, data) {
		return ErrSendBufferFull
	}
	return nil
}

// PublishRoom queues msg for observers subscribed to roomID.
func (h *Hub) PublishRoom(roomID string, msg protocol.Outbound) int {
	return h.publish(msg, func(o *observer) bool {
		_, ok := o.rooms[roomID]
		return ok
	})
}

// PublishAgent queues msg for observers subscribed to agentID, or to
// roomID when it is set. Each observer receives it at most once.
func (h *Hub) PublishAgent(agentID, roomID string, msg protocol.Outbound) int {
	return h.publish(msg, func(o *observer) bool {
		if _, ok := o.agents[agentID]; ok {
			return true
		}
		if roomID == "" {
			return false
		}
		_, ok := o.rooms[roomID]
		return ok
	})
}

// Broadcast queues msg for every observer.
func (h *Hub) Broadcast(msg protocol.Outbound) int {
	return h.publish(msg, func(*observer) bool { return true })
}

func (h *Hub) publish(msg protocol.Outbound, match func(*observer) bool) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var data []byte
	n := 0
	for _, o := range h.observers {
		if !match(o) {
			continue
		}
		if data == nil {
			var ok bool
			if data, ok = encode(msg); !ok {
				return 0
			}
		}
		if h.enqueue(o, data) {
			n++
		}
	}
	return n
}
