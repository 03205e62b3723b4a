// Package broadcast defines the ports between the simulation and connected
// observers: the outbound registry and the inbound command handler.
package broadcast

import (
	"context"

	"github.com/Strob0t/Habitat/internal/domain/protocol"
)

// Observers routes outbound messages to connected observers. Every method
// only enqueues; none blocks on a slow connection.
type Observers interface {
	// SubscribeRoom adds roomID to the observer's room subscriptions.
	SubscribeRoom(observerID, roomID string) error
	UnsubscribeRoom(observerID, roomID string) error
	// SubscribeAgent adds agentID to the observer's agent subscriptions.
	SubscribeAgent(observerID, agentID string) error
	UnsubscribeAgent(observerID, agentID string) error

	// Send queues msg for one observer.
	Send(observerID string, msg protocol.Outbound) error
	// PublishRoom queues msg for observers subscribed to roomID.
	PublishRoom(roomID string, msg protocol.Outbound) int
	// PublishAgent queues msg for observers subscribed to agentID or,
	// when roomID is set, to the room the agent is in.
	PublishAgent(agentID, roomID string, msg protocol.Outbound) int
	// Broadcast queues msg for every observer.
	Broadcast(msg protocol.Outbound) int
	// Count returns the number of connected observers.
	Count() int
}

// CommandHandler processes one inbound message from an observer. Failures
// are reported to the observer by the handler itself.
type CommandHandler interface {
	HandleCommand(ctx context.Context, observerID string, msg protocol.Inbound)
	// Connected is called once an observer is registered and can receive.
	Connected(ctx context.Context, observerID string)
	// Disconnected is called after the observer is removed.
	Disconnected(ctx context.Context, observerID string)
}
