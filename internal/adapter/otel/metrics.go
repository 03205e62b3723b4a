package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "habitat"

// Metrics holds all Habitat metric instruments.
type Metrics struct {
	ActionsRequested metric.Int64Counter
	ActionsRejected  metric.Int64Counter
	ActionsResolved  metric.Int64Counter
	ActionsFailed    metric.Int64Counter
	ActionDuration   metric.Float64Histogram

	EventsEmitted  metric.Int64Counter
	DeliveryErrors metric.Int64Counter

	StimuliDelivered  metric.Int64Counter
	PerceptionsPruned metric.Int64Counter

	ObserversConnected metric.Int64UpDownCounter
	ObserversDropped   metric.Int64Counter
	MessagesDropped    metric.Int64Counter
	CommandsHandled    metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ActionsRequested, "habitat.actions.requested", "Number of action requests received"},
		{&m.ActionsRejected, "habitat.actions.rejected", "Number of action requests rejected at the gate"},
		{&m.ActionsResolved, "habitat.actions.resolved", "Number of actions resolved successfully"},
		{&m.ActionsFailed, "habitat.actions.failed", "Number of actions resolved with success=false"},
		{&m.EventsEmitted, "habitat.events.emitted", "Number of events published on the bus"},
		{&m.DeliveryErrors, "habitat.events.delivery_errors", "Number of failed handler invocations"},
		{&m.StimuliDelivered, "habitat.stimuli.delivered", "Number of perception entries created by stimuli"},
		{&m.PerceptionsPruned, "habitat.perceptions.pruned", "Number of expired perception entries pruned"},
		{&m.ObserversDropped, "habitat.observers.dropped", "Number of observers disconnected after repeated failures"},
		{&m.MessagesDropped, "habitat.observers.messages_dropped", "Number of outbound messages dropped on a full queue"},
		{&m.CommandsHandled, "habitat.commands.handled", "Number of inbound observer commands handled"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.ObserversConnected, err = meter.Int64UpDownCounter("habitat.observers.connected",
		metric.WithDescription("Number of connected observers"))
	if err != nil {
		return nil, err
	}

	m.ActionDuration, err = meter.Float64Histogram("habitat.action.duration_seconds",
		metric.WithDescription("Time from acceptance to resolution of an action"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
