// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/Habitat/internal/logger"
	"github.com/Strob0t/Habitat/internal/middleware"
	"github.com/Strob0t/Habitat/internal/port/messagequeue"
)

const (
	streamName = "HABITAT"
	// streamMaxAge bounds how long mirrored events stay replayable.
	streamMaxAge = 24 * time.Hour

	// maxDeliveries is how often a failing message is tried before it is
	// moved to the dead letter subject.
	maxDeliveries = 3
	nakDelay      = time.Second

	dlqPrefix     = "habitat.dlq."
	headerSubject = "Habitat-Original-Subject"
	headerError   = "Habitat-Error"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

var _ messagequeue.Queue = (*Queue)(nil)

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("habitat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"habitat.>"},
		MaxAge:   streamMaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// JetStream exposes the JetStream context, e.g. for opening KV buckets.
func (q *Queue) JetStream() jetstream.JetStream { return q.js }

// Publish sends a message to the given subject. The request id in ctx, if
// any, travels in the X-Request-ID header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(middleware.HeaderRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for new messages on the given subject.
// A handler error naks the message for redelivery; after maxDeliveries
// attempts it is republished under habitat.dlq. and acknowledged.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		MaxDeliver:    maxDeliveries + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		hctx := context.Background()
		if id := msg.Headers().Get(middleware.HeaderRequestID); id != "" {
			hctx = logger.WithRequestID(hctx, id)
		}
		if err := handler(hctx, msg.Subject(), msg.Data()); err != nil {
			q.fail(hctx, msg, err)
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(hctx, "nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) fail(ctx context.Context, msg jetstream.Msg, cause error) {
	slog.ErrorContext(ctx, "message handler failed", "subject", msg.Subject(), "error", cause)

	meta, err := msg.Metadata()
	if err == nil && meta.NumDelivered >= maxDeliveries {
		dead := &nats.Msg{Subject: dlqSubject(msg.Subject()), Data: msg.Data(), Header: nats.Header{}}
		dead.Header.Set(headerSubject, msg.Subject())
		dead.Header.Set(headerError, cause.Error())
		if id := logger.RequestID(ctx); id != "" {
			dead.Header.Set(middleware.HeaderRequestID, id)
		}
		if _, err := q.js.PublishMsg(ctx, dead); err != nil {
			slog.ErrorContext(ctx, "nats dead letter publish failed", "subject", dead.Subject, "error", err)
		}
		if err := msg.Term(); err != nil {
			slog.ErrorContext(ctx, "nats term failed", "error", err)
		}
		return
	}
	if err := msg.NakWithDelay(nakDelay); err != nil {
		slog.ErrorContext(ctx, "nats nak failed", "error", err)
	}
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

func dlqSubject(subject string) string {
	return dlqPrefix + strings.TrimPrefix(subject, "habitat.")
}

var consumerReplacer = strings.NewReplacer(".", "_", "*", "star", ">", "all")

// consumerName derives a durable consumer name from a filter subject.
func consumerName(subject string) string {
	return "habitat_" + consumerReplacer.Replace(strings.TrimPrefix(subject, "habitat."))
}
