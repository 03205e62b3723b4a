package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/Habitat/internal/domain/protocol"
	"github.com/Strob0t/Habitat/internal/port/messagequeue"
)

// QueueObserverID identifies commands that arrived over the message queue.
const QueueObserverID = "queue"

// StartCommandSubscriber executes commands published on habitat.commands
// and publishes each reply on habitat.replies. Malformed messages are
// acknowledged and dropped so they are not redelivered.
func (s *SyncService) StartCommandSubscriber(ctx context.Context, q messagequeue.Queue) (cancel func(), err error) {
	return q.Subscribe(ctx, messagequeue.SubjectCommands, func(ctx context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			slog.WarnContext(ctx, "dropping invalid command", "subject", subject, "error", err)
			return nil
		}
		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.WarnContext(ctx, "dropping undecodable command", "subject", subject, "error", err)
			return nil
		}

		reply, err := json.Marshal(s.Execute(ctx, QueueObserverID, msg))
		if err != nil {
			return err
		}
		return q.Publish(ctx, messagequeue.SubjectReplies, reply)
	})
}
