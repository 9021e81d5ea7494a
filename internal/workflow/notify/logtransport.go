package notify

import (
	"context"

	"github.com/fieldops/workflow-engine/pkg/logger"
)

// LogTransport logs every notification instead of delivering it. It is the
// default Transport wired by cmd/workflowd: the actual SMS/push/email
// channel is out of scope, so standing up the daemon without one would
// otherwise silently queue every notification for retry forever.
type LogTransport struct {
	log *logger.Logger
}

// NewLogTransport constructs a LogTransport that writes through log.
func NewLogTransport(log *logger.Logger) *LogTransport {
	if log == nil {
		log = logger.NewDefault("notify-log-transport")
	}
	return &LogTransport{log: log}
}

// Send always succeeds, logging the rendered message at info level.
func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	t.log.WithField("request_id", msg.RequestID).
		WithField("intent", msg.Intent).
		WithField("recipient_role", msg.RecipientRole).
		Info(msg.Body)
	return nil
}
