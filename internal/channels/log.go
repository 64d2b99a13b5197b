package channels

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport writes messages to the log instead of sending them. It
// stands in for providers that are not configured in development.
type LogTransport struct {
	name string
	log  *zap.Logger
}

func NewLogTransport(name string, log *zap.Logger) *LogTransport {
	return &LogTransport{name: name, log: log}
}

func (t *LogTransport) Deliver(_ context.Context, recipient string, msg Message) error {
	t.log.Info("message not sent, transport disabled",
		zap.String("transport", t.name),
		zap.String("recipient", recipient),
		zap.String("subject", msg.Subject),
	)
	return nil
}
