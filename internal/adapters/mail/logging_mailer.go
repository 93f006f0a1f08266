package mail

import (
	"context"
	"log/slog"
	"sort"

	"github.com/akibul079/demo-sop-hub/internal/ports"
)

// LoggingMailer records messages instead of delivering them. Parameter values
// carry live token links, so they are only emitted at debug level.
type LoggingMailer struct {
	logger *slog.Logger
}

func NewLoggingMailer(logger *slog.Logger) *LoggingMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMailer{logger: logger}
}

func (m *LoggingMailer) Send(ctx context.Context, msg ports.EmailMessage) error {
	keys := make([]string, 0, len(msg.Params))
	for k := range msg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m.logger.InfoContext(ctx, "email dispatched",
		"module", "mail.logging_mailer",
		"layer", "adapter",
		"operation", "send",
		"outcome", "success",
		"template", msg.TemplateKey,
		"recipient", msg.Recipient,
		"param_keys", keys,
	)
	m.logger.DebugContext(ctx, "email params", "template", msg.TemplateKey, "params", msg.Params)
	return nil
}
