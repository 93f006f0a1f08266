package ports

import "context"

const (
	TemplateVerifyEmail   = "verify_email"
	TemplateResetPassword = "reset_password"
	TemplateWelcome       = "welcome"
)

type EmailMessage struct {
	TemplateKey string
	Recipient   string
	Params      map[string]string
}

// Mailer hands a templated message to the delivery channel.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// AuthMetrics records outcome counters. Implementations must be safe for
// concurrent use.
type AuthMetrics interface {
	AuthAttempt(method, outcome string)
	EphemeralToken(purpose, event string)
}
