package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/ports"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream    = "notifications:email"
	defaultMaxLength = 100000
)

// RedisStreamMailer hands messages to the notification worker through a Redis
// stream. A successful XADD counts as dispatched.
type RedisStreamMailer struct {
	client    redis.UniversalClient
	stream    string
	maxLength int64
	now       func() time.Time
}

func NewRedisStreamMailer(client redis.UniversalClient, stream string) *RedisStreamMailer {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamMailer{
		client:    client,
		stream:    stream,
		maxLength: defaultMaxLength,
		now:       time.Now,
	}
}

func (m *RedisStreamMailer) Send(ctx context.Context, msg ports.EmailMessage) error {
	if strings.TrimSpace(msg.Recipient) == "" || strings.TrimSpace(msg.TemplateKey) == "" {
		return fmt.Errorf("email template and recipient are required")
	}
	params, err := json.Marshal(msg.Params)
	if err != nil {
		return fmt.Errorf("encode email params: %w", err)
	}
	err = m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLength,
		Approx: true,
		Values: map[string]any{
			"template":  msg.TemplateKey,
			"recipient": msg.Recipient,
			"params":    string(params),
			"queued_at": m.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}
