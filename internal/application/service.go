package application

import (
	"log/slog"
	"sync"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/platform/keylock"
	"github.com/akibul079/demo-sop-hub/internal/ports"
)

const serviceName = "sop-hub-identity"

// Service is the auth façade. Every exported method returns a domain sentinel
// (possibly wrapped) so the transport layer can map it without string matching.
type Service struct {
	cfg        Config
	users      ports.UserRepository
	tokens     ports.EphemeralTokenStore
	hasher     ports.PasswordHasher
	codec      ports.SessionTokenCodec
	assertions ports.AssertionVerifier
	mailer     ports.Mailer
	metrics    ports.AuthMetrics
	locks      *keylock.Locker
	nowFn      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type Dependencies struct {
	Config Config
	Users  ports.UserRepository
	Tokens ports.EphemeralTokenStore
	Hasher ports.PasswordHasher
	Codec  ports.SessionTokenCodec
	// Assertions may be nil when no identity provider is configured.
	Assertions ports.AssertionVerifier
	Mailer     ports.Mailer
	Metrics    ports.AuthMetrics
	Now        func() time.Time
}

func NewService(deps Dependencies) *Service {
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		cfg:        deps.Config.withDefaults(),
		users:      deps.Users,
		tokens:     deps.Tokens,
		hasher:     deps.Hasher,
		codec:      deps.Codec,
		assertions: deps.Assertions,
		mailer:     deps.Mailer,
		metrics:    metrics,
		locks:      keylock.New(),
		nowFn:      nowFn,
	}
}

func appLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "application",
		"layer", "application",
	)
}

type nopMetrics struct{}

func (nopMetrics) AuthAttempt(string, string)    {}
func (nopMetrics) EphemeralToken(string, string) {}
