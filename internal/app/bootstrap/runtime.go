package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	cacheadapter "github.com/akibul079/demo-sop-hub/internal/adapters/cache"
	httpadapter "github.com/akibul079/demo-sop-hub/internal/adapters/http"
	"github.com/akibul079/demo-sop-hub/internal/adapters/mail"
	"github.com/akibul079/demo-sop-hub/internal/adapters/memory"
	"github.com/akibul079/demo-sop-hub/internal/adapters/metrics"
	"github.com/akibul079/demo-sop-hub/internal/adapters/postgres"
	"github.com/akibul079/demo-sop-hub/internal/adapters/security"
	"github.com/akibul079/demo-sop-hub/internal/application"
	"github.com/akibul079/demo-sop-hub/internal/ports"
)

const (
	googleHTTPTimeout = 8 * time.Second
	readinessTimeout  = 2 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server
	cleanups   []func()
}

// NewLogger builds the process JSON logger at the configured level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := parseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// NewRuntime wires stores, adapters and servers from cfg. Every resource
// acquired before a failure is released before returning.
func NewRuntime(ctx context.Context, cfg Config) (_ *Runtime, err error) {
	logger := NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("bootstrapping identity service",
		"service", cfg.ServiceID,
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"store_driver", cfg.Store.Driver,
		"token_driver", cfg.Tokens.Driver,
		"mail_driver", cfg.Mail.Driver,
	)

	rt := &Runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.cleanup()
		}
	}()

	var readiness []httpadapter.ReadinessCheck

	var users ports.UserRepository
	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		db, err := postgres.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		rt.cleanups = append(rt.cleanups, func() { _ = postgres.Close(db) })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		users = postgres.NewUserRepository(db)
		readiness = append(readiness, pingPostgres(db))
	default:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		users = memory.NewUserRepository()
	}

	var redisClient *redis.Client
	if cfg.Tokens.Driver == TokenDriverRedis || cfg.Mail.Driver == MailDriverRedis {
		redisClient, err = cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redisClient
		rt.cleanups = append(rt.cleanups, func() { _ = client.Close() })
		readiness = append(readiness, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	var tokens ports.EphemeralTokenStore
	if cfg.Tokens.Driver == TokenDriverRedis {
		tokens = cacheadapter.NewRedisEphemeralTokenStore(redisClient, cacheadapter.RedisEphemeralTokenStoreConfig{})
	} else {
		tokens = memory.NewEphemeralTokenStore()
	}

	var mailer ports.Mailer
	if cfg.Mail.Driver == MailDriverRedis {
		mailer = mail.NewRedisStreamMailer(redisClient, cfg.Mail.Stream)
	} else {
		mailer = mail.NewLoggingMailer(logger)
	}

	codec, err := newSessionCodec(cfg.Session, logger)
	if err != nil {
		return nil, err
	}

	var assertions ports.AssertionVerifier
	if cfg.OAuth.GoogleClientID != "" {
		verifier, err := security.NewGoogleVerifier(security.GoogleVerifierConfig{
			ClientID:   cfg.OAuth.GoogleClientID,
			IssuerURL:  cfg.OAuth.GoogleIssuerURL,
			HTTPClient: &http.Client{Timeout: googleHTTPTimeout},
		})
		if err != nil {
			return nil, fmt.Errorf("init google verifier: %w", err)
		}
		assertions = verifier
	} else {
		logger.Info("google sign-in disabled; oauth.google_client_id is empty")
	}

	recorder := metrics.New()
	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			SessionTTL:                     cfg.Session.TTL,
			VerificationTTL:                cfg.Tokens.VerificationTTL,
			ResetTTL:                       cfg.Tokens.ResetTTL,
			MinPasswordLength:              cfg.Password.MinLength,
			FrontendURL:                    cfg.FrontendURL,
			RevokeSupersededTokens:         cfg.Tokens.RevokeSuperseded,
			OAuthLinkRequiresVerifiedEmail: cfg.OAuth.LinkRequiresVerifiedEmail,
			ActivityTouchInterval:          cfg.Session.ActivityTouchInterval,
		},
		Users:      users,
		Tokens:     tokens,
		Hasher:     security.NewBcryptHasher(cfg.Password.BcryptCost),
		Codec:      codec,
		Assertions: assertions,
		Mailer:     mailer,
		Metrics:    recorder,
	})

	handler, err := httpadapter.NewHandler(svc, httpadapter.Options{
		Metrics:           recorder,
		Ready:             allReady(readiness),
		RateLimitRPS:      cfg.RateLimit.RPS,
		RateLimitBurst:    cfg.RateLimit.Burst,
		TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		TrustedProxies:    cfg.RateLimit.TrustedProxies,
	})
	if err != nil {
		return nil, fmt.Errorf("init http handler: %w", err)
	}
	rt.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rt.grpcServer = grpc.NewServer()
	rt.health = health.NewServer()
	healthpb.RegisterHealthServer(rt.grpcServer, rt.health)
	rt.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	rt.grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}
	return rt, nil
}

func newSessionCodec(cfg SessionConfig, logger *slog.Logger) (*security.SessionCodec, error) {
	if cfg.Secret == "" {
		logger.Warn("using an ephemeral session secret; tokens will not survive a restart")
		return security.NewEphemeralSessionCodec()
	}
	codec, err := security.NewSessionCodec([]byte(cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("init session codec: %w", err)
	}
	return codec, nil
}

func pingPostgres(db *gorm.DB) httpadapter.ReadinessCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func allReady(checks []httpadapter.ReadinessCheck) httpadapter.ReadinessCheck {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// RunAPI serves HTTP and gRPC health until ctx is cancelled or a signal
// arrives, then drains both servers and releases backing stores.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	r.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("http shutdown incomplete", "error", err)
	}
	r.grpcServer.GracefulStop()
	r.cleanup()
	r.logger.Info("identity service stopped")
	return runErr
}

func (r *Runtime) cleanup() {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
	r.cleanups = nil
}

// Migrate applies the embedded schema to the configured Postgres store.
func Migrate(ctx context.Context, cfg Config) error {
	slog.SetDefault(NewLogger(os.Stdout, cfg.LogLevel))
	if cfg.Store.Driver != StoreDriverPostgres {
		return fmt.Errorf("migrate requires store.driver %q, got %q", StoreDriverPostgres, cfg.Store.Driver)
	}
	db, err := postgres.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return err
	}
	defer func() { _ = postgres.Close(db) }()
	return postgres.RunMigrations(ctx, db)
}
