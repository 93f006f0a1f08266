package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/akibul079/demo-sop-hub/internal/adapters/metrics"
	"github.com/akibul079/demo-sop-hub/internal/application"
)

// ReadinessCheck reports whether backing stores are reachable.
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	Metrics        *metrics.Recorder
	Ready          ReadinessCheck
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustForwardedFor keys the limiter on X-Forwarded-For instead of the
	// peer address. Enable only behind a proxy that rewrites the header.
	TrustForwardedFor bool
	TrustedProxies    []string
}

// Handler is the HTTP adapter entrypoint for identity use-cases.
type Handler struct {
	service  *application.Service
	metrics  *metrics.Recorder
	ready    ReadinessCheck
	limiter  *ipRateLimiter
	validate *validator.Validate
}

func NewHandler(service *application.Service, opts Options) (*Handler, error) {
	h := &Handler{
		service:  service,
		metrics:  opts.Metrics,
		ready:    opts.Ready,
		validate: newValidator(),
	}
	if opts.RateLimitRPS > 0 {
		clients, err := newClientIPResolver(opts.TrustForwardedFor, opts.TrustedProxies)
		if err != nil {
			return nil, err
		}
		h.limiter = newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, clients)
	}
	return h, nil
}

// NewRouter registers the identity routes and middleware stack. Credential
// and email-sending endpoints sit behind the per-IP limiter when one is
// configured.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(handler.loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if handler.metrics != nil {
		r.Method(http.MethodGet, "/metrics", handler.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if handler.limiter != nil {
				r.Use(handler.limiter.middleware)
			}
			r.Post("/auth/register", handler.register)
			r.Post("/auth/login", handler.login)
			r.Post("/auth/google", handler.googleLogin)
			r.Post("/email/verify", handler.emailVerify)
			r.Post("/email/resend-verification", handler.resendVerification)
			r.Post("/email/forgot-password", handler.forgotPassword)
			r.Post("/email/reset-password", handler.resetPassword)
		})

		r.Post("/auth/token", handler.reissueToken)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/auth/logout", handler.logout)
			r.Get("/users/me", handler.me)
			r.Post("/users/me/password", handler.changePassword)
		})
	})

	return r
}
