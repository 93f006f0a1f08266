package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/akibul079/demo-sop-hub/internal/adapters/memory"
	"github.com/akibul079/demo-sop-hub/internal/adapters/metrics"
	"github.com/akibul079/demo-sop-hub/internal/adapters/security"
	"github.com/akibul079/demo-sop-hub/internal/application"
	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/akibul079/demo-sop-hub/internal/ports"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []ports.EmailMessage
}

func (m *captureMailer) Send(_ context.Context, msg ports.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// lastLink returns the email and token query values of the newest message
// with the given template.
func (m *captureMailer) lastLink(t *testing.T, template string) (string, string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].TemplateKey != template {
			continue
		}
		u, err := url.Parse(m.sent[i].Params["link"])
		require.NoError(t, err)
		return u.Query().Get("email"), u.Query().Get("token")
	}
	t.Fatalf("no %s message sent", template)
	return "", ""
}

type stubAssertions map[string]ports.ExternalIdentity

func (s stubAssertions) VerifyIDToken(_ context.Context, raw string) (ports.ExternalIdentity, error) {
	ext, ok := s[raw]
	if !ok {
		return ports.ExternalIdentity{}, errors.New("unknown token")
	}
	return ext, nil
}

type testServer struct {
	router  http.Handler
	mailer  *captureMailer
	metrics *metrics.Recorder
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	codec, err := security.NewSessionCodec([]byte("router-test-secret-router-test-secret"))
	require.NoError(t, err)
	mailer := &captureMailer{}
	rec := metrics.New()
	service := application.NewService(application.Dependencies{
		Config: application.Config{
			FrontendURL:            "https://app.sophub.test",
			RevokeSupersededTokens: true,
		},
		Users:  memory.NewUserRepository(),
		Tokens: memory.NewEphemeralTokenStore(),
		Hasher: security.NewBcryptHasher(bcrypt.MinCost),
		Codec:  codec,
		Assertions: stubAssertions{
			"google-ok": {
				Provider:      domain.ProviderGoogle,
				Subject:       "g-123",
				Email:         "grace@example.com",
				EmailVerified: true,
				GivenName:     "Grace",
				FamilyName:    "Hopper",
			},
		},
		Mailer:  mailer,
		Metrics: rec,
	})
	opts.Metrics = rec
	handler, err := NewHandler(service, opts)
	require.NoError(t, err)
	return &testServer{
		router:  NewRouter(handler),
		mailer:  mailer,
		metrics: rec,
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:5555"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func (s *testServer) registerAndVerify(t *testing.T, email, password string) {
	t.Helper()
	rr, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": password, "first_name": "Ada", "last_name": "Lovelace",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	linkEmail, token := s.mailer.lastLink(t, ports.TemplateVerifyEmail)
	rr, _ = s.do(t, http.MethodPost, "/api/v1/email/verify", "", map[string]string{
		"email": linkEmail, "token": token,
	})
	require.Equal(t, http.StatusOK, rr.Code)
}

func (s *testServer) login(t *testing.T, email, password string) tokenResponse {
	t.Helper()
	rr, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tok tokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &tok))
	return tok
}

func TestRegisterVerifyLoginAndMe(t *testing.T) {
	s := newTestServer(t, Options{})

	rr, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "Ada@Example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var reg registerResponse
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, "ada@example.com", reg.Email)
	assert.Equal(t, domain.StatusPending, reg.Status)

	email, token := s.mailer.lastLink(t, ports.TemplateVerifyEmail)
	rr, _ = s.do(t, http.MethodPost, "/api/v1/email/verify", "", map[string]string{"email": email, "token": token})
	require.Equal(t, http.StatusOK, rr.Code)

	tok := s.login(t, "ada@example.com", "correct-horse")
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, reg.UserID, tok.UserID)
	assert.False(t, tok.IsNewUser)

	rr, env = s.do(t, http.MethodGet, "/api/v1/users/me", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me userResponse
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "ada@example.com", me.Email)
	assert.True(t, me.EmailVerified)
	assert.Equal(t, domain.StatusActive, me.Status)
	assert.True(t, me.HasPassword)
	assert.NotContains(t, rr.Body.String(), "password_hash")
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	s := newTestServer(t, Options{})
	body := map[string]string{"email": "dup@example.com", "password": "correct-horse"}
	rr, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", env.Code)
}

func TestRegisterWeakPassword(t *testing.T) {
	s := newTestServer(t, Options{})
	rr, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "weak@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "WEAK_PASSWORD", env.Code)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	s := newTestServer(t, Options{})
	s.registerAndVerify(t, "ada@example.com", "correct-horse")

	for name, body := range map[string]map[string]string{
		"wrong password": {"email": "ada@example.com", "password": "wrong-horse"},
		"unknown email":  {"email": "nobody@example.com", "password": "correct-horse"},
	} {
		t.Run(name, func(t *testing.T) {
			rr, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "INVALID_CREDENTIALS", env.Code)
			assert.Equal(t, "invalid email or password", env.Message)
		})
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, Options{})
	cases := []struct {
		name string
		path string
		body any
	}{
		{name: "empty body", path: "/api/v1/auth/login", body: nil},
		{name: "unknown field", path: "/api/v1/auth/login", body: `{"email":"a@b.co","password":"x","admin":true}`},
		{name: "trailing value", path: "/api/v1/auth/login", body: `{"email":"a@b.co","password":"x"}{}`},
		{name: "bad email", path: "/api/v1/email/forgot-password", body: map[string]string{"email": "not-an-email"}},
		{name: "missing token", path: "/api/v1/email/verify", body: map[string]string{"email": "a@b.co"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, env := s.do(t, http.MethodPost, tc.path, "", tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "VALIDATION_ERROR", env.Code)
		})
	}

	_, env := s.do(t, http.MethodPost, "/api/v1/email/verify", "", map[string]string{"email": "a@b.co"})
	assert.Contains(t, env.Message, "token is required")
}

func TestProtectedRoutesRequireValidBearer(t *testing.T) {
	s := newTestServer(t, Options{})
	s.registerAndVerify(t, "ada@example.com", "correct-horse")
	tok := s.login(t, "ada@example.com", "correct-horse")

	rr, env := s.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)

	tampered := tok.AccessToken[:len(tok.AccessToken)-2] + "xx"
	rr, env = s.do(t, http.MethodGet, "/api/v1/users/me", tampered, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)

	rr, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", tok.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReissueToken(t *testing.T) {
	s := newTestServer(t, Options{})
	s.registerAndVerify(t, "ada@example.com", "correct-horse")
	tok := s.login(t, "ada@example.com", "correct-horse")

	rr, env := s.do(t, http.MethodPost, "/api/v1/auth/token", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fresh tokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &fresh))
	assert.NotEmpty(t, fresh.AccessToken)
	assert.Equal(t, tok.UserID, fresh.UserID)

	rr, _ = s.do(t, http.MethodPost, "/api/v1/auth/token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t, Options{})
	s.registerAndVerify(t, "ada@example.com", "correct-horse")
	tok := s.login(t, "ada@example.com", "correct-horse")

	rr, env := s.do(t, http.MethodPost, "/api/v1/users/me/password", tok.AccessToken, map[string]string{
		"current_password": "correct-horse", "new_password": "battery-staple", "confirm_password": "battery-stapler",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "PASSWORD_MISMATCH", env.Code)

	rr, env = s.do(t, http.MethodPost, "/api/v1/users/me/password", tok.AccessToken, map[string]string{
		"current_password": "wrong-horse", "new_password": "battery-staple", "confirm_password": "battery-staple",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Code)

	rr, _ = s.do(t, http.MethodPost, "/api/v1/users/me/password", tok.AccessToken, map[string]string{
		"current_password": "correct-horse", "new_password": "battery-staple", "confirm_password": "battery-staple",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	s.login(t, "ada@example.com", "battery-staple")
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t, Options{})
	s.registerAndVerify(t, "ada@example.com", "correct-horse")

	rr, unknown := s.do(t, http.MethodPost, "/api/v1/email/forgot-password", "", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr, known := s.do(t, http.MethodPost, "/api/v1/email/forgot-password", "", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, unknown.Message, known.Message)

	email, token := s.mailer.lastLink(t, ports.TemplateResetPassword)
	rr, _ = s.do(t, http.MethodPost, "/api/v1/email/reset-password", "", map[string]string{
		"email": email, "token": token, "new_password": "battery-staple",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env := s.do(t, http.MethodPost, "/api/v1/email/reset-password", "", map[string]string{
		"email": email, "token": token, "new_password": "another-one",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "TOKEN_NOT_FOUND", env.Code)

	s.login(t, "ada@example.com", "battery-staple")
}

func TestResendVerification(t *testing.T) {
	s := newTestServer(t, Options{})
	rr, env := s.do(t, http.MethodPost, "/api/v1/email/resend-verification", "", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "USER_NOT_FOUND", env.Code)

	s.registerAndVerify(t, "ada@example.com", "correct-horse")
	rr, env = s.do(t, http.MethodPost, "/api/v1/email/resend-verification", "", map[string]string{"email": "ada@example.com"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ALREADY_VERIFIED", env.Code)
}

func TestGoogleLogin(t *testing.T) {
	s := newTestServer(t, Options{})

	rr, env := s.do(t, http.MethodPost, "/api/v1/auth/google", "", map[string]string{"token": "google-ok"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var first tokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.True(t, first.IsNewUser)
	assert.Equal(t, "grace@example.com", first.Email)

	rr, env = s.do(t, http.MethodPost, "/api/v1/auth/google", "", map[string]string{"token": "google-ok"})
	require.Equal(t, http.StatusOK, rr.Code)
	var second tokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.False(t, second.IsNewUser)
	assert.Equal(t, first.UserID, second.UserID)

	rr, env = s.do(t, http.MethodPost, "/api/v1/auth/google", "", map[string]string{"token": "forged"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_ASSERTION", env.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	s := newTestServer(t, Options{RateLimitRPS: 0.01, RateLimitBurst: 1})
	body := map[string]string{"email": "ada@example.com", "password": "whatever-pass"}

	rr, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", env.Code)
	assert.Equal(t, "100", rr.Header().Get("Retry-After"))

	rr, _ = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	s := newTestServer(t, Options{RateLimitRPS: 5, RateLimitBurst: 10})
	body := `{"email":"a@b.co"}`

	passed, limited := 0, 0
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/email/forgot-password", strings.NewReader(body))
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		} else {
			passed++
		}
	}
	assert.LessOrEqual(t, passed, 11)
	assert.GreaterOrEqual(t, limited, 89)
}

func TestRateLimitTrustedProxyUsesForwardedClient(t *testing.T) {
	s := newTestServer(t, Options{
		RateLimitRPS:      0.01,
		RateLimitBurst:    1,
		TrustForwardedFor: true,
		TrustedProxies:    []string{"10.0.0.0/8"},
	})
	send := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/email/forgot-password", strings.NewReader(`{"email":"a@b.co"}`))
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.2:443", "198.51.100.1, 10.0.0.9"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:443", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.3:443", "spoofed-left, 198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("192.0.2.50:443", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.50:443", "198.51.100.77"))
}

func TestReadinessAndMetrics(t *testing.T) {
	s := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("postgres down") }})

	rr, env := s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "NOT_READY", env.Code)

	s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@b.co", "password": "x"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `identity_http_requests_total{method="POST",route="/api/v1/auth/login",status="401"} 1`)
	assert.Contains(t, body, `identity_auth_attempts_total{method="password",outcome="invalid_credentials"} 1`)
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-Id"))
}
