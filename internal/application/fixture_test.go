package application_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/adapters/memory"
	"github.com/akibul079/demo-sop-hub/internal/adapters/security"
	"github.com/akibul079/demo-sop-hub/internal/application"
	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/akibul079/demo-sop-hub/internal/ports"
	"github.com/google/uuid"
)

type fixture struct {
	service *application.Service
	users   *fakeUsers
	tokens  *memory.EphemeralTokenStore
	mailer  *fakeMailer
	google  *fakeAssertions
	clock   *fakeClock
}

type fixtureOption func(*application.Config)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	codec, err := security.NewSessionCodec([]byte("test-secret-test-secret-test-secret!"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	cfg := application.Config{
		FrontendURL:            "https://app.sophub.test",
		RevokeSupersededTokens: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		users:  newFakeUsers(),
		tokens: memory.NewEphemeralTokenStore(),
		mailer: &fakeMailer{},
		google: &fakeAssertions{identities: map[string]ports.ExternalIdentity{}},
		clock:  clock,
	}
	f.service = application.NewService(application.Dependencies{
		Config:     cfg,
		Users:      f.users,
		Tokens:     f.tokens,
		Hasher:     fakeHasher{},
		Codec:      codec.WithClock(clock.Now),
		Assertions: f.google,
		Mailer:     f.mailer,
		Now:        clock.Now,
	})
	return f
}

// seedPasswordUser stores an active, verified password account.
func (f *fixture) seedPasswordUser(t *testing.T, email, password string) domain.User {
	t.Helper()
	hash, _ := fakeHasher{}.Hash(password)
	u, err := f.users.Create(context.Background(), domain.User{
		UserID:        uuid.New(),
		Email:         email,
		PasswordHash:  hash,
		Role:          domain.RoleMember,
		Status:        domain.StatusActive,
		IsActive:      true,
		EmailVerified: true,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// lastToken returns the token id embedded in the newest mail for template.
func (f *fixture) lastToken(t *testing.T, template string) string {
	t.Helper()
	msg, ok := f.mailer.last(template)
	if !ok {
		t.Fatalf("no %s mail sent", template)
	}
	link, err := url.Parse(msg.Params["link"])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	token := link.Query().Get("token")
	if len(token) < 32 {
		t.Fatalf("token too short: %q", token)
	}
	return token
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fakeHasher) Verify(password, hash string) bool {
	return strings.HasPrefix(hash, "hashed:") && hash == "hashed:"+password
}

type fakeUsers struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]domain.User
	failUpdates bool
	creates     int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uuid.UUID]domain.User{}}
}

func (f *fakeUsers) GetByID(_ context.Context, userID uuid.UUID) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (f *fakeUsers) GetByProvider(_ context.Context, provider, subject string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.OAuthProvider == provider && u.ProviderSubject == subject {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, user domain.User) (domain.User, error) {
	if err := user.Validate(); err != nil {
		return domain.User{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, user.Email) {
			return domain.User{}, domain.ErrConflict
		}
	}
	f.byID[user.UserID] = user
	f.creates++
	return user, nil
}

func (f *fakeUsers) Update(_ context.Context, userID uuid.UUID, mutate func(*domain.User) error) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates {
		return domain.User{}, errors.New("store unavailable")
	}
	u, ok := f.byID[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if err := mutate(&u); err != nil {
		return domain.User{}, err
	}
	f.byID[userID] = u
	return u, nil
}

func (f *fakeUsers) set(u domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.UserID] = u
}

func (f *fakeUsers) setFailUpdates(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates = v
}

func (f *fakeUsers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []ports.EmailMessage
	fail bool
}

func (m *fakeMailer) Send(_ context.Context, msg ports.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp relay down")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) setFail(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = v
}

func (m *fakeMailer) count(template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sent {
		if msg.TemplateKey == template {
			n++
		}
	}
	return n
}

func (m *fakeMailer) last(template string) (ports.EmailMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].TemplateKey == template {
			return m.sent[i], true
		}
	}
	return ports.EmailMessage{}, false
}

type fakeAssertions struct {
	mu         sync.Mutex
	identities map[string]ports.ExternalIdentity
}

func (f *fakeAssertions) register(token string, ext ports.ExternalIdentity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ext.Provider = domain.ProviderGoogle
	f.identities[token] = ext
}

func (f *fakeAssertions) VerifyIDToken(_ context.Context, raw string) (ports.ExternalIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ext, ok := f.identities[raw]
	if !ok {
		return ports.ExternalIdentity{}, errors.New("signature verification failed")
	}
	return ext, nil
}
