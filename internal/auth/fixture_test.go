package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eic-pathway/internal/guard"
	"eic-pathway/internal/tokens"
	"eic-pathway/internal/users"
	"eic-pathway/internal/verification"
)

const (
	studentEmail = "jdoe@students.bowiestate.edu"
	password     = "correct-horse-battery"
)

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

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *captureSender) Send(_ context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[email] = code
	return s.err
}

func (s *captureSender) code(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

type fixture struct {
	svc     *Service
	users   *users.MemoryStore
	vstore  *verification.MemoryStore
	tokens  *tokens.Service
	clock   *fakeClock
	sender  *captureSender
	lockout *guard.Lockout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	userStore := users.NewMemoryStore()
	vstore := verification.NewMemoryStore()
	sender := &captureSender{}

	tokenService, err := tokens.NewService("access-secret", "refresh-secret", tokens.WithClock(clock.Now))
	require.NoError(t, err)
	lockout := guard.NewLockout(guard.NewMemoryLockoutStore(), guard.WithLockoutClock(clock.Now))

	svc := NewService(Deps{
		Users:   userStore,
		Ledger:  verification.NewLedger(vstore, verification.WithClock(clock.Now)),
		Tokens:  tokenService,
		Lockout: lockout,
		Sender:  sender,
		Now:     clock.Now,
	})

	return &fixture{
		svc:     svc,
		users:   userStore,
		vstore:  vstore,
		tokens:  tokenService,
		clock:   clock,
		sender:  sender,
		lockout: lockout,
	}
}

func registerInput(email string) RegisterInput {
	return RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Jane",
		LastName:  "Doe",
		StudentID: "S1234567",
	}
}

// verify runs the send and check steps for email.
func (f *fixture) verify(t *testing.T, email string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.SendVerification(ctx, EmailInput{Email: email}))
	code := f.sender.code(email)
	require.Len(t, code, 6)
	require.NoError(t, f.svc.VerifyCode(ctx, VerifyCodeInput{Email: email, Code: code}))
}

func (f *fixture) register(t *testing.T, email string) users.PublicUser {
	t.Helper()
	f.verify(t, email)
	user, err := f.svc.Register(context.Background(), registerInput(email))
	require.NoError(t, err)
	return user
}

func wrongCode(code string) string {
	if code == "111111" {
		return "222222"
	}
	return "111111"
}

var errSendFailed = errors.New("smtp unavailable")
