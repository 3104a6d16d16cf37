package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"eic-pathway/internal/guard"
	"eic-pathway/internal/observability"
	"eic-pathway/internal/tokens"
	"eic-pathway/internal/users"
	"eic-pathway/internal/verification"
)

type Deps struct {
	Users          users.Store
	Ledger         *verification.Ledger
	Tokens         *tokens.Service
	Lockout        *guard.Lockout
	Sender         verification.Sender
	Logger         *observability.Logger
	AllowedDomains []string
	Now            func() time.Time
}

type Service struct {
	users   users.Store
	ledger  *verification.Ledger
	tokens  *tokens.Service
	lockout *guard.Lockout
	sender  verification.Sender
	logger  *observability.Logger
	domains []string
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type LoginResult struct {
	User users.PublicUser `json:"user"`
	tokens.Pair
}

func NewService(deps Deps) *Service {
	s := &Service{
		users:   deps.Users,
		ledger:  deps.Ledger,
		tokens:  deps.Tokens,
		lockout: deps.Lockout,
		sender:  deps.Sender,
		logger:  deps.Logger,
		domains: deps.AllowedDomains,
		now:     deps.Now,
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	if s.sender == nil {
		s.sender = verification.NewLogSender(s.logger)
	}
	if len(s.domains) == 0 {
		s.domains = DefaultAllowedDomains
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// SendVerification issues a code for an unregistered address and hands it to
// the sender. A delivery failure is logged but the code stays valid.
func (s *Service) SendVerification(ctx context.Context, in EmailInput) error {
	in.normalize()
	if err := asValidationError(in.Validate(s.domains)); err != nil {
		return err
	}

	if err := s.ensureAvailable(ctx, in.Email); err != nil {
		return err
	}

	code, err := s.ledger.Issue(ctx, in.Email)
	if err != nil {
		return err
	}

	if err := s.sender.Send(ctx, in.Email, code); err != nil {
		observability.CaptureError(err, "send_verification_code")
		s.logger.Warn("verification_delivery_failed", map[string]any{
			"email": in.Email,
			"error": err,
		})
	}
	return nil
}

func (s *Service) VerifyCode(ctx context.Context, in VerifyCodeInput) error {
	in.normalize()
	if err := asValidationError(in.Validate(s.domains)); err != nil {
		return err
	}

	return s.checkCode(ctx, in.Email, in.Code)
}

func (s *Service) checkCode(ctx context.Context, email, code string) error {
	outcome, err := s.ledger.Check(ctx, email, code)
	if err != nil {
		return err
	}

	switch outcome {
	case verification.Verified:
		s.logger.Info("email_verified", map[string]any{"email": email})
		return nil
	case verification.Expired:
		return ErrCodeExpired
	case verification.AttemptsExhausted:
		return ErrAttemptsExhausted
	default:
		return ErrInvalidCode
	}
}

// CheckEmail reports whether an address may be used for a new account.
func (s *Service) CheckEmail(ctx context.Context, in EmailInput) error {
	in.normalize()
	if err := asValidationError(in.Validate(s.domains)); err != nil {
		return err
	}
	return s.ensureAvailable(ctx, in.Email)
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (users.PublicUser, error) {
	in.normalize()
	if err := asValidationError(in.Validate(s.domains)); err != nil {
		return users.PublicUser{}, err
	}

	if err := s.ensureAvailable(ctx, in.Email); err != nil {
		return users.PublicUser{}, err
	}

	// Hash before spending the verification so a hashing failure leaves it usable.
	hash, err := users.HashPassword(in.Password)
	if err != nil {
		return users.PublicUser{}, err
	}

	outcome, err := s.ledger.ConsumeIfFresh(ctx, in.Email)
	if err != nil {
		return users.PublicUser{}, err
	}
	// A code sent along with the registration stands in for a separate verify-code call.
	if outcome == verification.NotVerified && in.VerificationCode != "" {
		if err := s.checkCode(ctx, in.Email, in.VerificationCode); err != nil {
			return users.PublicUser{}, err
		}
		if outcome, err = s.ledger.ConsumeIfFresh(ctx, in.Email); err != nil {
			return users.PublicUser{}, err
		}
	}
	switch outcome {
	case verification.Verified:
	case verification.Stale:
		return users.PublicUser{}, ErrVerificationStale
	default:
		return users.PublicUser{}, ErrEmailNotVerified
	}

	user, err := s.users.Create(ctx, users.Profile{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		StudentID: in.StudentID,
	}, hash)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return users.PublicUser{}, ErrDuplicateEmail
		}
		return users.PublicUser{}, err
	}

	s.logger.Info("user_registered", map[string]any{"user_id": user.ID})
	return user.Public(), nil
}

// Login checks the lock before touching the credential store and answers
// unknown addresses and wrong passwords with the same error.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	in.normalize()
	if err := asValidationError(in.Validate()); err != nil {
		return LoginResult{}, err
	}

	locked, until, err := s.lockout.IsLocked(ctx, in.Email)
	if err != nil {
		return LoginResult{}, err
	}
	if locked {
		return LoginResult{}, ErrAccountLocked{Until: until}
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			return LoginResult{}, err
		}
		_ = users.ComparePassword(s.dummyPasswordHash(), in.Password)
		return LoginResult{}, s.failLogin(ctx, in.Email)
	}

	if err := users.ComparePassword(user.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, users.ErrPasswordMismatch) {
			return LoginResult{}, err
		}
		return LoginResult{}, s.failLogin(ctx, in.Email)
	}

	if err := s.lockout.RecordSuccess(ctx, in.Email); err != nil {
		return LoginResult{}, err
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now()
	hash := tokens.HashToken(pair.RefreshToken)
	if err := s.users.SetRefreshToken(ctx, user.ID, &hash, &now); err != nil {
		return LoginResult{}, err
	}
	user.LastLoginAt = &now

	s.logger.Info("login_succeeded", map[string]any{"user_id": user.ID})
	return LoginResult{User: user.Public(), Pair: pair}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (tokens.Pair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return tokens.Pair{}, ErrInvalidRefreshToken
	}
	return s.tokens.Rotate(ctx, s.users, refreshToken)
}

// Logout revokes the stored refresh token. Access tokens stay valid until
// they expire.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	userID, err := s.tokens.VerifyRefresh(strings.TrimSpace(refreshToken))
	if err != nil {
		return ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return err
	}
	if user.RefreshTokenHash == nil || *user.RefreshTokenHash != tokens.HashToken(strings.TrimSpace(refreshToken)) {
		return ErrInvalidRefreshToken
	}

	if err := s.users.SetRefreshToken(ctx, userID, nil, nil); err != nil {
		return err
	}
	s.logger.Info("logout", map[string]any{"user_id": userID})
	return nil
}

// Profile returns the requester's own record. Reading another user's profile
// is forbidden.
func (s *Service) Profile(ctx context.Context, requesterID, userID string) (users.PublicUser, error) {
	if requesterID != userID {
		return users.PublicUser{}, ErrForbidden
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return users.PublicUser{}, ErrNotFound
		}
		return users.PublicUser{}, err
	}
	return user.Public(), nil
}

// SetAssessmentLevel records the self-assessment result. It never changes
// which phases are unlocked.
func (s *Service) SetAssessmentLevel(ctx context.Context, userID, level string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	if !slices.Contains(AssessmentLevels, level) {
		return &ValidationError{Fields: map[string]string{
			"assessmentLevel": "must be one of " + strings.Join(AssessmentLevels, ", "),
		}}
	}

	if err := s.users.SetAssessmentLevel(ctx, userID, level); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Service) ensureAvailable(ctx context.Context, email string) error {
	_, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrDuplicateEmail
	case errors.Is(err, users.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *Service) failLogin(ctx context.Context, email string) error {
	attempts, err := s.lockout.RecordFailure(ctx, email)
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	s.logger.Warn("login_failed", map[string]any{
		"email":    email,
		"failures": attempts.Count,
	})
	return ErrInvalidCredentials
}

// dummyPasswordHash lets logins for unknown addresses pay the same bcrypt
// cost as real ones.
func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := users.HashPassword("placeholder-password-never-matches")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}
