// Package tokens mints and validates the JWT access/refresh pair. Access and
// refresh tokens are signed with distinct HMAC secrets.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"eic-pathway/internal/users"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSharedSecret        = errors.New("access and refresh secrets must differ")
)

type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// RefreshStore is the slice of the credential store rotation needs.
type RefreshStore interface {
	FindByID(ctx context.Context, id string) (users.User, error)
	RotateRefreshToken(ctx context.Context, id, oldHash, newHash string) error
}

type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

type Option func(*Service)

func WithTTLs(accessTTL, refreshTTL time.Duration) Option {
	return func(s *Service) {
		if accessTTL > 0 {
			s.accessTTL = accessTTL
		}
		if refreshTTL > 0 {
			s.refreshTTL = refreshTTL
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(accessSecret, refreshSecret string, opts ...Option) (*Service, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, ErrSharedSecret
	}

	s := &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Issue mints a new access/refresh pair for userID. The caller persists the
// refresh token's hash.
func (s *Service) Issue(userID string) (Pair, error) {
	access, err := s.sign(userID, typeAccess, s.accessTTL, s.accessSecret)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.sign(userID, typeRefresh, s.refreshTTL, s.refreshSecret)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *Service) VerifyAccess(token string) (string, error) {
	return s.verify(token, typeAccess, s.accessSecret)
}

func (s *Service) VerifyRefresh(token string) (string, error) {
	return s.verify(token, typeRefresh, s.refreshSecret)
}

// Rotate exchanges the current refresh token for a new pair. The presented
// token must decode and equal the one stored on the user; the swap is a
// compare-and-swap, so of two concurrent rotations only one wins.
func (s *Service) Rotate(ctx context.Context, store RefreshStore, oldRefresh string) (Pair, error) {
	userID, err := s.VerifyRefresh(oldRefresh)
	if err != nil {
		return Pair{}, ErrInvalidRefreshToken
	}

	user, err := store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return Pair{}, ErrInvalidRefreshToken
		}
		return Pair{}, err
	}
	oldHash := HashToken(oldRefresh)
	if user.RefreshTokenHash == nil || *user.RefreshTokenHash != oldHash {
		return Pair{}, ErrInvalidRefreshToken
	}

	pair, err := s.Issue(userID)
	if err != nil {
		return Pair{}, err
	}

	if err := store.RotateRefreshToken(ctx, userID, oldHash, HashToken(pair.RefreshToken)); err != nil {
		if errors.Is(err, users.ErrStaleToken) || errors.Is(err, users.ErrNotFound) {
			return Pair{}, ErrInvalidRefreshToken
		}
		return Pair{}, err
	}
	return pair, nil
}

// HashToken is the form in which refresh tokens are persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) sign(userID, tokenType string, ttl time.Duration, secret []byte) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Type: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (s *Service) verify(token, tokenType string, secret []byte) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Type != tokenType || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
