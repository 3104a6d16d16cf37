package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"eic-pathway/internal/tokens"
)

var (
	ErrDuplicateEmail      = errors.New("an account with this email already exists")
	ErrEmailNotVerified    = errors.New("email not verified, verify your email first")
	ErrVerificationStale   = errors.New("email verification expired, verify your email again")
	ErrInvalidCode         = errors.New("invalid verification code")
	ErrCodeExpired         = errors.New("verification code has expired, request a new one")
	ErrAttemptsExhausted   = errors.New("too many failed attempts, request a new verification code")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidRefreshToken = tokens.ErrInvalidRefreshToken
	ErrForbidden           = errors.New("access denied")
	ErrNotFound            = errors.New("user not found")
)

type ErrAccountLocked struct {
	Until time.Time
}

func (e ErrAccountLocked) Error() string {
	return "account temporarily locked due to too many failed attempts"
}

// ValidationError carries one message per offending field, keyed by the
// field's JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for field, fieldErr := range fieldErrs {
		out.Fields[field] = fieldErr.Error()
	}
	return out
}
