// Package response writes the JSON envelope shared by every endpoint:
// a machine-checkable status, a human-readable message and optional data.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const (
	StatusOK                  = "ok"
	StatusValidation          = "validation_error"
	StatusDuplicateEmail      = "duplicate_email"
	StatusEmailNotVerified    = "email_not_verified"
	StatusVerificationStale   = "verification_stale"
	StatusInvalidCode         = "invalid_code"
	StatusCodeExpired         = "code_expired"
	StatusAttemptsExhausted   = "attempts_exhausted"
	StatusInvalidCredentials  = "invalid_credentials"
	StatusAccountLocked       = "account_locked"
	StatusInvalidRefreshToken = "invalid_refresh_token"
	StatusUnauthorized        = "unauthorized"
	StatusInvalidToken        = "invalid_token"
	StatusForbidden           = "forbidden"
	StatusNotFound            = "not_found"
	StatusRateLimited         = "rate_limited"
	StatusInvalidUnlockCode   = "invalid_unlock_code"
	StatusPhaseConflict       = "phase_conflict"
	StatusInternal            = "internal_error"
)

type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Status: StatusOK, Message: message, Data: data})
}

func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, Envelope{Status: code, Message: message})
}

// ErrorWithData is Error plus a payload, e.g. per-field validation messages.
func ErrorWithData(w http.ResponseWriter, status int, code, message string, data any) {
	write(w, status, Envelope{Status: code, Message: message, Data: data})
}

// RetryAfter sets the Retry-After header, rounding up to at least one second.
func RetryAfter(w http.ResponseWriter, wait time.Duration) {
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
