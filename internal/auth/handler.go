package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"eic-pathway/internal/observability"
	"eic-pathway/internal/response"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{service: service, logger: logger}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type assessmentRequest struct {
	AssessmentLevel string `json:"assessmentLevel"`
}

func (h *Handler) SendVerification(w http.ResponseWriter, r *http.Request) {
	var body EmailInput
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.SendVerification(r.Context(), body); err != nil {
		h.writeError(w, r, err, "send_verification")
		return
	}

	response.JSON(w, http.StatusOK, "verification code sent", nil)
}

func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var body VerifyCodeInput
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.VerifyCode(r.Context(), body); err != nil {
		h.writeError(w, r, err, "verify_code")
		return
	}

	response.JSON(w, http.StatusOK, "email verified successfully", nil)
}

func (h *Handler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	var body EmailInput
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.CheckEmail(r.Context(), body); err != nil {
		h.writeError(w, r, err, "check_email")
		return
	}

	response.JSON(w, http.StatusOK, "email is valid and available", map[string]bool{"available": true})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := h.service.Register(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err, "register")
		return
	}

	response.JSON(w, http.StatusCreated, "user created successfully", map[string]any{"user": user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err, "login")
		return
	}

	response.JSON(w, http.StatusOK, "login successful", result)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		h.writeError(w, r, err, "refresh")
		return
	}

	response.JSON(w, http.StatusOK, "token refreshed", pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Logout(r.Context(), body.RefreshToken); err != nil {
		h.writeError(w, r, err, "logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetUser serves GET /users/{id}; only the owner may read it.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	requesterID, _ := UserIDFromContext(r.Context())

	user, err := h.service.Profile(r.Context(), requesterID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "get_user")
		return
	}

	response.JSON(w, http.StatusOK, "", map[string]any{"user": user})
}

func (h *Handler) SetAssessment(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var body assessmentRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.SetAssessmentLevel(r.Context(), userID, body.AssessmentLevel); err != nil {
		h.writeError(w, r, err, "set_assessment")
		return
	}

	response.JSON(w, http.StatusOK, "assessment level updated successfully", nil)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	var validationErr *ValidationError
	var lockedErr ErrAccountLocked

	switch {
	case errors.As(err, &validationErr):
		response.ErrorWithData(w, http.StatusBadRequest, response.StatusValidation, "invalid request", map[string]any{
			"fields": validationErr.Fields,
		})
	case errors.Is(err, ErrDuplicateEmail):
		response.Error(w, http.StatusConflict, response.StatusDuplicateEmail, err.Error())
	case errors.Is(err, ErrEmailNotVerified):
		response.Error(w, http.StatusBadRequest, response.StatusEmailNotVerified, err.Error())
	case errors.Is(err, ErrVerificationStale):
		response.Error(w, http.StatusBadRequest, response.StatusVerificationStale, err.Error())
	case errors.Is(err, ErrInvalidCode):
		response.Error(w, http.StatusBadRequest, response.StatusInvalidCode, err.Error())
	case errors.Is(err, ErrCodeExpired):
		response.Error(w, http.StatusBadRequest, response.StatusCodeExpired, err.Error())
	case errors.Is(err, ErrAttemptsExhausted):
		response.Error(w, http.StatusBadRequest, response.StatusAttemptsExhausted, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, response.StatusInvalidCredentials, err.Error())
	case errors.As(err, &lockedErr):
		response.RetryAfter(w, time.Until(lockedErr.Until))
		response.Error(w, http.StatusLocked, response.StatusAccountLocked, "account temporarily locked, try again later")
	case errors.Is(err, ErrInvalidRefreshToken):
		response.Error(w, http.StatusForbidden, response.StatusInvalidRefreshToken, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(w, http.StatusForbidden, response.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		response.Error(w, http.StatusNotFound, response.StatusNotFound, err.Error())
	default:
		observability.CaptureError(err, operation)
		h.logger.Error("auth_request_failed", map[string]any{
			"operation": operation,
			"path":      r.URL.Path,
			"error":     err,
		})
		response.Error(w, http.StatusInternalServerError, response.StatusInternal, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, response.StatusValidation, "invalid json body")
		return false
	}
	return true
}
