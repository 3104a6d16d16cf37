package phases

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"eic-pathway/internal/auth"
	"eic-pathway/internal/observability"
	"eic-pathway/internal/response"
	"eic-pathway/internal/users"
)

const maxJSONBodyBytes = 64 << 10

type Handler struct {
	machine *Machine
	logger  *observability.Logger
}

func NewHandler(machine *Machine, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{machine: machine, logger: logger}
}

type phaseSummary struct {
	Number    int        `json:"number"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	Goal      string     `json:"goal"`
	Unlock    UnlockRule `json:"unlock"`
	TotalXP   int        `json:"totalXp"`
	TaskCount int        `json:"taskCount"`
	Tasks     []Task     `json:"tasks"`
}

// completeRequest accepts either the content layer's boolean verdict or the
// raw task statuses, which are then checked against the catalog.
type completeRequest struct {
	RequiredTasksSatisfied *bool                 `json:"requiredTasksSatisfied"`
	TaskStatuses           map[string]TaskStatus `json:"taskStatuses"`
}

type unlockRequest struct {
	Code string `json:"code"`
}

type currentPhaseRequest struct {
	CurrentPhase int `json:"currentPhase"`
}

func (h *Handler) ListPhases(w http.ResponseWriter, r *http.Request) {
	catalog := h.machine.Catalog()
	out := make([]phaseSummary, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, phaseSummary{
			Number:    p.Number,
			Slug:      p.Slug,
			Title:     p.Title,
			Goal:      p.Goal,
			Unlock:    p.Unlock,
			TotalXP:   p.TotalXP(),
			TaskCount: len(p.Tasks),
			Tasks:     p.Tasks,
		})
	}
	response.JSON(w, http.StatusOK, "", map[string]any{"phases": out})
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	snapshot, err := h.machine.Progress(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "get_progress")
		return
	}
	response.JSON(w, http.StatusOK, "", snapshot)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	phase, ok := phaseParam(w, r)
	if !ok {
		return
	}

	var body completeRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	var satisfied bool
	switch {
	case body.RequiredTasksSatisfied != nil:
		satisfied = *body.RequiredTasksSatisfied
	case body.TaskStatuses != nil:
		def, found := h.machine.Catalog().Lookup(phase)
		if !found {
			h.writeError(w, r, ErrUnknownPhase, "complete_phase")
			return
		}
		satisfied = def.RequirementsMet(body.TaskStatuses)
	default:
		response.Error(w, http.StatusBadRequest, response.StatusValidation, "requiredTasksSatisfied or taskStatuses is required")
		return
	}

	snapshot, err := h.machine.Complete(r.Context(), userID, phase, satisfied)
	if err != nil {
		h.writeError(w, r, err, "complete_phase")
		return
	}
	response.JSON(w, http.StatusOK, "phase completed", snapshot)
}

func (h *Handler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	phase, ok := phaseParam(w, r)
	if !ok {
		return
	}

	var body unlockRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.machine.SubmitCode(r.Context(), SubmitInput{
		UserID:   userID,
		Phase:    phase,
		Code:     body.Code,
		ClientIP: observability.ClientIP(r),
	})
	if err != nil {
		h.writeError(w, r, err, "submit_unlock_code")
		return
	}

	message := "next phase unlocked"
	if result.Outcome == OutcomeAlreadyUnlocked {
		message = "next phase already unlocked"
	}
	response.JSON(w, http.StatusOK, message, result)
}

func (h *Handler) SetCurrentPhase(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var body currentPhaseRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	snapshot, err := h.machine.SetCurrentPhase(r.Context(), userID, body.CurrentPhase)
	if err != nil {
		h.writeError(w, r, err, "set_current_phase")
		return
	}
	response.JSON(w, http.StatusOK, "current phase updated successfully", snapshot)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	switch {
	case errors.Is(err, ErrUnknownPhase):
		response.Error(w, http.StatusNotFound, response.StatusNotFound, err.Error())
	case errors.Is(err, users.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.StatusNotFound, "user not found")
	case errors.Is(err, ErrInvalidUnlockCode):
		response.Error(w, http.StatusBadRequest, response.StatusInvalidUnlockCode, err.Error())
	case errors.Is(err, ErrPhaseLocked),
		errors.Is(err, ErrRequirementsNotMet),
		errors.Is(err, ErrPhaseNotCompleted),
		errors.Is(err, ErrTerminalPhase):
		response.Error(w, http.StatusConflict, response.StatusPhaseConflict, err.Error())
	default:
		observability.CaptureError(err, operation)
		h.logger.Error("phase_request_failed", map[string]any{
			"operation": operation,
			"path":      r.URL.Path,
			"error":     err,
		})
		response.Error(w, http.StatusInternalServerError, response.StatusInternal, "internal server error")
	}
}

func phaseParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	phase, err := strconv.Atoi(chi.URLParam(r, "phase"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.StatusValidation, "phase must be a number")
		return 0, false
	}
	return phase, true
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
