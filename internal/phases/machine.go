package phases

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"eic-pathway/internal/observability"
	"eic-pathway/internal/users"
)

const DefaultCodePrefix = "EIC"

var (
	ErrUnknownPhase       = errors.New("unknown phase")
	ErrPhaseLocked        = errors.New("phase is locked")
	ErrRequirementsNotMet = errors.New("phase requirements are not met")
	ErrPhaseNotCompleted  = errors.New("complete the phase before submitting its unlock code")
	ErrTerminalPhase      = errors.New("the final phase has no next phase to unlock")
	ErrInvalidUnlockCode  = errors.New("invalid unlock code")
)

type State string

const (
	Locked    State = "locked"
	Unlocked  State = "unlocked"
	Completed State = "completed"
)

type Outcome string

const (
	OutcomeUnlocked        Outcome = "unlocked"
	OutcomeAlreadyUnlocked Outcome = "already_unlocked"
	OutcomeRejected        Outcome = "rejected"
	OutcomeNotCompleted    Outcome = "not_completed"
	OutcomeTerminal        Outcome = "terminal"
	OutcomeUnknownPhase    Outcome = "unknown_phase"
	OutcomeError           Outcome = "error"
)

// ValidCode reports whether code is the staff code for phase: "<prefix>-<phase>",
// compared case-insensitively after trimming.
func ValidCode(prefix string, phase int, code string) bool {
	return strings.EqualFold(strings.TrimSpace(code), fmt.Sprintf("%s-%d", prefix, phase))
}

func StateOf(progress users.Progress, phase int) State {
	switch {
	case progress.IsCompleted(phase):
		return Completed
	case progress.IsUnlocked(phase):
		return Unlocked
	default:
		return Locked
	}
}

type PhaseState struct {
	Number int    `json:"number"`
	Slug   string `json:"slug"`
	Title  string `json:"title"`
	State  State  `json:"state"`
}

type Snapshot struct {
	Progress     users.Progress `json:"progress"`
	CurrentPhase int            `json:"currentPhase"`
	Phases       []PhaseState   `json:"phases"`
}

type SubmitInput struct {
	UserID   string
	Phase    int
	Code     string
	ClientIP string
}

type SubmitResult struct {
	Outcome  Outcome  `json:"outcome"`
	Snapshot Snapshot `json:"snapshot"`
}

type Machine struct {
	users   users.Store
	audit   AuditStore
	catalog Catalog
	prefix  string
	logger  *observability.Logger
	now     func() time.Time
}

type Option func(*Machine)

func WithCodePrefix(prefix string) Option {
	return func(m *Machine) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			m.prefix = prefix
		}
	}
}

func WithCatalog(catalog Catalog) Option {
	return func(m *Machine) {
		if len(catalog) > 0 {
			m.catalog = catalog
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMachine(store users.Store, audit AuditStore, logger *observability.Logger, opts ...Option) *Machine {
	if audit == nil {
		audit = NewMemoryAuditStore()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	m := &Machine{
		users:   store,
		audit:   audit,
		catalog: DefaultCatalog(),
		prefix:  DefaultCodePrefix,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Catalog() Catalog { return m.catalog }

func (m *Machine) Progress(ctx context.Context, userID string) (Snapshot, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.snapshot(user), nil
}

// Complete moves an unlocked phase to completed once the content layer says
// its requirements are satisfied. Completing a completed phase is a no-op.
func (m *Machine) Complete(ctx context.Context, userID string, phase int, satisfied bool) (Snapshot, error) {
	if _, ok := m.catalog.Lookup(phase); !ok {
		return Snapshot{}, ErrUnknownPhase
	}
	if !satisfied {
		return Snapshot{}, ErrRequirementsNotMet
	}

	user, err := m.users.UpdateProgress(ctx, userID, func(u users.User) (users.Progress, int, error) {
		progress := u.Progress.Clone()
		switch StateOf(progress, phase) {
		case Locked:
			return users.Progress{}, 0, ErrPhaseLocked
		case Completed:
			return progress, u.CurrentPhase, nil
		}
		progress.Completed = append(progress.Completed, phase)
		return progress, u.CurrentPhase, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return m.snapshot(user), nil
}

// SubmitCode applies a staff unlock code for a completed phase, unlocking the
// next one. Resubmitting once the next phase is unlocked succeeds without a
// change. A wrong code never touches the stored progress.
func (m *Machine) SubmitCode(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if _, ok := m.catalog.Lookup(in.Phase); !ok {
		m.record(ctx, in, OutcomeUnknownPhase)
		return SubmitResult{}, ErrUnknownPhase
	}

	if !ValidCode(m.prefix, in.Phase, in.Code) {
		m.record(ctx, in, OutcomeRejected)
		m.logger.Warn("unlock_code_rejected", map[string]any{
			"user_id": in.UserID,
			"phase":   in.Phase,
			"ip":      in.ClientIP,
		})
		return SubmitResult{}, ErrInvalidUnlockCode
	}

	if _, ok := m.catalog.Lookup(in.Phase + 1); !ok {
		m.record(ctx, in, OutcomeTerminal)
		return SubmitResult{}, ErrTerminalPhase
	}

	outcome := OutcomeUnlocked
	user, err := m.users.UpdateProgress(ctx, in.UserID, func(u users.User) (users.Progress, int, error) {
		progress := u.Progress.Clone()
		if !progress.IsCompleted(in.Phase) {
			return users.Progress{}, 0, ErrPhaseNotCompleted
		}
		if progress.IsUnlocked(in.Phase + 1) {
			outcome = OutcomeAlreadyUnlocked
			return progress, u.CurrentPhase, nil
		}
		outcome = OutcomeUnlocked
		progress.Unlocked = append(progress.Unlocked, in.Phase+1)
		return progress, in.Phase + 1, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPhaseNotCompleted):
			m.record(ctx, in, OutcomeNotCompleted)
		case errors.Is(err, users.ErrNotFound):
			// no user row to attach the event to
		default:
			m.record(ctx, in, OutcomeError)
		}
		return SubmitResult{}, err
	}

	m.record(ctx, in, outcome)
	if outcome == OutcomeUnlocked {
		m.logger.Info("phase_unlocked", map[string]any{
			"user_id": in.UserID,
			"phase":   in.Phase + 1,
			"ip":      in.ClientIP,
		})
	}
	return SubmitResult{Outcome: outcome, Snapshot: m.snapshot(user)}, nil
}

// SetCurrentPhase selects which unlocked phase the student is working on.
func (m *Machine) SetCurrentPhase(ctx context.Context, userID string, phase int) (Snapshot, error) {
	if _, ok := m.catalog.Lookup(phase); !ok {
		return Snapshot{}, ErrUnknownPhase
	}

	user, err := m.users.UpdateProgress(ctx, userID, func(u users.User) (users.Progress, int, error) {
		if !u.Progress.IsUnlocked(phase) {
			return users.Progress{}, 0, ErrPhaseLocked
		}
		return u.Progress.Clone(), phase, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return m.snapshot(user), nil
}

func (m *Machine) snapshot(u users.User) Snapshot {
	states := make([]PhaseState, 0, len(m.catalog))
	for _, p := range m.catalog {
		states = append(states, PhaseState{
			Number: p.Number,
			Slug:   p.Slug,
			Title:  p.Title,
			State:  StateOf(u.Progress, p.Number),
		})
	}
	slices.SortFunc(states, func(a, b PhaseState) int { return a.Number - b.Number })

	return Snapshot{
		Progress:     u.Progress.Clone(),
		CurrentPhase: u.CurrentPhase,
		Phases:       states,
	}
}

// record writes the audit trail. An audit failure is reported but does not
// undo a transition that already committed.
func (m *Machine) record(ctx context.Context, in SubmitInput, outcome Outcome) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	event := AuditEvent{
		ID:            id.String(),
		UserID:        in.UserID,
		Phase:         in.Phase,
		Outcome:       string(outcome),
		SubmittedCode: truncate(strings.TrimSpace(in.Code), 64),
		ClientIP:      in.ClientIP,
		CreatedAt:     m.now(),
	}
	if err := m.audit.Record(ctx, event); err != nil {
		observability.CaptureError(err, "record_unlock_event")
		m.logger.Error("unlock_audit_failed", map[string]any{
			"user_id": in.UserID,
			"phase":   in.Phase,
			"outcome": string(outcome),
			"error":   err,
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
