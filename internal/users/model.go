package users

import (
	"slices"
	"time"
)

// Phase numbers run from FirstPhase to LastPhase inclusive.
const (
	FirstPhase = 1
	LastPhase  = 5
)

type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FirstName        string
	LastName         string
	StudentID        string
	CreatedAt        time.Time
	LastLoginAt      *time.Time
	RefreshTokenHash *string
	Progress         Progress
	CurrentPhase     int
	AssessmentLevel  string
}

// Progress holds the completed and unlocked phase sets. Unlocked is prefix-closed
// starting at phase 1 and Completed is always a subset of Unlocked.
type Progress struct {
	Completed []int `json:"completed"`
	Unlocked  []int `json:"unlocked"`
}

type Profile struct {
	Email     string
	FirstName string
	LastName  string
	StudentID string
}

// PublicUser is the only shape of a user that leaves the service.
type PublicUser struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	FirstName       string     `json:"firstName"`
	LastName        string     `json:"lastName"`
	StudentID       string     `json:"studentId"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	Progress        Progress   `json:"progress"`
	CurrentPhase    int        `json:"currentPhase"`
	AssessmentLevel string     `json:"assessmentLevel,omitempty"`
}

func InitialProgress() Progress {
	return Progress{Completed: []int{}, Unlocked: []int{FirstPhase}}
}

func (p Progress) IsUnlocked(phase int) bool {
	return slices.Contains(p.Unlocked, phase)
}

func (p Progress) IsCompleted(phase int) bool {
	return slices.Contains(p.Completed, phase)
}

// Clone returns a deep copy so callers can mutate without aliasing stored slices.
func (p Progress) Clone() Progress {
	out := Progress{
		Completed: append([]int{}, p.Completed...),
		Unlocked:  append([]int{}, p.Unlocked...),
	}
	slices.Sort(out.Completed)
	slices.Sort(out.Unlocked)
	return out
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		StudentID:       u.StudentID,
		CreatedAt:       u.CreatedAt,
		LastLoginAt:     u.LastLoginAt,
		Progress:        u.Progress.Clone(),
		CurrentPhase:    u.CurrentPhase,
		AssessmentLevel: u.AssessmentLevel,
	}
}
