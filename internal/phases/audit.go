package phases

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEvent records one unlock-code submission, accepted or not. Accepting a
// code stands for a staff decision, so every attempt is kept.
type AuditEvent struct {
	ID            string
	UserID        string
	Phase         int
	Outcome       string
	SubmittedCode string
	ClientIP      string
	CreatedAt     time.Time
}

type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
}

type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryAuditStore) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

type PostgresAuditStore struct {
	db *sql.DB
}

func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

func (s *PostgresAuditStore) Record(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate audit id: %w", err)
		}
		event.ID = id.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unlock_events (id, user_id, phase, outcome, submitted_code, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.UserID, event.Phase, event.Outcome, event.SubmittedCode, event.ClientIP, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert unlock event: %w", err)
	}
	return nil
}
