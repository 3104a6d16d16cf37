package phases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresAuditStore_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	event := AuditEvent{
		ID:            "0190a4b2-0000-7000-8000-000000000001",
		UserID:        "0190a4b2-0000-7000-8000-000000000002",
		Phase:         1,
		Outcome:       string(OutcomeUnlocked),
		SubmittedCode: "EIC-1",
		ClientIP:      "10.0.0.1",
		CreatedAt:     at,
	}

	mock.ExpectExec("INSERT INTO unlock_events").
		WithArgs(event.ID, event.UserID, 1, "unlocked", "EIC-1", "10.0.0.1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresAuditStore(db).Record(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditStore_AssignsIDAndWrapsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO unlock_events").
		WithArgs(sqlmock.AnyArg(), "user", 2, "rejected", "nope", "", sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = NewPostgresAuditStore(db).Record(context.Background(), AuditEvent{
		UserID:        "user",
		Phase:         2,
		Outcome:       string(OutcomeRejected),
		SubmittedCode: "nope",
	})
	assert.ErrorContains(t, err, "insert unlock event")
	assert.NoError(t, mock.ExpectationsWereMet())
}
