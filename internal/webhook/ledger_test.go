package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventCols = []string{"event_id", "type", "action", "attempts", "processed", "processed_at", "last_error"}

func TestPgLedgerTouchCountsAttempts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`ON CONFLICT \(event_id\) DO UPDATE`).
		WithArgs("evt-1", "payment", "payment.updated").
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow("evt-1", "payment", "payment.updated", 2, false, (*time.Time)(nil), (*string)(nil)))

	e, err := NewPgLedger().Touch(context.Background(), mock, "evt-1", "payment", "payment.updated")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Attempts)
	assert.False(t, e.Processed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLedgerLockForUpdateMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FOR UPDATE`).WithArgs("evt-9").WillReturnError(pgx.ErrNoRows)

	_, err = NewPgLedger().LockForUpdate(context.Background(), mock, "evt-9")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestPgLedgerMarkProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SET processed = true`).WithArgs("evt-1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET processed = true`).WithArgs("evt-2").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	l := NewPgLedger()
	require.NoError(t, l.MarkProcessed(context.Background(), mock, "evt-1"))
	assert.ErrorIs(t, l.MarkProcessed(context.Background(), mock, "evt-2"), ErrEventNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLedgerRecordFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SET last_error = \$2`).WithArgs("evt-1", "gateway down").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPgLedger().RecordFailure(context.Background(), mock, "evt-1", "gateway down"))
	require.NoError(t, mock.ExpectationsWereMet())
}
