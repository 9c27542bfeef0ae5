package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
)

var ErrEventNotFound = errors.New("webhook event not found")

// Event is one row of the processed-events ledger.
type Event struct {
	EventID     string
	Type        string
	Action      string
	Attempts    int
	Processed   bool
	ProcessedAt *time.Time
	LastError   *string
}

// Ledger is the durable dedup record for gateway notifications.
type Ledger interface {
	// Touch creates the row on first sight or bumps attempts, atomically.
	Touch(ctx context.Context, q db.Querier, eventID, typ, action string) (Event, error)
	LockForUpdate(ctx context.Context, q db.Querier, eventID string) (Event, error)
	MarkProcessed(ctx context.Context, q db.Querier, eventID string) error
	RecordFailure(ctx context.Context, q db.Querier, eventID, message string) error
}

type PgLedger struct{}

func NewPgLedger() *PgLedger {
	return &PgLedger{}
}

var _ Ledger = (*PgLedger)(nil)

const eventColumns = `event_id, type, action, attempts, processed, processed_at, last_error`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.EventID, &e.Type, &e.Action, &e.Attempts, &e.Processed, &e.ProcessedAt, &e.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return e, nil
}

func (l *PgLedger) Touch(ctx context.Context, q db.Querier, eventID, typ, action string) (Event, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO processed_webhook_events (event_id, type, action, attempts)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (event_id) DO UPDATE
		SET attempts = processed_webhook_events.attempts + 1,
		    updated_at = now()
		RETURNING `+eventColumns,
		eventID, typ, action,
	)
	e, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("touch webhook event: %w", err)
	}
	return e, nil
}

func (l *PgLedger) LockForUpdate(ctx context.Context, q db.Querier, eventID string) (Event, error) {
	row := q.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM processed_webhook_events
		WHERE event_id = $1
		FOR UPDATE
	`, eventID)
	return scanEvent(row)
}

func (l *PgLedger) MarkProcessed(ctx context.Context, q db.Querier, eventID string) error {
	tag, err := q.Exec(ctx, `
		UPDATE processed_webhook_events
		SET processed = true, processed_at = now(), last_error = NULL, updated_at = now()
		WHERE event_id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (l *PgLedger) RecordFailure(ctx context.Context, q db.Querier, eventID, message string) error {
	_, err := q.Exec(ctx, `
		UPDATE processed_webhook_events
		SET last_error = $2, updated_at = now()
		WHERE event_id = $1
	`, eventID, message)
	if err != nil {
		return fmt.Errorf("record webhook failure: %w", err)
	}
	return nil
}
