package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/metrics"
)

// Outcome is how a delivery ended. Everything except OutcomeFailed is
// acknowledged to the gateway.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeFailed    Outcome = "failed"
)

// Applier is the part of the Reconciler the Ingestor drives.
type Applier interface {
	Fetch(ctx context.Context, kind EventKind, id string) (Resource, error)
	Apply(ctx context.Context, q db.Querier, res Resource) (Result, error)
}

// Ingestor runs authenticated notifications through the dedup ledger and
// into the reconciler.
type Ingestor struct {
	db          db.Querier
	tx          db.TxRunner
	ledger      Ledger
	applier     Applier
	maxAttempts int
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

type IngestorDeps struct {
	DB          db.Querier
	Tx          db.TxRunner
	Ledger      Ledger
	Applier     Applier
	MaxAttempts int
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

func NewIngestor(d IngestorDeps) *Ingestor {
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Ingestor{
		db:          d.DB,
		tx:          d.Tx,
		ledger:      d.Ledger,
		applier:     d.Applier,
		maxAttempts: maxAttempts,
		metrics:     d.Metrics,
		log:         d.Logger.With().Str("component", "webhook").Logger(),
	}
}

// Ingest processes one delivery. A non-nil error always comes with
// OutcomeFailed and means the gateway should redeliver.
func (i *Ingestor) Ingest(ctx context.Context, env Envelope) (Outcome, error) {
	start := time.Now()
	kind := env.Kind()
	outcome, err := i.ingest(ctx, env, kind)
	i.metrics.ObserveWebhook(string(kind), string(outcome), time.Since(start).Seconds())
	return outcome, err
}

func (i *Ingestor) ingest(ctx context.Context, env Envelope, kind EventKind) (Outcome, error) {
	eventID := env.EventID()
	log := i.log.With().Str("event_id", eventID).Str("kind", string(kind)).Str("action", env.Action).Logger()

	rec, err := i.ledger.Touch(ctx, i.db, eventID, env.Type, env.Action)
	if err != nil {
		return OutcomeFailed, err
	}
	if rec.Processed {
		log.Debug().Int("attempts", rec.Attempts).Msg("duplicate delivery")
		return OutcomeDuplicate, nil
	}
	if rec.Attempts > i.maxAttempts {
		log.Error().Bool("alert", true).Int("attempts", rec.Attempts).Msg("webhook event exhausted, discarding")
		return OutcomeExhausted, nil
	}
	if kind == KindUnknown {
		log.Info().Str("type", env.Type).Msg("webhook topic ignored")
		return OutcomeIgnored, nil
	}

	res, err := i.applier.Fetch(ctx, kind, env.DataID())
	if err != nil {
		i.recordFailure(ctx, log, eventID, err)
		return OutcomeFailed, err
	}

	outcome := OutcomeFailed
	err = i.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		locked, err := i.ledger.LockForUpdate(ctx, q, eventID)
		if err != nil {
			return fmt.Errorf("lock webhook event: %w", err)
		}
		if locked.Processed {
			outcome = OutcomeDuplicate
			return nil
		}

		result, err := i.applier.Apply(ctx, q, res)
		if err != nil {
			return err
		}
		if result.Terminal() {
			if err := i.ledger.MarkProcessed(ctx, q, eventID); err != nil {
				return err
			}
		}
		outcome = outcomeFor(result)
		return nil
	})
	if err != nil {
		i.recordFailure(ctx, log, eventID, err)
		return OutcomeFailed, err
	}

	log.Info().Str("outcome", string(outcome)).Int("attempts", rec.Attempts).Msg("webhook processed")
	return outcome, nil
}

func outcomeFor(r Result) Outcome {
	switch r {
	case ResultApplied:
		return OutcomeApplied
	case ResultStale:
		return OutcomeStale
	case ResultUnmatched:
		return OutcomeUnmatched
	case ResultNotApplicable:
		return OutcomeIgnored
	default:
		return OutcomeFailed
	}
}

func (i *Ingestor) recordFailure(ctx context.Context, log zerolog.Logger, eventID string, cause error) {
	log.Error().Err(cause).Msg("webhook processing failed")
	if err := i.ledger.RecordFailure(context.WithoutCancel(ctx), i.db, eventID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("record webhook failure")
	}
}
