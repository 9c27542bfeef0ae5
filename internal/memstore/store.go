// Package memstore is an in-memory implementation of the repositories and
// the transaction runner, used by service and handler tests. Transactions
// are serialized and rolled back on error.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/webhook"
)

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	hours    map[uuid.UUID]schedule.BusinessHours
	appts    map[uuid.UUID]appointment.Appointment
	history  []appointment.History
	payments map[uuid.UUID]payment.Payment
	subs     map[uuid.UUID]payment.Subscription
	// events are left out of rollback: Touch commits on its own and
	// MarkProcessed is the last write of a transaction.
	events map[string]webhook.Event

	txCount int
	now     func() time.Time
}

func New() *Store {
	return &Store{
		hours:    map[uuid.UUID]schedule.BusinessHours{},
		appts:    map[uuid.UUID]appointment.Appointment{},
		payments: map[uuid.UUID]payment.Payment{},
		subs:     map[uuid.UUID]payment.Subscription{},
		events:   map[string]webhook.Event{},
		now:      time.Now,
	}
}

// SetNow overrides the clock used for created_at and updated_at.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Hours() *Hours               { return &Hours{s} }
func (s *Store) Appointments() *Appointments { return &Appointments{s} }
func (s *Store) Payments() *Payments         { return &Payments{s} }
func (s *Store) Events() *Events             { return &Events{s} }

var _ db.TxRunner = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	s.txCount++
	hours, appts, payments, subs := maps.Clone(s.hours), maps.Clone(s.appts), maps.Clone(s.payments), maps.Clone(s.subs)
	history := slices.Clone(s.history)
	s.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		s.mu.Lock()
		s.hours, s.appts, s.payments, s.subs, s.history = hours, appts, payments, subs, history
		s.mu.Unlock()
		return err
	}
	return nil
}

// TxCount is the number of transactions started.
func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func conflict(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func exclusion(constraint string) error {
	return &pgconn.PgError{Code: "23P01", ConstraintName: constraint}
}

// Seeding and inspection helpers.

func (s *Store) PutHours(bh schedule.BusinessHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hours[bh.DoctorID] = bh
}

func (s *Store) PutAppointment(a appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.appts[a.ID] = a
}

func (s *Store) PutPayment(p payment.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.payments[p.ID] = p
}

func (s *Store) PutSubscription(sub payment.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subs[sub.ID] = sub
}

func (s *Store) Appointment(id uuid.UUID) (appointment.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	return a, ok
}

func (s *Store) AllAppointments() []appointment.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.appts))
	slices.SortFunc(out, func(a, b appointment.Appointment) int {
		return int(a.StartTime) - int(b.StartTime)
	})
	return out
}

func (s *Store) Payment(id uuid.UUID) (payment.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

func (s *Store) AllPayments() []payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.payments))
}

func (s *Store) Subscription(id uuid.UUID) (payment.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	return sub, ok
}

func (s *Store) History() []appointment.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *Store) Event(id string) (webhook.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	return e, ok
}

func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
