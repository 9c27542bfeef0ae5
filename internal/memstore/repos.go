package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/webhook"
)

// Hours implements schedule.HoursStore.
type Hours struct{ s *Store }

var _ schedule.HoursStore = (*Hours)(nil)

func (h *Hours) Get(_ context.Context, _ db.Querier, doctorID uuid.UUID) (*schedule.BusinessHours, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	bh, ok := h.s.hours[doctorID]
	if !ok {
		return nil, schedule.ErrBusinessHoursNotFound
	}
	return &bh, nil
}

func (h *Hours) Upsert(_ context.Context, _ db.Querier, bh schedule.BusinessHours) (*schedule.BusinessHours, error) {
	if err := bh.Validate(); err != nil {
		return nil, err
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	bh.UpdatedAt = h.s.now()
	h.s.hours[bh.DoctorID] = bh
	return &bh, nil
}

// Appointments implements appointment.Repository.
type Appointments struct{ s *Store }

var _ appointment.Repository = (*Appointments)(nil)

func (r *Appointments) Create(_ context.Context, _ db.Querier, a *appointment.Appointment) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.appts {
		if other.DoctorID != a.DoctorID || !other.Date.Equal(a.Date) || !other.Status.Occupies() {
			continue
		}
		if other.StartTime == a.StartTime {
			return nil, conflict("appointments_doctor_day_start_uniq")
		}
		if other.Interval().Overlaps(a.Interval()) {
			return nil, exclusion("appointments_no_overlap")
		}
	}

	row := *a
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = r.s.now()
	row.UpdatedAt = row.CreatedAt
	r.s.appts[row.ID] = row
	return &row, nil
}

func (r *Appointments) Get(_ context.Context, _ db.Querier, id uuid.UUID) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *Appointments) GetForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*appointment.Appointment, error) {
	return r.Get(ctx, q, id)
}

func (r *Appointments) ListByUser(_ context.Context, _ db.Querier, userID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []appointment.Appointment{}
	for _, a := range r.s.appts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b appointment.Appointment) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return int(b.StartTime) - int(a.StartTime)
	})
	if offset >= len(out) {
		return []appointment.Appointment{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Appointments) Update(_ context.Context, _ db.Querier, a *appointment.Appointment) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.appts[a.ID]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	for id, other := range r.s.appts {
		if id == a.ID || other.DoctorID != a.DoctorID || !other.Date.Equal(a.Date) || !other.Status.Occupies() {
			continue
		}
		if other.Interval().Overlaps(a.Interval()) {
			return nil, exclusion("appointments_no_overlap")
		}
	}
	row := *a
	row.Status = cur.Status
	row.CreatedAt = cur.CreatedAt
	row.UpdatedAt = r.s.now()
	r.s.appts[row.ID] = row
	return &row, nil
}

func (r *Appointments) UpdateStatus(_ context.Context, _ db.Querier, id uuid.UUID, from, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appts[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrInvalidStatusTransition
	}
	a.Status = to
	a.UpdatedAt = r.s.now()
	r.s.appts[id] = a
	return &a, nil
}

func (r *Appointments) FindOverlapping(_ context.Context, _ db.Querier, doctorID uuid.UUID, day time.Time, excludeID *uuid.UUID) ([]appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []appointment.Appointment{}
	for _, a := range r.s.appts {
		if a.DoctorID != doctorID || !a.Date.Equal(day) || !a.Status.Occupies() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b appointment.Appointment) int {
		return int(a.StartTime) - int(b.StartTime)
	})
	return out, nil
}

func (r *Appointments) BookedIntervals(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time, excludeID *uuid.UUID) ([]schedule.Interval, error) {
	appts, err := r.FindOverlapping(ctx, q, doctorID, day, excludeID)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Interval, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.Interval())
	}
	return out, nil
}

func (r *Appointments) FindStalePending(_ context.Context, _ db.Querier, createdBefore time.Time, limit int) ([]appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []appointment.Appointment{}
	for _, a := range r.s.appts {
		if a.Status != appointment.StatusPending || !a.CreatedAt.Before(createdBefore) {
			continue
		}
		progressed := false
		for _, p := range r.s.payments {
			if p.AppointmentID != nil && *p.AppointmentID == a.ID &&
				(p.Status.IsPaid() || p.Status == payment.StatusInProcess) {
				progressed = true
			}
		}
		if !progressed {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b appointment.Appointment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Appointments) InsertHistory(_ context.Context, _ db.Querier, h appointment.History) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.CreatedAt = r.s.now()
	r.s.history = append(r.s.history, h)
	return nil
}

// LockDoctorDay is a no-op; transactions are already serialized.
func (r *Appointments) LockDoctorDay(context.Context, db.Querier, uuid.UUID, time.Time) error {
	return nil
}

// Payments implements the payment and subscription repositories.
type Payments struct{ s *Store }

var (
	_ appointment.PaymentStore       = (*Payments)(nil)
	_ webhook.PaymentRepository      = (*Payments)(nil)
	_ webhook.SubscriptionRepository = (*Payments)(nil)
)

func (r *Payments) Create(_ context.Context, _ db.Querier, p *payment.Payment) (*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.payments {
		if p.MercadoPagoID != nil && other.MercadoPagoID != nil && *p.MercadoPagoID == *other.MercadoPagoID {
			return nil, conflict("payments_mercado_pago_id_key")
		}
		if p.AppointmentID != nil && other.AppointmentID != nil && *p.AppointmentID == *other.AppointmentID {
			return nil, conflict("payments_appointment_uniq")
		}
	}
	row := *p
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = r.s.now()
	row.UpdatedAt = row.CreatedAt
	r.s.payments[row.ID] = row
	return &row, nil
}

func (r *Payments) find(match func(payment.Payment) bool) (*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if match(p) {
			return &p, nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (r *Payments) GetByID(_ context.Context, _ db.Querier, id uuid.UUID, _ bool) (*payment.Payment, error) {
	return r.find(func(p payment.Payment) bool { return p.ID == id })
}

func (r *Payments) GetByGatewayID(_ context.Context, _ db.Querier, gatewayID string, _ bool) (*payment.Payment, error) {
	return r.find(func(p payment.Payment) bool { return p.MercadoPagoID != nil && *p.MercadoPagoID == gatewayID })
}

func (r *Payments) GetByAppointmentID(_ context.Context, _ db.Querier, appointmentID uuid.UUID, _ bool) (*payment.Payment, error) {
	return r.find(func(p payment.Payment) bool { return p.AppointmentID != nil && *p.AppointmentID == appointmentID })
}

func (r *Payments) UpdateStatus(_ context.Context, _ db.Querier, id uuid.UUID, status payment.Status, paidAt *time.Time, gatewayID *string) (*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	p.Status = status
	if paidAt != nil {
		p.PaidAt = paidAt
	}
	if gatewayID != nil {
		p.MercadoPagoID = gatewayID
	}
	p.UpdatedAt = r.s.now()
	r.s.payments[id] = p
	return &p, nil
}

func (r *Payments) SetPreference(_ context.Context, _ db.Querier, id uuid.UUID, preferenceID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return payment.ErrPaymentNotFound
	}
	p.PreferenceID = &preferenceID
	r.s.payments[id] = p
	return nil
}

func (r *Payments) UpsertSubscription(_ context.Context, _ db.Querier, sub *payment.Subscription) (*payment.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for id, cur := range r.s.subs {
		if cur.UserID != sub.UserID {
			continue
		}
		if cur.Status == payment.SubscriptionActive {
			return nil, payment.ErrSubscriptionActive
		}
		cur.PreapprovalID = sub.PreapprovalID
		cur.PlanName = sub.PlanName
		cur.Amount = sub.Amount
		cur.Currency = sub.Currency
		cur.Status = sub.Status
		cur.UpdatedAt = now
		r.s.subs[id] = cur
		return &cur, nil
	}
	row := *sub
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt, row.UpdatedAt = now, now
	r.s.subs[row.ID] = row
	return &row, nil
}

func (r *Payments) GetSubscriptionByUser(_ context.Context, _ db.Querier, userID uuid.UUID) (*payment.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subs {
		if sub.UserID == userID {
			return &sub, nil
		}
	}
	return nil, payment.ErrSubscriptionNotFound
}

func (r *Payments) GetSubscriptionByPreapproval(_ context.Context, _ db.Querier, preapprovalID string, _ bool) (*payment.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subs {
		if sub.PreapprovalID != nil && *sub.PreapprovalID == preapprovalID {
			return &sub, nil
		}
	}
	return nil, payment.ErrSubscriptionNotFound
}

func (r *Payments) UpdateSubscriptionStatus(_ context.Context, _ db.Querier, id uuid.UUID, status payment.SubscriptionStatus) (*payment.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subs[id]
	if !ok {
		return nil, payment.ErrSubscriptionNotFound
	}
	sub.Status = status
	sub.UpdatedAt = r.s.now()
	r.s.subs[id] = sub
	return &sub, nil
}

// Events implements webhook.Ledger.
type Events struct{ s *Store }

var _ webhook.Ledger = (*Events)(nil)

func (r *Events) Touch(_ context.Context, _ db.Querier, eventID, typ, action string) (webhook.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventID]
	if !ok {
		e = webhook.Event{EventID: eventID, Type: typ, Action: action}
	}
	e.Attempts++
	r.s.events[eventID] = e
	return e, nil
}

func (r *Events) LockForUpdate(_ context.Context, _ db.Querier, eventID string) (webhook.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventID]
	if !ok {
		return webhook.Event{}, webhook.ErrEventNotFound
	}
	return e, nil
}

func (r *Events) MarkProcessed(_ context.Context, _ db.Querier, eventID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventID]
	if !ok {
		return webhook.ErrEventNotFound
	}
	now := r.s.now()
	e.Processed = true
	e.ProcessedAt = &now
	e.LastError = nil
	r.s.events[eventID] = e
	return nil
}

func (r *Events) RecordFailure(_ context.Context, _ db.Querier, eventID, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventID]
	if !ok {
		return nil
	}
	e.LastError = &message
	r.s.events[eventID] = e
	return nil
}
