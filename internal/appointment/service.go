package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

var (
	ErrForbidden          = errors.New("not allowed to act on this appointment")
	ErrSlotBeingBooked    = errors.New("slot is currently being booked, please retry")
	ErrPaymentSetupFailed = errors.New("payment setup failed")
	ErrNotYetEnded        = errors.New("appointment has not ended yet")
)

const (
	defaultCurrency    = "BRL"
	defaultDescription = "Medical appointment"
	staleBatchSize     = 100
)

// FieldError is a malformed request field outside the slot rules.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ChargeApplier applies a gateway payment result to local state.
type ChargeApplier interface {
	ApplyCharge(ctx context.Context, gp payment.GatewayPayment) error
}

type Deps struct {
	DB        db.Querier
	Tx        db.TxRunner
	Repo      Repository
	Payments  PaymentStore
	Validator *schedule.Validator
	Locker    redisclient.Locker
	Gateway   payment.Gateway
	Charges   ChargeApplier
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

type Service struct {
	db        db.Querier
	tx        db.TxRunner
	repo      Repository
	payments  PaymentStore
	ledger    *Ledger
	validator *schedule.Validator
	locker    redisclient.Locker
	gateway   payment.Gateway
	charges   ChargeApplier
	metrics   *metrics.Metrics
	log       zerolog.Logger
	cfg       config.Config
	now       func() time.Time
}

func NewService(d Deps, cfg config.Config) *Service {
	locker := d.Locker
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	loc := cfg.ClinicLocation
	if loc == nil {
		loc = time.UTC
	}
	cfg.ClinicLocation = loc
	return &Service{
		db:        d.DB,
		tx:        d.Tx,
		repo:      d.Repo,
		payments:  d.Payments,
		ledger:    NewLedger(d.Repo, d.Payments),
		validator: d.Validator,
		locker:    locker,
		gateway:   d.Gateway,
		charges:   d.Charges,
		metrics:   d.Metrics,
		log:       d.Logger.With().Str("component", "appointment").Logger(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetCharges wires the applier after construction; the reconciler that
// implements it depends on this service's ledger.
func (s *Service) SetCharges(c ChargeApplier) {
	s.charges = c
}

// Ledger exposes the shared cancel/complete writes.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

type BookInput struct {
	DoctorID        *uuid.UUID
	Date            string
	StartTime       string
	EndTime         string
	Type            string
	PatientName     string
	PatientEmail    *string
	PatientPhone    *string
	Notes           *string
	Amount          float64
	Currency        string
	Description     string
	CardToken       string
	PaymentMethodID string
	Installments    int
}

type Booking struct {
	Appointment *Appointment
	Payment     *payment.Payment
	CheckoutURL string
}

// Book validates the window, creates a PENDING appointment with its PENDING
// payment in one transaction and then sets up the payment at the gateway.
func (s *Service) Book(ctx context.Context, actor Actor, in BookInput) (*Booking, error) {
	typ, err := ParseType(in.Type)
	if err != nil {
		return nil, &FieldError{Field: "type", Message: "must be GENERAL, URGENT or FOLLOWUP"}
	}
	name := strings.TrimSpace(in.PatientName)
	if name == "" {
		return nil, &FieldError{Field: "patientName", Message: "is required"}
	}
	if in.Amount <= 0 {
		return nil, &FieldError{Field: "amount", Message: "must be positive"}
	}
	currency := in.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	description := in.Description
	if description == "" {
		description = defaultDescription
	}
	doctorID := s.cfg.DefaultDoctorID
	if in.DoctorID != nil {
		doctorID = *in.DoctorID
	}
	if doctorID == uuid.Nil {
		return nil, &FieldError{Field: "doctorId", Message: "is required"}
	}

	req := schedule.Request{DoctorID: doctorID, Date: in.Date, StartTime: in.StartTime, EndTime: in.EndTime}

	// Fail fast outside the transaction; the decision that counts is the
	// one repeated under the doctor/day lock below.
	pre, err := s.validator.Validate(ctx, s.db, req)
	if err != nil {
		s.observeBooking(err)
		return nil, err
	}

	var booking Booking
	err = s.locker.WithDoctorDayLock(ctx, doctorID, pre.Date, func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
			if err := s.repo.LockDoctorDay(ctx, q, doctorID, pre.Date); err != nil {
				return err
			}
			slot, err := s.validator.Validate(ctx, q, req)
			if err != nil {
				return err
			}

			appt, err := s.repo.Create(ctx, q, &Appointment{
				UserID:       actor.UserID,
				DoctorID:     doctorID,
				Date:         slot.Date,
				StartTime:    slot.Interval.Start,
				EndTime:      slot.Interval.End,
				Type:         typ,
				Status:       StatusPending,
				PatientName:  name,
				PatientEmail: in.PatientEmail,
				PatientPhone: in.PatientPhone,
				Notes:        in.Notes,
			})
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			pay, err := s.payments.Create(ctx, q, &payment.Payment{
				AppointmentID: &appt.ID,
				Amount:        in.Amount,
				Currency:      currency,
				Status:        payment.StatusPending,
				PayerName:     &name,
				PayerEmail:    in.PatientEmail,
				PayerPhone:    in.PatientPhone,
				Description:   &description,
			})
			if err != nil {
				return fmt.Errorf("create payment: %w", err)
			}

			booking.Appointment = appt
			booking.Payment = pay
			return nil
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		err = ErrSlotBeingBooked
	case db.IsConflict(err):
		err = schedule.NewRejection(schedule.ReasonTimeUnavailable, map[string]any{
			"startTime": in.StartTime,
			"endTime":   in.EndTime,
		})
	}
	s.observeBooking(err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", booking.Appointment.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", booking.Appointment.Date.Format(time.DateOnly)).
		Str("start", booking.Appointment.StartTime.String()).
		Msg("appointment booked")

	if err := s.setupPayment(ctx, &booking, in, description); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *Service) setupPayment(ctx context.Context, b *Booking, in BookInput, description string) error {
	ref := b.Appointment.ID.String()
	payer := payment.Payer{
		Name:  b.Appointment.PatientName,
		Email: deref(in.PatientEmail),
		Phone: deref(in.PatientPhone),
	}

	if in.CardToken != "" {
		gp, err := s.gateway.ChargeCard(ctx, payment.CardChargeRequest{
			ExternalReference: ref,
			IdempotencyKey:    ref,
			Token:             in.CardToken,
			PaymentMethodID:   in.PaymentMethodID,
			Installments:      in.Installments,
			Description:       description,
			Amount:            b.Payment.Amount,
			Payer:             payer,
		})
		if err != nil {
			return s.abandon(ctx, b, err)
		}
		if s.charges != nil {
			if err := s.charges.ApplyCharge(ctx, gp); err != nil {
				s.log.Error().Err(err).
					Str("appointment_id", ref).
					Str("gateway_payment_id", gp.ID).
					Msg("apply card charge failed, waiting for webhook")
			}
		}
		return s.reload(ctx, b)
	}

	pref, err := s.gateway.CreatePreference(ctx, payment.PreferenceRequest{
		ExternalReference: ref,
		Title:             description,
		Amount:            b.Payment.Amount,
		Currency:          b.Payment.Currency,
		Payer:             payer,
	})
	if err != nil {
		return s.abandon(ctx, b, err)
	}
	if err := s.payments.SetPreference(ctx, s.db, b.Payment.ID, pref.ID); err != nil {
		s.log.Error().Err(err).Str("payment_id", b.Payment.ID.String()).Msg("store preference id")
	}
	b.Payment.PreferenceID = &pref.ID
	b.CheckoutURL = pref.InitPoint
	return nil
}

// abandon cancels a booking whose payment could not be set up.
func (s *Service) abandon(ctx context.Context, b *Booking, cause error) error {
	ctx = context.WithoutCancel(ctx)
	err := s.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		appt, err := s.repo.GetForUpdate(ctx, q, b.Appointment.ID)
		if err != nil {
			return err
		}
		pay, err := s.ledger.PaymentFor(ctx, q, appt)
		if err != nil {
			return err
		}
		_, err = s.ledger.Cancel(ctx, q, appt, pay, ReasonPaymentSetupFailed, nil)
		if errors.Is(err, ErrAlreadyCancelled) {
			return nil
		}
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("appointment_id", b.Appointment.ID.String()).Msg("cancel after payment setup failure")
	} else {
		s.metrics.ObserveCancellation(string(ReasonPaymentSetupFailed))
	}
	s.log.Warn().Err(cause).Str("appointment_id", b.Appointment.ID.String()).Msg("payment setup failed")
	return fmt.Errorf("%w: %v", ErrPaymentSetupFailed, cause)
}

func (s *Service) reload(ctx context.Context, b *Booking) error {
	appt, err := s.repo.Get(ctx, s.db, b.Appointment.ID)
	if err != nil {
		return fmt.Errorf("reload appointment: %w", err)
	}
	pay, err := s.payments.GetByAppointmentID(ctx, s.db, appt.ID, false)
	if err != nil {
		return fmt.Errorf("reload payment: %w", err)
	}
	b.Appointment, b.Payment = appt, pay
	return nil
}

type UpdateInput struct {
	Date         *string
	StartTime    *string
	EndTime      *string
	Type         *string
	PatientName  *string
	PatientEmail *string
	PatientPhone *string
	Notes        *string
}

func (in UpdateInput) reschedules(a *Appointment) bool {
	if in.Date != nil {
		d, err := schedule.ParseDate(*in.Date)
		if err != nil || !d.Equal(a.Date) {
			return true
		}
	}
	for _, pair := range []struct {
		in  *string
		cur schedule.ClockTime
	}{{in.StartTime, a.StartTime}, {in.EndTime, a.EndTime}} {
		if pair.in == nil {
			continue
		}
		c, err := schedule.ParseClock(*pair.in)
		if err != nil || c != pair.cur {
			return true
		}
	}
	return false
}

// Update applies a partial edit. The slot rules run again only when the
// date or times actually change, ignoring the appointment's own slot.
func (s *Service) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		appt, err := s.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if !actor.CanAccess(appt) {
			return ErrForbidden
		}
		switch appt.Status {
		case StatusCancelled:
			return ErrAlreadyCancelled
		case StatusCompleted:
			return ErrInvalidStatusTransition
		}

		next := *appt
		if in.Type != nil {
			typ, err := ParseType(*in.Type)
			if err != nil {
				return &FieldError{Field: "type", Message: "must be GENERAL, URGENT or FOLLOWUP"}
			}
			next.Type = typ
		}
		if in.PatientName != nil {
			name := strings.TrimSpace(*in.PatientName)
			if name == "" {
				return &FieldError{Field: "patientName", Message: "must not be empty"}
			}
			next.PatientName = name
		}
		if in.PatientEmail != nil {
			next.PatientEmail = in.PatientEmail
		}
		if in.PatientPhone != nil {
			next.PatientPhone = in.PatientPhone
		}
		if in.Notes != nil {
			next.Notes = in.Notes
		}

		if in.reschedules(appt) {
			req := schedule.Request{
				DoctorID:  appt.DoctorID,
				Date:      pick(in.Date, appt.Date.Format(time.DateOnly)),
				StartTime: pick(in.StartTime, appt.StartTime.String()),
				EndTime:   pick(in.EndTime, appt.EndTime.String()),
				ExcludeID: &appt.ID,
			}
			if day, err := schedule.ParseDate(req.Date); err == nil {
				if err := s.repo.LockDoctorDay(ctx, q, appt.DoctorID, day); err != nil {
					return err
				}
			}
			slot, err := s.validator.Validate(ctx, q, req)
			if err != nil {
				return err
			}
			next.Date = slot.Date
			next.StartTime = slot.Interval.Start
			next.EndTime = slot.Interval.End
		}

		out, err = s.repo.Update(ctx, q, &next)
		return err
	})
	if db.IsConflict(err) {
		err = schedule.NewRejection(schedule.ReasonTimeUnavailable, nil)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel cancels an appointment on behalf of actor. Cancelling an already
// cancelled appointment succeeds without writing.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, note *string) (*Appointment, error) {
	var (
		out    *Appointment
		reason HistoryReason
		noop   bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		appt, err := s.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if !actor.CanAccess(appt) {
			return ErrForbidden
		}
		if appt.Status == StatusCancelled {
			out, noop = appt, true
			return nil
		}

		pay, err := s.ledger.PaymentFor(ctx, q, appt)
		if err != nil {
			return err
		}
		reason = s.cancelReason(actor, appt, pay)
		out, err = s.ledger.Cancel(ctx, q, appt, pay, reason, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !noop {
		s.metrics.ObserveCancellation(string(reason))
		ev := s.log.Info()
		if reason == ReasonRefundReview {
			ev = s.log.Warn().Bool("refund_review", true)
		}
		ev.Str("appointment_id", id.String()).Str("reason", string(reason)).Msg("appointment cancelled")
	}
	return out, nil
}

// cancelReason tags short-notice cancellations of paid appointments for
// manual refund review.
func (s *Service) cancelReason(actor Actor, appt *Appointment, pay *payment.Payment) HistoryReason {
	if pay != nil && pay.Status.IsPaid() {
		notice := appt.StartsAt(s.cfg.ClinicLocation).Sub(s.now())
		if notice < s.cfg.CancellationCutoff {
			return ReasonRefundReview
		}
	}
	return actor.Role.CancelReason()
}

// Complete marks a confirmed appointment whose window has passed as done.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		appt, err := s.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if appt.Status == StatusConfirmed && s.now().Before(appt.EndsAt(s.cfg.ClinicLocation)) {
			return ErrNotYetEnded
		}
		pay, err := s.ledger.PaymentFor(ctx, q, appt)
		if err != nil {
			return err
		}
		out, err = s.ledger.Complete(ctx, q, appt, pay)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type Details struct {
	Appointment *Appointment
	Payment     *payment.Payment
}

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Details, error) {
	appt, err := s.repo.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(appt) {
		return nil, ErrForbidden
	}
	pay, err := s.payments.GetByAppointmentID(ctx, s.db, id, false)
	if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return &Details{Appointment: appt, Payment: pay}, nil
}

// ListMine lists the caller's appointments, newest first.
func (s *Service) ListMine(ctx context.Context, actor Actor, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	appts, err := s.repo.ListByUser(ctx, s.db, actor.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	return appts, nil
}

func (s *Service) AvailableSlots(ctx context.Context, doctorID *uuid.UUID, date string) ([]schedule.ClockTime, error) {
	id := s.cfg.DefaultDoctorID
	if doctorID != nil {
		id = *doctorID
	}
	if id == uuid.Nil {
		return nil, &FieldError{Field: "doctorId", Message: "is required"}
	}
	return s.validator.AvailableSlots(ctx, s.db, id, date)
}

// ExpireStalePending cancels PENDING appointments whose payment never
// progressed within PaymentTimeout. It returns how many were cancelled.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PaymentTimeout)
	candidates, err := s.repo.FindStalePending(ctx, s.db, cutoff, staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	expired := 0
	for _, c := range candidates {
		done, err := s.expireOne(ctx, c.ID, cutoff)
		if err != nil {
			s.log.Error().Err(err).Str("appointment_id", c.ID.String()).Msg("expire appointment")
			continue
		}
		if done {
			expired++
			s.metrics.ObservePaymentTimeout()
			s.metrics.ObserveCancellation(string(ReasonTimeoutPayment))
			s.log.Info().Str("appointment_id", c.ID.String()).Msg("appointment cancelled for payment timeout")
		}
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	done := false
	err := s.tx.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		appt, err := s.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		// A webhook may have confirmed it since the candidate scan.
		if appt.Status != StatusPending || !appt.CreatedAt.Before(cutoff) {
			return nil
		}
		pay, err := s.ledger.PaymentFor(ctx, q, appt)
		if err != nil {
			return err
		}
		if pay != nil && (pay.Status.IsPaid() || pay.Status == payment.StatusInProcess) {
			return nil
		}
		if _, err := s.ledger.Cancel(ctx, q, appt, pay, ReasonTimeoutPayment, nil); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

func (s *Service) observeBooking(err error) {
	result := "accepted"
	if err != nil {
		switch rej, ok := schedule.AsRejection(err); {
		case ok:
			result = string(rej.Reason)
		case errors.Is(err, ErrSlotBeingBooked):
			result = "slot_being_booked"
		default:
			result = "error"
		}
	}
	s.metrics.ObserveBooking(result)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pick(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
