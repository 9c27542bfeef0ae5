package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/db"
)

// Reason is the closed set of slot rejection codes.
type Reason string

const (
	ReasonInvalidDate              Reason = "invalid_date"
	ReasonInvalidTime              Reason = "invalid_time"
	ReasonInvalidInterval          Reason = "invalid_interval"
	ReasonBusinessHoursUnavailable Reason = "business_hours_unavailable"
	ReasonDayUnavailable           Reason = "day_unavailable"
	ReasonOutsideOperatingHours    Reason = "outside_operating_hours"
	ReasonLunchConflict            Reason = "lunch_conflict"
	ReasonDurationMismatch         Reason = "duration_mismatch"
	ReasonTimeUnavailable          Reason = "time_unavailable"
)

// Category groups reasons by who is at fault.
type Category int

const (
	CategoryInput Category = iota
	CategoryConflict
	CategoryConfiguration
)

func (r Reason) Category() Category {
	switch r {
	case ReasonInvalidDate, ReasonInvalidTime, ReasonInvalidInterval, ReasonDurationMismatch:
		return CategoryInput
	case ReasonDayUnavailable, ReasonOutsideOperatingHours, ReasonLunchConflict, ReasonTimeUnavailable:
		return CategoryConflict
	case ReasonBusinessHoursUnavailable:
		return CategoryConfiguration
	default:
		panic(fmt.Sprintf("schedule: unknown reason %q", string(r)))
	}
}

// Rejection is returned when a requested window is refused.
type Rejection struct {
	Reason  Reason
	Details map[string]any
}

func (r *Rejection) Error() string {
	return "slot rejected: " + string(r.Reason)
}

func reject(reason Reason, details map[string]any) *Rejection {
	return &Rejection{Reason: reason, Details: details}
}

// NewRejection builds a Rejection for callers that detect a refusal outside
// the Validator, such as a constraint violation on insert.
func NewRejection(reason Reason, details map[string]any) *Rejection {
	return reject(reason, details)
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// HoursStore loads business hours.
type HoursStore interface {
	Get(ctx context.Context, q db.Querier, doctorID uuid.UUID) (*BusinessHours, error)
}

// OccupancySource lists intervals held by PENDING, CONFIRMED or COMPLETED
// appointments of a doctor on a day.
type OccupancySource interface {
	BookedIntervals(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time, excludeID *uuid.UUID) ([]Interval, error)
}

// Request is a candidate appointment window as received from clients.
type Request struct {
	DoctorID  uuid.UUID
	Date      string
	StartTime string
	EndTime   string
	ExcludeID *uuid.UUID
}

// Slot is an accepted window.
type Slot struct {
	DoctorID uuid.UUID
	Date     time.Time
	Interval Interval
}

// Validator decides whether a window can be booked. It never writes.
type Validator struct {
	hours    HoursStore
	occupied OccupancySource
}

func NewValidator(hours HoursStore, occupied OccupancySource) *Validator {
	return &Validator{hours: hours, occupied: occupied}
}

// Validate runs every gate in order and stops at the first failure. Callers
// that intend to write must pass the same transaction they insert with.
func (v *Validator) Validate(ctx context.Context, q db.Querier, req Request) (Slot, error) {
	day, err := ParseDate(req.Date)
	if err != nil {
		return Slot{}, reject(ReasonInvalidDate, map[string]any{"date": req.Date})
	}
	iv, rej := parseInterval(req.StartTime, req.EndTime)
	if rej != nil {
		return Slot{}, rej
	}

	bh, err := v.hours.Get(ctx, q, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrBusinessHoursNotFound) {
			return Slot{}, reject(ReasonBusinessHoursUnavailable, map[string]any{"doctorId": req.DoctorID.String()})
		}
		return Slot{}, fmt.Errorf("load business hours: %w", err)
	}

	if rej := checkHours(bh, day, iv); rej != nil {
		return Slot{}, rej
	}

	booked, err := v.occupied.BookedIntervals(ctx, q, req.DoctorID, day, req.ExcludeID)
	if err != nil {
		return Slot{}, fmt.Errorf("load booked intervals: %w", err)
	}
	if rej := checkCollisions(iv, booked); rej != nil {
		return Slot{}, rej
	}

	return Slot{DoctorID: req.DoctorID, Date: day, Interval: iv}, nil
}

// Check is the pure decision over already-loaded state.
func Check(bh *BusinessHours, day time.Time, iv Interval, booked []Interval) error {
	if iv.End <= iv.Start {
		return reject(ReasonInvalidInterval, nil)
	}
	if rej := checkHours(bh, day, iv); rej != nil {
		return rej
	}
	if rej := checkCollisions(iv, booked); rej != nil {
		return rej
	}
	return nil
}

func parseInterval(start, end string) (Interval, *Rejection) {
	s, err := ParseClock(start)
	if err != nil {
		return Interval{}, reject(ReasonInvalidTime, map[string]any{"startTime": start})
	}
	e, err := ParseClock(end)
	if err != nil {
		return Interval{}, reject(ReasonInvalidTime, map[string]any{"endTime": end})
	}
	if e <= s {
		return Interval{}, reject(ReasonInvalidInterval, map[string]any{"startTime": start, "endTime": end})
	}
	return Interval{Start: s, End: e}, nil
}

func checkHours(bh *BusinessHours, day time.Time, iv Interval) *Rejection {
	if !bh.DayEnabled(day.Weekday()) {
		return reject(ReasonDayUnavailable, map[string]any{"weekday": day.Weekday().String()})
	}
	if !iv.Within(bh.Operating()) {
		return reject(ReasonOutsideOperatingHours, map[string]any{
			"startTime": bh.StartTime.String(),
			"endTime":   bh.EndTime.String(),
		})
	}
	if lunch, ok := bh.Lunch(); ok && iv.Overlaps(lunch) {
		return reject(ReasonLunchConflict, map[string]any{
			"lunchStartTime": lunch.Start.String(),
			"lunchEndTime":   lunch.End.String(),
		})
	}
	if iv.Minutes() != bh.AppointmentDuration {
		return reject(ReasonDurationMismatch, map[string]any{
			"expectedDuration":  bh.AppointmentDuration,
			"requestedDuration": iv.Minutes(),
		})
	}
	return nil
}

func checkCollisions(iv Interval, booked []Interval) *Rejection {
	for _, b := range booked {
		if iv.Overlaps(b) {
			return reject(ReasonTimeUnavailable, map[string]any{"conflictsWith": b.String()})
		}
	}
	return nil
}

// AvailableSlots lists free slot starts for a doctor on a day.
func (v *Validator) AvailableSlots(ctx context.Context, q db.Querier, doctorID uuid.UUID, date string) ([]ClockTime, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, reject(ReasonInvalidDate, map[string]any{"date": date})
	}

	bh, err := v.hours.Get(ctx, q, doctorID)
	if err != nil {
		if errors.Is(err, ErrBusinessHoursNotFound) {
			return nil, reject(ReasonBusinessHoursUnavailable, map[string]any{"doctorId": doctorID.String()})
		}
		return nil, fmt.Errorf("load business hours: %w", err)
	}
	if !bh.DayEnabled(day.Weekday()) {
		return []ClockTime{}, nil
	}

	booked, err := v.occupied.BookedIntervals(ctx, q, doctorID, day, nil)
	if err != nil {
		return nil, fmt.Errorf("load booked intervals: %w", err)
	}
	return FreeSlots(bh, booked), nil
}

// FreeSlots enumerates [start, end) in duration steps, dropping slots that
// touch lunch or an occupied interval. The result is ascending.
func FreeSlots(bh *BusinessHours, booked []Interval) []ClockTime {
	slots := []ClockTime{}
	if bh.AppointmentDuration <= 0 {
		return slots
	}
	lunch, hasLunch := bh.Lunch()

	for t := bh.StartTime; t.Add(bh.AppointmentDuration) <= bh.EndTime; t = t.Add(bh.AppointmentDuration) {
		iv := Interval{Start: t, End: t.Add(bh.AppointmentDuration)}
		if hasLunch && iv.Overlaps(lunch) {
			continue
		}
		if checkCollisions(iv, booked) != nil {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}
