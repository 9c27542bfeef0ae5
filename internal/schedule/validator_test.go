package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/db"
)

type fakeHours struct {
	byDoctor map[uuid.UUID]*BusinessHours
	err      error
}

func (f *fakeHours) Get(_ context.Context, _ db.Querier, doctorID uuid.UUID) (*BusinessHours, error) {
	if f.err != nil {
		return nil, f.err
	}
	bh, ok := f.byDoctor[doctorID]
	if !ok {
		return nil, ErrBusinessHoursNotFound
	}
	return bh, nil
}

type bookedRow struct {
	id       uuid.UUID
	interval Interval
}

type fakeOccupancy struct {
	rows    []bookedRow
	calls   int
	exclude *uuid.UUID
}

func (f *fakeOccupancy) BookedIntervals(_ context.Context, _ db.Querier, _ uuid.UUID, _ time.Time, excludeID *uuid.UUID) ([]Interval, error) {
	f.calls++
	f.exclude = excludeID
	var out []Interval
	for _, r := range f.rows {
		if excludeID != nil && r.id == *excludeID {
			continue
		}
		out = append(out, r.interval)
	}
	return out, nil
}

// weekdays 08:00-18:00, 30 minute slots, no lunch.
func standardHours(doctorID uuid.UUID) *BusinessHours {
	bh := &BusinessHours{
		DoctorID:            doctorID,
		StartTime:           MustClock("08:00"),
		EndTime:             MustClock("18:00"),
		AppointmentDuration: 30,
	}
	for d := time.Monday; d <= time.Friday; d++ {
		bh.Weekdays[d] = true
	}
	return bh
}

const (
	monday = "2026-03-02"
	sunday = "2026-03-01"
)

func newValidator(bh *BusinessHours, rows ...bookedRow) (*Validator, *fakeOccupancy) {
	occ := &fakeOccupancy{rows: rows}
	hours := &fakeHours{byDoctor: map[uuid.UUID]*BusinessHours{bh.DoctorID: bh}}
	return NewValidator(hours, occ), occ
}

func requireReason(t *testing.T, err error, want Reason) *Rejection {
	t.Helper()
	rej, ok := AsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	require.Equal(t, want, rej.Reason)
	return rej
}

func TestValidateAcceptsFreeSlot(t *testing.T) {
	doctorID := uuid.New()
	v, _ := newValidator(standardHours(doctorID))

	slot, err := v.Validate(context.Background(), nil, Request{DoctorID: doctorID, Date: monday, StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)
	assert.Equal(t, MustClock("09:00"), slot.Interval.Start)
	assert.Equal(t, MustClock("09:30"), slot.Interval.End)
	assert.Equal(t, time.Monday, slot.Date.Weekday())
}

func TestValidateRejectsOverlap(t *testing.T) {
	doctorID := uuid.New()
	existing := bookedRow{id: uuid.New(), interval: Interval{Start: MustClock("09:00"), End: MustClock("09:30")}}
	v, _ := newValidator(standardHours(doctorID), existing)

	_, err := v.Validate(context.Background(), nil, Request{DoctorID: doctorID, Date: monday, StartTime: "09:15", EndTime: "09:45"})
	rej := requireReason(t, err, ReasonTimeUnavailable)
	assert.Equal(t, "09:00-09:30", rej.Details["conflictsWith"])

	_, err = v.Validate(context.Background(), nil, Request{DoctorID: doctorID, Date: monday, StartTime: "09:00", EndTime: "10:00"})
	rej = requireReason(t, err, ReasonDurationMismatch)
	assert.Equal(t, 30, rej.Details["expectedDuration"])
}

func TestCheckFifteenMinuteOverlap(t *testing.T) {
	bh := standardHours(uuid.New())
	day, err := ParseDate(monday)
	require.NoError(t, err)

	booked := []Interval{{Start: MustClock("09:00"), End: MustClock("09:30")}}
	err = Check(bh, day, Interval{Start: MustClock("09:15"), End: MustClock("09:45")}, booked)
	requireReason(t, err, ReasonTimeUnavailable)

	err = Check(bh, day, Interval{Start: MustClock("09:30"), End: MustClock("10:00")}, booked)
	assert.NoError(t, err, "touching intervals must not collide")
}

func TestValidateLunchConflict(t *testing.T) {
	doctorID := uuid.New()
	bh := standardHours(doctorID)
	bh.LunchBreakEnabled = true
	bh.LunchStartTime = MustClock("12:00")
	bh.LunchEndTime = MustClock("13:00")
	v, _ := newValidator(bh)

	_, err := v.Validate(context.Background(), nil, Request{DoctorID: doctorID, Date: monday, StartTime: "12:30", EndTime: "13:00"})
	requireReason(t, err, ReasonLunchConflict)

	_, err = v.Validate(context.Background(), nil, Request{DoctorID: doctorID, Date: monday, StartTime: "13:00", EndTime: "13:30"})
	assert.NoError(t, err)
}

func TestValidateDisabledWeekday(t *testing.T) {
	doctorID := uuid.New()
	v, occ := newValidator(standardHours(doctorID))

	_, err := v.Validate(context.Background(), nil, Request{DoctorID: doctorID, Date: sunday, StartTime: "09:00", EndTime: "09:30"})
	requireReason(t, err, ReasonDayUnavailable)
	assert.Zero(t, occ.calls, "collision query must not run after an earlier gate fails")
}

func TestValidateGateOrder(t *testing.T) {
	doctorID := uuid.New()
	v, _ := newValidator(standardHours(doctorID))

	tests := []struct {
		name string
		req  Request
		want Reason
	}{
		{"bad date", Request{Date: "2026-13-01", StartTime: "09:00", EndTime: "09:30"}, ReasonInvalidDate},
		{"bad start", Request{Date: monday, StartTime: "9:00", EndTime: "09:30"}, ReasonInvalidTime},
		{"bad end", Request{Date: monday, StartTime: "09:00", EndTime: "24:00"}, ReasonInvalidTime},
		{"reversed", Request{Date: monday, StartTime: "10:00", EndTime: "09:30"}, ReasonInvalidInterval},
		{"empty", Request{Date: monday, StartTime: "10:00", EndTime: "10:00"}, ReasonInvalidInterval},
		{"before opening", Request{Date: monday, StartTime: "07:30", EndTime: "08:00"}, ReasonOutsideOperatingHours},
		{"past closing", Request{Date: monday, StartTime: "17:45", EndTime: "18:15"}, ReasonOutsideOperatingHours},
		{"too long", Request{Date: monday, StartTime: "09:00", EndTime: "10:00"}, ReasonDurationMismatch},
		{"too short", Request{Date: monday, StartTime: "09:00", EndTime: "09:15"}, ReasonDurationMismatch},
		{"disabled day wins over hours", Request{Date: sunday, StartTime: "07:00", EndTime: "07:10"}, ReasonDayUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.DoctorID = doctorID
			_, err := v.Validate(context.Background(), nil, tt.req)
			requireReason(t, err, tt.want)
		})
	}
}

func TestValidateMissingBusinessHours(t *testing.T) {
	v := NewValidator(&fakeHours{byDoctor: map[uuid.UUID]*BusinessHours{}}, &fakeOccupancy{})

	_, err := v.Validate(context.Background(), nil, Request{DoctorID: uuid.New(), Date: monday, StartTime: "09:00", EndTime: "09:30"})
	rej := requireReason(t, err, ReasonBusinessHoursUnavailable)
	assert.Equal(t, CategoryConfiguration, rej.Reason.Category())
}

func TestValidateStoreFailureIsNotARejection(t *testing.T) {
	boom := errors.New("connection reset")
	v := NewValidator(&fakeHours{err: boom}, &fakeOccupancy{})

	_, err := v.Validate(context.Background(), nil, Request{DoctorID: uuid.New(), Date: monday, StartTime: "09:00", EndTime: "09:30"})
	require.ErrorIs(t, err, boom)
	_, isRejection := AsRejection(err)
	assert.False(t, isRejection)
}

func TestValidateExcludesOwnAppointment(t *testing.T) {
	doctorID := uuid.New()
	ownID := uuid.New()
	own := bookedRow{id: ownID, interval: Interval{Start: MustClock("09:00"), End: MustClock("09:30")}}
	v, occ := newValidator(standardHours(doctorID), own)

	_, err := v.Validate(context.Background(), nil, Request{DoctorID: doctorID, Date: monday, StartTime: "09:00", EndTime: "09:30", ExcludeID: &ownID})
	require.NoError(t, err)
	require.NotNil(t, occ.exclude)
	assert.Equal(t, ownID, *occ.exclude)
}

func TestValidateIsDeterministic(t *testing.T) {
	doctorID := uuid.New()
	existing := bookedRow{id: uuid.New(), interval: Interval{Start: MustClock("10:00"), End: MustClock("10:30")}}
	v, _ := newValidator(standardHours(doctorID), existing)

	req := Request{DoctorID: doctorID, Date: monday, StartTime: "10:00", EndTime: "10:30"}
	_, first := v.Validate(context.Background(), nil, req)
	for i := 0; i < 20; i++ {
		_, err := v.Validate(context.Background(), nil, req)
		assert.Equal(t, first, err)
	}
}

func TestFreeSlots(t *testing.T) {
	bh := standardHours(uuid.New())
	bh.StartTime = MustClock("09:00")
	bh.EndTime = MustClock("12:00")
	bh.LunchBreakEnabled = true
	bh.LunchStartTime = MustClock("10:00")
	bh.LunchEndTime = MustClock("10:30")

	booked := []Interval{{Start: MustClock("11:00"), End: MustClock("11:30")}}
	got := FreeSlots(bh, booked)

	var labels []string
	for _, s := range got {
		labels = append(labels, s.String())
	}
	assert.Equal(t, []string{"09:00", "09:30", "10:30", "11:30"}, labels)
}

func TestFreeSlotsDropsTrailingPartialSlot(t *testing.T) {
	bh := standardHours(uuid.New())
	bh.StartTime = MustClock("09:00")
	bh.EndTime = MustClock("10:15")
	bh.AppointmentDuration = 30

	got := FreeSlots(bh, nil)
	assert.Equal(t, []ClockTime{MustClock("09:00"), MustClock("09:30")}, got)
}

func TestAvailableSlotsDisabledDay(t *testing.T) {
	doctorID := uuid.New()
	v, _ := newValidator(standardHours(doctorID))

	got, err := v.AvailableSlots(context.Background(), nil, doctorID, sunday)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAvailableSlotsAgreeWithValidate(t *testing.T) {
	doctorID := uuid.New()
	bh := standardHours(doctorID)
	bh.LunchBreakEnabled = true
	bh.LunchStartTime = MustClock("12:00")
	bh.LunchEndTime = MustClock("13:00")
	existing := bookedRow{id: uuid.New(), interval: Interval{Start: MustClock("08:30"), End: MustClock("09:00")}}
	v, _ := newValidator(bh, existing)

	slots, err := v.AvailableSlots(context.Background(), nil, doctorID, monday)
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	for _, s := range slots {
		_, err := v.Validate(context.Background(), nil, Request{
			DoctorID:  doctorID,
			Date:      monday,
			StartTime: s.String(),
			EndTime:   s.Add(bh.AppointmentDuration).String(),
		})
		assert.NoError(t, err, "advertised slot %s must validate", s)
	}
}
