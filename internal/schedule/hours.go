package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusinessHoursNotFound = errors.New("business hours not configured")
	ErrInvalidBusinessHours  = errors.New("invalid business hours")
)

// BusinessHours is a doctor's weekly bookable window.
type BusinessHours struct {
	DoctorID            uuid.UUID
	StartTime           ClockTime
	EndTime             ClockTime
	LunchBreakEnabled   bool
	LunchStartTime      ClockTime
	LunchEndTime        ClockTime
	Weekdays            [7]bool // indexed by time.Weekday
	AppointmentDuration int     // minutes
	UpdatedAt           time.Time
}

func (bh BusinessHours) Operating() Interval {
	return Interval{Start: bh.StartTime, End: bh.EndTime}
}

func (bh BusinessHours) Lunch() (Interval, bool) {
	if !bh.LunchBreakEnabled {
		return Interval{}, false
	}
	return Interval{Start: bh.LunchStartTime, End: bh.LunchEndTime}, true
}

func (bh BusinessHours) DayEnabled(d time.Weekday) bool {
	return bh.Weekdays[d]
}

// Validate checks the configuration invariants.
func (bh BusinessHours) Validate() error {
	if bh.StartTime < 0 || bh.EndTime > minutesPerDay || bh.StartTime >= bh.EndTime {
		return fmt.Errorf("%w: startTime must be before endTime", ErrInvalidBusinessHours)
	}
	if bh.AppointmentDuration <= 0 {
		return fmt.Errorf("%w: appointmentDuration must be positive", ErrInvalidBusinessHours)
	}
	if bh.AppointmentDuration > bh.Operating().Minutes() {
		return fmt.Errorf("%w: appointmentDuration exceeds operating window", ErrInvalidBusinessHours)
	}
	if lunch, ok := bh.Lunch(); ok {
		if lunch.Start >= lunch.End {
			return fmt.Errorf("%w: lunchStartTime must be before lunchEndTime", ErrInvalidBusinessHours)
		}
		if !lunch.Within(bh.Operating()) {
			return fmt.Errorf("%w: lunch break must fall inside operating hours", ErrInvalidBusinessHours)
		}
	}
	return nil
}
