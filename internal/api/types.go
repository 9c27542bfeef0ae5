package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type CreateAppointmentRequest struct {
	DoctorID        *uuid.UUID `json:"doctorId"`
	Date            string     `json:"date"`
	StartTime       string     `json:"startTime"`
	EndTime         string     `json:"endTime"`
	Type            string     `json:"type"`
	PatientName     string     `json:"patientName"`
	PatientEmail    *string    `json:"patientEmail"`
	PatientPhone    *string    `json:"patientPhone"`
	Notes           *string    `json:"notes"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	Description     string     `json:"description"`
	CardToken       string     `json:"cardToken"`
	PaymentMethodID string     `json:"paymentMethodId"`
	Installments    int        `json:"installments"`
}

type UpdateAppointmentRequest struct {
	Date         *string `json:"date"`
	StartTime    *string `json:"startTime"`
	EndTime      *string `json:"endTime"`
	Type         *string `json:"type"`
	PatientName  *string `json:"patientName"`
	PatientEmail *string `json:"patientEmail"`
	PatientPhone *string `json:"patientPhone"`
	Notes        *string `json:"notes"`
}

type CancelAppointmentRequest struct {
	Note *string `json:"note"`
}

type AppointmentResponse struct {
	ID           uuid.UUID          `json:"id"`
	UserID       uuid.UUID          `json:"userId"`
	DoctorID     uuid.UUID          `json:"doctorId"`
	Date         string             `json:"date"`
	StartTime    schedule.ClockTime `json:"startTime"`
	EndTime      schedule.ClockTime `json:"endTime"`
	Type         string             `json:"type"`
	Status       string             `json:"status"`
	PatientName  string             `json:"patientName"`
	PatientEmail *string            `json:"patientEmail,omitempty"`
	PatientPhone *string            `json:"patientPhone,omitempty"`
	Notes        *string            `json:"notes,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

type PaymentResponse struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  *uuid.UUID `json:"appointmentId,omitempty"`
	SubscriptionID *uuid.UUID `json:"subscriptionId,omitempty"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	MercadoPagoID  *string    `json:"mercadoPagoId,omitempty"`
	PreferenceID   *string    `json:"preferenceId,omitempty"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Payment     *PaymentResponse    `json:"payment"`
	CheckoutURL string              `json:"checkoutUrl,omitempty"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type AvailableSlotsResponse struct {
	DoctorID string               `json:"doctorId,omitempty"`
	Date     string               `json:"date"`
	Slots    []schedule.ClockTime `json:"slots"`
}

type BusinessHoursRequest struct {
	DoctorID            *uuid.UUID         `json:"doctorId"`
	StartTime           schedule.ClockTime `json:"startTime"`
	EndTime             schedule.ClockTime `json:"endTime"`
	LunchBreakEnabled   bool               `json:"lunchBreakEnabled"`
	LunchStartTime      schedule.ClockTime `json:"lunchStartTime"`
	LunchEndTime        schedule.ClockTime `json:"lunchEndTime"`
	Monday              bool               `json:"monday"`
	Tuesday             bool               `json:"tuesday"`
	Wednesday           bool               `json:"wednesday"`
	Thursday            bool               `json:"thursday"`
	Friday              bool               `json:"friday"`
	Saturday            bool               `json:"saturday"`
	Sunday              bool               `json:"sunday"`
	AppointmentDuration int                `json:"appointmentDuration"`
}

type BusinessHoursResponse struct {
	DoctorID uuid.UUID `json:"doctorId"`
	BusinessHoursRequest
	UpdatedAt time.Time `json:"updatedAt"`
}

type SubscribeRequest struct {
	PlanName   string  `json:"planName"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	PayerEmail string  `json:"payerEmail"`
	BackURL    string  `json:"backUrl"`
}

type SubscriptionResponse struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	PreapprovalID *string   `json:"preapprovalId,omitempty"`
	PlanName      string    `json:"planName"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	InitPoint     string    `json:"initPoint,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		UserID:       a.UserID,
		DoctorID:     a.DoctorID,
		Date:         a.Date.Format(time.DateOnly),
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		Type:         string(a.Type),
		Status:       string(a.Status),
		PatientName:  a.PatientName,
		PatientEmail: a.PatientEmail,
		PatientPhone: a.PatientPhone,
		Notes:        a.Notes,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toPaymentResponse(p *payment.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}
	return &PaymentResponse{
		ID:             p.ID,
		AppointmentID:  p.AppointmentID,
		SubscriptionID: p.SubscriptionID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		MercadoPagoID:  p.MercadoPagoID,
		PreferenceID:   p.PreferenceID,
		PaidAt:         p.PaidAt,
	}
}

func (r BusinessHoursRequest) toModel(doctorID uuid.UUID) schedule.BusinessHours {
	var days [7]bool
	days[time.Sunday] = r.Sunday
	days[time.Monday] = r.Monday
	days[time.Tuesday] = r.Tuesday
	days[time.Wednesday] = r.Wednesday
	days[time.Thursday] = r.Thursday
	days[time.Friday] = r.Friday
	days[time.Saturday] = r.Saturday
	return schedule.BusinessHours{
		DoctorID:            doctorID,
		StartTime:           r.StartTime,
		EndTime:             r.EndTime,
		LunchBreakEnabled:   r.LunchBreakEnabled,
		LunchStartTime:      r.LunchStartTime,
		LunchEndTime:        r.LunchEndTime,
		Weekdays:            days,
		AppointmentDuration: r.AppointmentDuration,
	}
}

func toBusinessHoursResponse(bh *schedule.BusinessHours) BusinessHoursResponse {
	return BusinessHoursResponse{
		DoctorID: bh.DoctorID,
		BusinessHoursRequest: BusinessHoursRequest{
			StartTime:           bh.StartTime,
			EndTime:             bh.EndTime,
			LunchBreakEnabled:   bh.LunchBreakEnabled,
			LunchStartTime:      bh.LunchStartTime,
			LunchEndTime:        bh.LunchEndTime,
			Sunday:              bh.Weekdays[time.Sunday],
			Monday:              bh.Weekdays[time.Monday],
			Tuesday:             bh.Weekdays[time.Tuesday],
			Wednesday:           bh.Weekdays[time.Wednesday],
			Thursday:            bh.Weekdays[time.Thursday],
			Friday:              bh.Weekdays[time.Friday],
			Saturday:            bh.Weekdays[time.Saturday],
			AppointmentDuration: bh.AppointmentDuration,
		},
		UpdatedAt: bh.UpdatedAt,
	}
}

func toSubscriptionResponse(s *payment.Subscription, initPoint string) SubscriptionResponse {
	return SubscriptionResponse{
		ID:            s.ID,
		UserID:        s.UserID,
		PreapprovalID: s.PreapprovalID,
		PlanName:      s.PlanName,
		Amount:        s.Amount,
		Currency:      s.Currency,
		Status:        string(s.Status),
		InitPoint:     initPoint,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
