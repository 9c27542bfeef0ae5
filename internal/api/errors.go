package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/payment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func rejectionStatus(c schedule.Category) int {
	switch c {
	case schedule.CategoryInput:
		return http.StatusBadRequest
	case schedule.CategoryConflict:
		return http.StatusConflict
	case schedule.CategoryConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps domain errors onto the HTTP taxonomy. Anything
// unrecognised is logged and reported as a 500 without internals.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	if rej, ok := schedule.AsRejection(err); ok {
		writeError(w, rejectionStatus(rej.Reason.Category()), string(rej.Reason), rej.Details)
		return
	}
	var fe *appointment.FieldError
	if errors.As(err, &fe) {
		writeError(w, http.StatusBadRequest, "invalid_field", map[string]string{"field": fe.Field, "message": fe.Message})
		return
	}

	switch {
	case errors.Is(err, appointment.ErrAlreadyCancelled):
		writeError(w, http.StatusBadRequest, "already_cancelled", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrNotYetEnded):
		writeError(w, http.StatusConflict, "not_yet_ended", err.Error())
	case errors.Is(err, appointment.ErrPaymentSetupFailed):
		log.Error().Err(err).Msg("payment setup failed")
		writeError(w, http.StatusBadGateway, "payment_setup_failed", "the payment provider could not be reached")
	case errors.Is(err, schedule.ErrInvalidBusinessHours):
		writeError(w, http.StatusBadRequest, "invalid_business_hours", err.Error())
	case errors.Is(err, schedule.ErrBusinessHoursNotFound):
		writeError(w, http.StatusNotFound, "business_hours_not_found", err.Error())
	case errors.Is(err, payment.ErrInvalidSubscription):
		writeError(w, http.StatusBadRequest, "invalid_subscription", err.Error())
	case errors.Is(err, payment.ErrSubscriptionActive):
		writeError(w, http.StatusConflict, "subscription_active", err.Error())
	case errors.Is(err, payment.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, "subscription_not_found", err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		log.Error().Err(err).Msg("payment gateway unavailable")
		writeError(w, http.StatusBadGateway, "gateway_unavailable", "the payment provider could not be reached")
	default:
		log.Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
