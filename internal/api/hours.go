package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// HoursStore reads and writes business hours.
type HoursStore interface {
	Get(ctx context.Context, q db.Querier, doctorID uuid.UUID) (*schedule.BusinessHours, error)
	Upsert(ctx context.Context, q db.Querier, bh schedule.BusinessHours) (*schedule.BusinessHours, error)
}

// doctorParam resolves the doctorId query parameter. nil means the
// configured default doctor.
func doctorParam(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get("doctorId")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
		return nil, false
	}
	return &id, true
}

func availableSlotsHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := doctorParam(w, r)
		if !ok {
			return
		}
		date := r.URL.Query().Get("date")

		slots, err := svc.AvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		resp := AvailableSlotsResponse{Date: date, Slots: slots}
		if doctorID != nil {
			resp.DoctorID = doctorID.String()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getBusinessHoursHandler(store HoursStore, q db.Querier, defaultDoctor uuid.UUID, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := doctorParam(w, r)
		if !ok {
			return
		}
		id := defaultDoctor
		if doctorID != nil {
			id = *doctorID
		}
		if id == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId is required")
			return
		}

		bh, err := store.Get(r.Context(), q, id)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toBusinessHoursResponse(bh))
	}
}

func putBusinessHoursHandler(store HoursStore, q db.Querier, defaultDoctor uuid.UUID, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BusinessHoursRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		id := defaultDoctor
		if req.DoctorID != nil {
			id = *req.DoctorID
		}
		if id == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId is required")
			return
		}

		saved, err := store.Upsert(r.Context(), q, req.toModel(id))
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		log.Info().
			Str("doctor_id", id.String()).
			Str("by", actorFrom(r.Context()).UserID.String()).
			Msg("business hours updated")
		writeJSON(w, http.StatusOK, toBusinessHoursResponse(saved))
	}
}
