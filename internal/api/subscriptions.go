package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/payment"
)

func subscribeHandler(svc *payment.SubscriptionService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubscribeRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		enrollment, err := svc.Subscribe(r.Context(), actorFrom(r.Context()).UserID, payment.SubscribeInput{
			PlanName:   req.PlanName,
			Amount:     req.Amount,
			Currency:   req.Currency,
			PayerEmail: req.PayerEmail,
			BackURL:    req.BackURL,
		})
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSubscriptionResponse(enrollment.Subscription, enrollment.InitPoint))
	}
}

func mySubscriptionHandler(svc *payment.SubscriptionService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.Mine(r.Context(), actorFrom(r.Context()).UserID)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, ""))
	}
}
