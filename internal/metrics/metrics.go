package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors for booking, cancellation and webhook flows.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	bookings       *prometheus.CounterVec
	cancellations  *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	expired        prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking and reschedule attempts by result (accepted or rejection reason).",
		}, []string{"result"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Appointment cancellations by history reason.",
		}, []string{"reason"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound payment gateway webhooks by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook ingestion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "payment_timeouts_total",
			Help:      "PENDING appointments cancelled by the payment timeout sweep.",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.cancellations, m.webhooks, m.webhookLatency, m.expired)
	return m
}

func (m *Metrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCancellation(reason string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveWebhook(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(kind, outcome).Inc()
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ObservePaymentTimeout() {
	if m == nil {
		return
	}
	m.expired.Inc()
}
