package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/webhook"
)

type SimConfig struct {
	APIBaseURL    string
	DoctorID      string
	Date          string
	Racers        int
	Workers       int
	Duration      time.Duration
	CancelRatio   float64
	WebhookSecret string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}
	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return 0, 0, 0
	}
	l := append([]time.Duration(nil), om.latencies...)
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
	at := func(p int) time.Duration {
		return l[min(len(l)*p/100, len(l)-1)]
	}
	return at(50), at(95), l[len(l)-1]
}

type Simulator struct {
	cfg    SimConfig
	client *http.Client
	log    zerolog.Logger

	race     OperationMetrics
	booking  OperationMetrics
	cancel   OperationMetrics
	list     OperationMetrics
	webhooks OperationMetrics
}

func main() {
	cfg := SimConfig{}
	flag.StringVar(&cfg.APIBaseURL, "url", getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "api base url")
	flag.StringVar(&cfg.DoctorID, "doctor", os.Getenv("DEFAULT_DOCTOR_ID"), "doctor id, empty uses the server default")
	flag.StringVar(&cfg.Date, "date", nextWeekday(time.Now()).Format(time.DateOnly), "booking date YYYY-MM-DD")
	flag.IntVar(&cfg.Racers, "racers", 20, "concurrent requests for one slot")
	flag.IntVar(&cfg.Workers, "workers", 8, "load phase workers")
	flag.DurationVar(&cfg.Duration, "duration", 15*time.Second, "load phase duration")
	flag.Float64Var(&cfg.CancelRatio, "cancel-ratio", 0.2, "share of booked appointments cancelled again")
	flag.StringVar(&cfg.WebhookSecret, "webhook-secret", os.Getenv("MP_WEBHOOK_SECRET"), "signs webhook probes when set")
	flag.Parse()

	sim := &Simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logging.New("dev", "info", "simulate"),
	}

	ctx := context.Background()
	slots, err := sim.availableSlots(ctx)
	if err != nil {
		sim.log.Fatal().Err(err).Msg("load available slots")
	}
	if len(slots) == 0 {
		sim.log.Fatal().Str("date", cfg.Date).Msg("no free slots on date")
	}
	sim.log.Info().Int("slots", len(slots)).Str("date", cfg.Date).Msg("simulation starting")

	sim.runRace(ctx, slots[0])
	sim.runLoad(ctx)
	if cfg.WebhookSecret != "" {
		sim.runWebhookProbes(ctx)
	}
	sim.PrintReport()
}

type slot struct {
	Start string
	End   string
}

func (s *Simulator) availableSlots(ctx context.Context) ([]slot, error) {
	q := url.Values{"date": {s.cfg.Date}}
	if s.cfg.DoctorID != "" {
		q.Set("doctorId", s.cfg.DoctorID)
	}
	resp, err := s.do(ctx, http.MethodGet, "/business-hours/available-slots?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("available slots: status %d", resp.StatusCode)
	}
	var body struct {
		Slots []string `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	// Slot length is inferred from the spacing of the first two starts.
	step := 30 * time.Minute
	if len(body.Slots) > 1 {
		a, _ := time.Parse("15:04", body.Slots[0])
		b, _ := time.Parse("15:04", body.Slots[1])
		if d := b.Sub(a); d > 0 {
			step = d
		}
	}
	out := make([]slot, 0, len(body.Slots))
	for _, start := range body.Slots {
		t, err := time.Parse("15:04", start)
		if err != nil {
			continue
		}
		out = append(out, slot{Start: start, End: t.Add(step).Format("15:04")})
	}
	return out, nil
}

// runRace fires every racer at the same slot at once. Exactly one should win.
func (s *Simulator) runRace(ctx context.Context, target slot) {
	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < s.cfg.Racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			start := time.Now()
			status, _ := s.book(ctx, uuid.New(), target)
			s.race.Record(time.Since(start), status)
		}()
	}
	close(gate)
	wg.Wait()

	won := atomic.LoadInt64(&s.race.Success)
	ev := s.log.Info()
	if won != 1 {
		ev = s.log.Error().Bool("alert", true)
	}
	ev.Int64("created", won).Int64("conflicts", atomic.LoadInt64(&s.race.Conflict)).Msg("race finished")
}

func (s *Simulator) runLoad(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	user := uuid.New()

	for ctx.Err() == nil {
		slots, err := s.availableSlots(ctx)
		if err != nil || len(slots) == 0 {
			return
		}
		target := slots[rng.Intn(len(slots))]

		start := time.Now()
		status, id := s.book(ctx, user, target)
		if ctx.Err() != nil {
			return
		}
		s.booking.Record(time.Since(start), status)

		if id != uuid.Nil && rng.Float64() < s.cfg.CancelRatio {
			start = time.Now()
			resp, err := s.do(ctx, http.MethodDelete, "/appointments/"+id.String(), nil, identity(user))
			if err == nil {
				resp.Body.Close()
				s.cancel.Record(time.Since(start), resp.StatusCode)
			}
		}

		start = time.Now()
		resp, err := s.do(ctx, http.MethodGet, "/appointments?limit=20", nil, identity(user))
		if err == nil {
			resp.Body.Close()
			s.list.Record(time.Since(start), resp.StatusCode)
		}
	}
}

func (s *Simulator) book(ctx context.Context, user uuid.UUID, target slot) (int, uuid.UUID) {
	req := map[string]any{
		"date":        s.cfg.Date,
		"startTime":   target.Start,
		"endTime":     target.End,
		"type":        "GENERAL",
		"patientName": gofakeit.Name(),
		"amount":      150,
	}
	if s.cfg.DoctorID != "" {
		req["doctorId"] = s.cfg.DoctorID
	}
	body, _ := json.Marshal(req)

	resp, err := s.do(ctx, http.MethodPost, "/appointments", body, identity(user))
	if err != nil {
		return 0, uuid.Nil
	}
	defer resp.Body.Close()

	var out struct {
		Appointment struct {
			ID uuid.UUID `json:"id"`
		} `json:"appointment"`
	}
	if resp.StatusCode == http.StatusCreated {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out.Appointment.ID
}

// runWebhookProbes checks signature handling end to end: a correctly signed
// probe must be accepted and a forged one refused.
func (s *Simulator) runWebhookProbes(ctx context.Context) {
	for i, secret := range []string{s.cfg.WebhookSecret, "forged-" + s.cfg.WebhookSecret} {
		dataID := fmt.Sprintf("%d", gofakeit.Number(100000, 999999))
		requestID := uuid.NewString()
		body := fmt.Sprintf(`{"id":"sim-%s","type":"merchant_order","action":"created","data":{"id":%q}}`, requestID, dataID)
		headers := map[string]string{
			"Content-Type": "application/json",
			"x-request-id": requestID,
			"x-signature":  webhook.SignatureHeader(secret, dataID, requestID, time.Now().Unix()),
		}

		start := time.Now()
		resp, err := s.do(ctx, http.MethodPost, "/webhooks/mercado-pago?data.id="+dataID, []byte(body), headers)
		if err != nil {
			s.webhooks.Record(time.Since(start), 0)
			continue
		}
		resp.Body.Close()

		want := http.StatusOK
		if i == 1 {
			want = http.StatusUnauthorized
		}
		status := resp.StatusCode
		if status == want {
			status = http.StatusOK
		} else {
			s.log.Error().Int("status", resp.StatusCode).Int("want", want).Msg("unexpected webhook probe status")
			status = http.StatusInternalServerError
		}
		s.webhooks.Record(time.Since(start), status)
	}
}

func (s *Simulator) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.cfg.APIBaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return s.client.Do(req)
}

func identity(user uuid.UUID) map[string]string {
	return map[string]string{"X-User-ID": user.String(), "X-User-Role": "patient"}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Date: %s  Racers: %d  Workers: %d  Duration: %s\n\n", s.cfg.Date, s.cfg.Racers, s.cfg.Workers, s.cfg.Duration)

	printOperationReport("Same-slot race", &s.race)
	printOperationReport("Booking", &s.booking)
	printOperationReport("Cancel", &s.cancel)
	printOperationReport("List mine", &s.list)
	printOperationReport("Webhook probes", &s.webhooks)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95, max := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func nextWeekday(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
