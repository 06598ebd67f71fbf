package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/scheduler/internal/db"
)

// The simulator hammers a running api-server with concurrent bookings,
// check-ins and queue reads, then compares the number of successful
// bookings against the capacity that was open when it started. More
// successes than capacity means the ledger oversold.

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	CheckInRatio  float64
	QueueRatio    float64
	PatientLimit  int
	SlotLimit     int
	PostgresDSN   string
}

type OpenSlot struct {
	ProviderID  uuid.UUID
	Date        string
	SlotMinutes int
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []OpenSlot
	mu       sync.RWMutex
	codes    []string // appointment codes returned by successful bookings
}

func (dp *DataPool) AddCode(code string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.codes = append(dp.codes, code)
}

func (dp *DataPool) RandomCode() (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.codes) == 0 {
		return "", false
	}
	return dp.codes[rand.Intn(len(dp.codes))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	CheckIn OperationMetrics
	Queue   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f checkin=%.2f queue=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.CheckInRatio, cfg.QueueRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, initialCapacity, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, %d open slots, %d total seats",
		len(dataPool.Patients), len(dataPool.Slots), initialCapacity)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.Report(ctx, pgPool, initialCapacity)
}

func (s *Simulator) Run() {
	deadline := time.Now().Add(s.config.Duration)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				roll := rand.Float64()
				switch {
				case roll < s.config.BookingRatio:
					s.doBooking()
				case roll < s.config.BookingRatio+s.config.CheckInRatio:
					s.doCheckIn()
				default:
					s.doQueueRead()
				}
			}
		}()
	}
	wg.Wait()
}

func (s *Simulator) doBooking() {
	patient := s.pool.Patients[rand.Intn(len(s.pool.Patients))]
	slot := s.pool.Slots[rand.Intn(len(s.pool.Slots))]

	body, _ := json.Marshal(map[string]string{
		"patient_id":  patient.String(),
		"provider_id": slot.ProviderID.String(),
		"date":        slot.Date,
		"time_slot":   minutesToLabel(slot.SlotMinutes),
		"visit_type":  "consultation",
	})

	start := time.Now()
	resp, err := s.client.Post(s.config.APIBaseURL+"/visits", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, false, false)
		return
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			AppointmentCode string `json:"appointment_code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.AppointmentCode != "" {
			s.pool.AddCode(created.AppointmentCode)
		}
		s.metrics.Booking.Record(latency, true, false)
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
}

func (s *Simulator) doCheckIn() {
	code, ok := s.pool.RandomCode()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"appointment_code": code})

	start := time.Now()
	resp, err := s.client.Post(s.config.APIBaseURL+"/checkin", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		s.metrics.CheckIn.Record(latency, false, false)
		return
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		s.metrics.CheckIn.Record(latency, true, false)
	case http.StatusConflict:
		s.metrics.CheckIn.Record(latency, false, true)
	default:
		s.metrics.CheckIn.Record(latency, false, false)
	}
}

func (s *Simulator) doQueueRead() {
	slot := s.pool.Slots[rand.Intn(len(s.pool.Slots))]

	start := time.Now()
	resp, err := s.client.Get(fmt.Sprintf("%s/queue?provider_id=%s&date=%s",
		s.config.APIBaseURL, slot.ProviderID, slot.Date))
	latency := time.Since(start)
	if err != nil {
		s.metrics.Queue.Record(latency, false, false)
		return
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	s.metrics.Queue.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) Report(ctx context.Context, pgPool *pgxpool.Pool, initialCapacity int64) {
	printOp := func(name string, om *OperationMetrics) {
		avg, min, max, p50, p95 := om.Stats()
		log.Printf("%-8s total=%d success=%d conflict=%d error=%d avg=%s min=%s max=%s p50=%s p95=%s",
			name, om.Total, om.Success, om.Conflict, om.Error, avg, min, max, p50, p95)
	}

	printOp("booking", &s.metrics.Booking)
	printOp("checkin", &s.metrics.CheckIn)
	printOp("queue", &s.metrics.Queue)

	// Capacity safety: remaining never negative, and seats spent in the
	// ledger must match visits created.
	var negative int64
	if err := pgPool.QueryRow(ctx, `
		SELECT COUNT(*) FROM slot_capacity WHERE remaining < 0
	`).Scan(&negative); err != nil {
		log.Printf("capacity check query failed: %v", err)
		return
	}

	var remaining int64
	if err := pgPool.QueryRow(ctx, `
		SELECT COALESCE(SUM(remaining), 0) FROM slot_capacity
	`).Scan(&remaining); err != nil {
		log.Printf("remaining query failed: %v", err)
		return
	}

	booked := atomic.LoadInt64(&s.metrics.Booking.Success)
	log.Printf("ledger: initial_seats=%d remaining=%d booked_ok=%d negative_rows=%d",
		initialCapacity, remaining, booked, negative)

	if negative > 0 {
		log.Printf("FAIL: slot_capacity went negative")
	} else if booked > initialCapacity-remaining {
		log.Printf("FAIL: more successful bookings (%d) than seats spent (%d)", booked, initialCapacity-remaining)
	} else {
		log.Printf("OK: no oversell detected")
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, int64, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	slotRows, err := pool.Query(ctx, `
		SELECT provider_id, slot_date, slot_minutes
		FROM slot_capacity
		WHERE remaining > 0
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("load slots: %w", err)
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var s OpenSlot
		var date time.Time
		if err := slotRows.Scan(&s.ProviderID, &date, &s.SlotMinutes); err != nil {
			return nil, 0, err
		}
		s.Date = date.Format("2006-01-02")
		dp.Slots = append(dp.Slots, s)
	}
	if err := slotRows.Err(); err != nil {
		return nil, 0, err
	}

	var capacity int64
	if err := pool.QueryRow(ctx, `SELECT COALESCE(SUM(remaining), 0) FROM slot_capacity`).Scan(&capacity); err != nil {
		return nil, 0, fmt.Errorf("load capacity: %w", err)
	}

	if len(dp.Patients) == 0 || len(dp.Slots) == 0 {
		return nil, 0, fmt.Errorf("no patients or open slots; run cmd/seed first")
	}

	return dp, capacity, nil
}

func minutesToLabel(minutes int) string {
	hour := minutes / 60
	meridiem := "AM"
	if hour >= 12 {
		meridiem = "PM"
	}
	display := hour % 12
	if display == 0 {
		display = 12
	}
	return fmt.Sprintf("%d:%02d %s", display, minutes%60, meridiem)
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:   envString("SIM_API_BASE_URL", "http://127.0.0.1:8080"),
		Duration:     envDuration("SIM_DURATION", 30*time.Second),
		Workers:      envInt("SIM_WORKERS", 20),
		BookingRatio: envFloat("SIM_BOOKING_RATIO", 0.5),
		CheckInRatio: envFloat("SIM_CHECKIN_RATIO", 0.2),
		QueueRatio:   envFloat("SIM_QUEUE_RATIO", 0.3),
		PatientLimit: envInt("SIM_PATIENT_LIMIT", 2000),
		SlotLimit:    envInt("SIM_SLOT_LIMIT", 500),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be positive")
	}
	total := cfg.BookingRatio + cfg.CheckInRatio + cfg.QueueRatio
	if total <= 0.99 || total >= 1.01 {
		return fmt.Errorf("operation ratios must sum to 1.0, got %.2f", total)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
