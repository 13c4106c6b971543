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
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topsmile/appointment-scheduling/internal/db"
)

// simulate drives concurrent booking traffic against a running api-server
// and then verifies at the database level that no two blocking appointments
// for the same provider overlap.

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	Requests    int
	Date        string
	PostgresDSN string
}

type Counters struct {
	created   atomic.Int64
	conflicts atomic.Int64
	contended atomic.Int64
	failures  atomic.Int64
}

type slotsResponse struct {
	Slots []struct {
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
		ProviderID uuid.UUID `json:"provider_id"`
	} `json:"slots"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()

	pool, err := connect(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	providerID, serviceTypeID, clinicID, err := pickTargets(pool)
	if err != nil {
		log.Fatalf("pick simulation targets: %v", err)
	}
	log.Printf("simulating against provider=%s service_type=%s date=%s workers=%d requests=%d",
		providerID, serviceTypeID, cfg.Date, cfg.Workers, cfg.Requests)

	slots, err := fetchSlots(cfg, providerID, serviceTypeID)
	if err != nil {
		log.Fatalf("fetch slots: %v", err)
	}
	if len(slots.Slots) == 0 {
		log.Fatal("no available slots to contend over; pick a working day")
	}
	log.Printf("%d candidate slots, letting workers fight over them", len(slots.Slots))

	var counters Counters
	var wg sync.WaitGroup

	jobs := make(chan int)
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for range jobs {
				slot := slots.Slots[rand.Intn(len(slots.Slots))]
				book(cfg, client, &counters, clinicID, providerID, serviceTypeID, slot.Start)
			}
		}()
	}

	start := time.Now()
	for i := 0; i < cfg.Requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	log.Printf("done in %s: created=%d conflicts=%d contended=%d failures=%d",
		time.Since(start),
		counters.created.Load(),
		counters.conflicts.Load(),
		counters.contended.Load(),
		counters.failures.Load())

	overlaps, err := countOverlaps(pool, providerID)
	if err != nil {
		log.Fatalf("verify overlaps: %v", err)
	}
	if overlaps > 0 {
		log.Fatalf("INVARIANT VIOLATED: %d overlapping appointment pairs for provider %s", overlaps, providerID)
	}
	log.Println("invariant holds: no overlapping committed appointments")
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		Workers:     getEnvInt("SIM_WORKERS", 16),
		Requests:    getEnvInt("SIM_REQUESTS", 200),
		Date:        getEnv("SIM_DATE", time.Now().AddDate(0, 0, 7).Format("2006-01-02")),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func connect(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return db.ConnectPostgres(ctx, dsn)
}

func pickTargets(pool *pgxpool.Pool) (providerID, serviceTypeID, clinicID uuid.UUID, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = pool.QueryRow(ctx, `
		SELECT id, clinic_id FROM providers WHERE is_active LIMIT 1
	`).Scan(&providerID, &clinicID)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("no providers seeded: %w", err)
	}

	err = pool.QueryRow(ctx, `
		SELECT id FROM service_types WHERE is_active AND NOT requires_approval LIMIT 1
	`).Scan(&serviceTypeID)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("no service types seeded: %w", err)
	}

	return providerID, serviceTypeID, clinicID, nil
}

func fetchSlots(cfg SimConfig, providerID, serviceTypeID uuid.UUID) (*slotsResponse, error) {
	url := fmt.Sprintf("%s/providers/%s/slots?service_type=%s&date=%s",
		cfg.APIBaseURL, providerID, serviceTypeID, cfg.Date)

	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("slots request returned %d: %s", resp.StatusCode, body)
	}

	var slots slotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, err
	}
	return &slots, nil
}

func book(cfg SimConfig, client *http.Client, counters *Counters, clinicID, providerID, serviceTypeID uuid.UUID, start time.Time) {
	payload := map[string]string{
		"clinic_id":       clinicID.String(),
		"patient_id":      uuid.New().String(),
		"provider_id":     providerID.String(),
		"service_type_id": serviceTypeID.String(),
		"scheduled_start": start.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		counters.failures.Add(1)
		return
	}

	resp, err := client.Post(cfg.APIBaseURL+"/appointments", "application/json", bytes.NewReader(body))
	if err != nil {
		counters.failures.Add(1)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		_, _ = io.Copy(io.Discard, resp.Body)
		counters.created.Add(1)
	case http.StatusConflict:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "booking_contended" {
			counters.contended.Add(1)
		} else {
			counters.conflicts.Add(1)
		}
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		counters.failures.Add(1)
	}
}

// countOverlaps reports pairs of non-cancelled, non-no-show appointments for
// one provider whose raw intervals intersect. Must always be zero.
func countOverlaps(pool *pgxpool.Pool, providerID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.provider_id = b.provider_id
		 AND a.id < b.id
		 AND a.scheduled_start < b.scheduled_end
		 AND a.scheduled_end > b.scheduled_start
		WHERE a.provider_id = $1
		  AND a.status NOT IN ('cancelled', 'no_show')
		  AND b.status NOT IN ('cancelled', 'no_show')
	`, providerID).Scan(&n)
	return n, err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
