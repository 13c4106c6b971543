package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topsmile/appointment-scheduling/internal/db"
	"github.com/topsmile/appointment-scheduling/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinicID := uuid.New()
	log.Printf("seeding clinic %s", clinicID)

	serviceTypes, err := seedServiceTypes(context.Background(), pool, clinicID)
	if err != nil {
		log.Fatalf("seed service types: %v", err)
	}
	if err := seedProviders(context.Background(), pool, clinicID, 25); err != nil {
		log.Fatalf("seed providers: %v", err)
	}

	log.Printf("seed complete: %d service types", len(serviceTypes))
}

func seedServiceTypes(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID) ([]uuid.UUID, error) {
	type svc struct {
		name             string
		durationMin      int
		bufferBefore     *int
		bufferAfter      *int
		requiresApproval bool
	}

	ten := 10
	fifteen := 15

	catalog := []svc{
		{name: "Consultation", durationMin: 30},
		{name: "Cleaning", durationMin: 45, bufferAfter: &ten},
		{name: "Root Canal", durationMin: 90, bufferBefore: &fifteen, bufferAfter: &fifteen, requiresApproval: true},
		{name: "Whitening", durationMin: 60},
		{name: "Extraction", durationMin: 60, bufferAfter: &fifteen, requiresApproval: true},
		{name: "Orthodontic Adjustment", durationMin: 20},
	}

	log.Printf("seeding %d service types", len(catalog))

	ids := make([]uuid.UUID, 0, len(catalog))
	for _, s := range catalog {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO service_types (id, clinic_id, name, duration_min, buffer_before_min,
			                           buffer_after_min, requires_approval, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		`, id, clinicID, s.name, s.durationMin, s.bufferBefore, s.bufferAfter, s.requiresApproval)
		if err != nil {
			return nil, fmt.Errorf("insert service type %s: %w", s.name, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) error {
	log.Printf("seeding %d providers", count)

	zones := []string{
		"America/Sao_Paulo",
		"America/New_York",
		"America/Chicago",
		"Europe/Lisbon",
	}

	for i := 0; i < count; i++ {
		hours := scheduling.WorkingHours{
			"monday":    {Start: "08:00", End: "18:00", IsWorking: true},
			"tuesday":   {Start: "08:00", End: "18:00", IsWorking: true},
			"wednesday": {Start: "08:00", End: "18:00", IsWorking: true},
			"thursday":  {Start: "08:00", End: "18:00", IsWorking: true},
			"friday":    {Start: "08:00", End: "17:00", IsWorking: true},
			"saturday":  {Start: "09:00", End: "13:00", IsWorking: gofakeit.Bool()},
			"sunday":    {IsWorking: false},
		}

		hoursJSON, err := json.Marshal(hours)
		if err != nil {
			return fmt.Errorf("encode working hours: %w", err)
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO providers (id, clinic_id, name, is_active, time_zone, working_hours,
			                       buffer_before_min, buffer_after_min)
			VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7)
		`, uuid.New(), clinicID,
			"Dr. "+gofakeit.Name(),
			zones[gofakeit.Number(0, len(zones)-1)],
			hoursJSON,
			gofakeit.Number(0, 15),
			gofakeit.Number(0, 15))
		if err != nil {
			return fmt.Errorf("insert provider: %w", err)
		}
	}

	return nil
}
