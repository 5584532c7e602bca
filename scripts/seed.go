package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/healthcare-scheduling/internal/adapters/database"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	"github.com/zatekoja/healthcare-scheduling/pkg/config"
)

// Seeds a working week of hourly availability slots for development.
//
//	SEED_DOCTORS   comma separated doctor ids (default doctor-1,doctor-2,doctor-3)
//	SEED_DAYS      number of working days starting tomorrow (default 5)
//	SEED_CAPACITY  max_appointments per slot (default 2)
//	RESET_DB=true  truncate booking and waitlist tables first
const (
	dayStartHour = 9
	dayEndHour   = 17
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	observability.InitLogger(cfg.Logging, "scheduling-seed", cfg.Env)

	if !cfg.IsDevelopment() {
		log.Fatal().Str("env", cfg.Env).Msg("Refusing to seed outside development")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to DB")
	}
	defer pgClient.Close()

	ctx := context.Background()

	if os.Getenv("RESET_DB") == "true" {
		log.Info().Msg("RESET_DB=true detected, truncating tables before seeding")
		if _, err := pgClient.DB().ExecContext(ctx, `TRUNCATE TABLE waitlist_entries, appointments, availability_slots`); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset tables")
		}
	}

	doctors := strings.Split(envOr("SEED_DOCTORS", "doctor-1,doctor-2,doctor-3"), ",")
	days := envInt("SEED_DAYS", 5)
	capacity := envInt("SEED_CAPACITY", 2)

	slots := database.NewAvailabilityAdapter(pgClient)

	created := 0
	for _, day := range workingDays(time.Now().UTC(), days) {
		for _, doctorID := range doctors {
			doctorID = strings.TrimSpace(doctorID)
			if doctorID == "" {
				continue
			}
			for hour := dayStartHour; hour < dayEndHour; hour++ {
				start := day.Add(time.Duration(hour) * time.Hour)
				slot := &entities.AvailabilitySlot{
					DoctorID:        doctorID,
					StartTime:       start,
					EndTime:         start.Add(time.Hour),
					MaxAppointments: capacity,
				}
				if err := slots.Create(ctx, slot); err != nil {
					log.Error().Err(err).Str("doctor_id", doctorID).Time("start", start).Msg("Failed to create slot")
					continue
				}
				created++
			}
		}
	}

	log.Info().Int("slots", created).Int("doctors", len(doctors)).Int("days", days).Msg("Seeding complete")
}

// workingDays returns n weekday midnights (UTC) starting the day after now
func workingDays(now time.Time, n int) []time.Time {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var days []time.Time
	for len(days) < n {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, day)
	}
	return days
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
