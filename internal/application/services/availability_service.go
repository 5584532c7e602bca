package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

const (
	availabilityCacheName = "availability"

	// maxAvailabilityRange bounds a single availability read
	maxAvailabilityRange = 31 * 24 * time.Hour

	suggestionStep = 30 * time.Minute
)

// AvailabilityInvalidator drops cached availability for a doctor's days
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, doctorID string, from, to time.Time)
}

// Suggestion is an alternative booking time close to a rejected request
type Suggestion struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	SlotID    string    `json:"slot_id"`
	Score     float64   `json:"score"`
}

// AvailabilityService serves doctors' open slots and alternative times
type AvailabilityService struct {
	slots        repositories.AvailabilityRepository
	appointments repositories.AppointmentRepository
	cache        providers.CacheProvider
	cacheTTL     time.Duration
	metrics      *observability.Metrics
	now          func() time.Time
}

// NewAvailabilityService creates a new availability service. cache may be nil.
func NewAvailabilityService(
	slots repositories.AvailabilityRepository,
	appointments repositories.AppointmentRepository,
	cache providers.CacheProvider,
	cacheTTL time.Duration,
	metrics *observability.Metrics,
) *AvailabilityService {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &AvailabilityService{
		slots:        slots,
		appointments: appointments,
		cache:        cache,
		cacheTTL:     cacheTTL,
		metrics:      metrics,
		now:          time.Now,
	}
}

// AvailabilityCacheKey returns the cache key of a doctor's day
func AvailabilityCacheKey(doctorID string, day time.Time) string {
	return fmt.Sprintf("availability:%s:%s", doctorID, day.UTC().Format("20060102"))
}

// GetAvailableSlots returns the doctor's open slots on the UTC days from..to inclusive
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, doctorID string, from, to time.Time) ([]*entities.AvailabilitySlot, error) {
	if doctorID == "" {
		return nil, apperrors.NewValidationError("doctor_id is required")
	}
	if to.Before(from) {
		return nil, apperrors.NewValidationError("from must not be after to")
	}
	if to.Sub(from) > maxAvailabilityRange {
		return nil, apperrors.NewValidationError("availability range must not exceed 31 days")
	}

	var result []*entities.AvailabilitySlot
	for _, day := range daysBetween(from, to) {
		slots, err := s.slotsForDay(ctx, doctorID, day)
		if err != nil {
			return nil, err
		}
		for _, slot := range slots {
			if slot.HasCapacity() {
				result = append(result, slot)
			}
		}
	}
	return result, nil
}

func (s *AvailabilityService) slotsForDay(ctx context.Context, doctorID string, day time.Time) ([]*entities.AvailabilitySlot, error) {
	logger := observability.LoggerFromContext(ctx)
	key := AvailabilityCacheKey(doctorID, day)

	if s.cache != nil {
		data, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var slots []*entities.AvailabilitySlot
			if jsonErr := json.Unmarshal(data, &slots); jsonErr == nil {
				observability.RecordCacheHit(ctx, s.metrics, availabilityCacheName)
				return slots, nil
			}
			logger.Warn().Str("key", key).Msg("Discarding undecodable availability cache entry")
		case errors.Is(err, providers.ErrCacheMiss):
		default:
			logger.Warn().Err(err).Str("key", key).Msg("Availability cache read failed, falling back to database")
		}
		observability.RecordCacheMiss(ctx, s.metrics, availabilityCacheName)
	}

	slots, err := s.slots.ListByDoctor(ctx, doctorID, day, day.Add(24*time.Hour), entities.SlotStatusAvailable)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(slots); err == nil {
			if err := s.cache.Set(ctx, key, data, int(s.cacheTTL.Seconds())); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("Failed to cache availability")
			}
		}
	}
	return slots, nil
}

// Invalidate drops the cached availability of every day touched by [from, to].
// Failures are logged; the entries expire on their own.
func (s *AvailabilityService) Invalidate(ctx context.Context, doctorID string, from, to time.Time) {
	if s.cache == nil {
		return
	}
	days := daysBetween(from, to)
	keys := make([]string, 0, len(days))
	for _, day := range days {
		keys = append(keys, AvailabilityCacheKey(doctorID, day))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("doctor_id", doctorID).
			Strs("keys", keys).
			Msg("Failed to invalidate availability cache")
	}
}

// SuggestAlternatives proposes up to max bookable times of the same length
// around a rejected request, closest first.
func (s *AvailabilityService) SuggestAlternatives(ctx context.Context, doctorID string, start, end time.Time, max int) ([]Suggestion, error) {
	if max <= 0 {
		return nil, nil
	}
	duration := end.Sub(start)
	if duration <= 0 {
		return nil, apperrors.NewValidationError("start time must be before end time")
	}

	candidates := max * 3
	reach := time.Duration(candidates) * suggestionStep
	windowStart := start.Add(-reach)
	windowEnd := end.Add(reach)

	// slots may begin well before the first candidate they contain
	slots, err := s.slots.ListByDoctor(ctx, doctorID, windowStart.Add(-24*time.Hour), windowEnd, entities.SlotStatusAvailable)
	if err != nil {
		return nil, err
	}
	scheduled, err := s.appointments.ListScheduled(ctx, doctorID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var suggestions []Suggestion
	for i := 0; i < candidates && len(suggestions) < max; i++ {
		offset := time.Duration(i+1) * suggestionStep
		candidate := entities.TimeRange{Start: start.Add(-offset), End: end.Add(-offset)}
		if i%2 == 1 {
			candidate = entities.TimeRange{Start: start.Add(offset), End: end.Add(offset)}
		}
		if candidate.Start.Before(now) {
			continue
		}

		slot := containingSlot(slots, candidate)
		if slot == nil || overlapsAny(scheduled, candidate) {
			continue
		}

		suggestions = append(suggestions, Suggestion{
			StartTime: candidate.Start,
			EndTime:   candidate.End,
			SlotID:    slot.ID,
			Score:     proximityScore(offset),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	return suggestions, nil
}

func containingSlot(slots []*entities.AvailabilitySlot, r entities.TimeRange) *entities.AvailabilitySlot {
	for _, slot := range slots {
		if slot.HasCapacity() && slot.Contains(r) {
			return slot
		}
	}
	return nil
}

func overlapsAny(appointments []*entities.Appointment, r entities.TimeRange) bool {
	for _, a := range appointments {
		if a.Range().Overlaps(r) {
			return true
		}
	}
	return false
}

// proximityScore loses 10 points per hour away from the requested start
func proximityScore(offset time.Duration) float64 {
	score := 100 - offset.Hours()*10
	if score < 0 {
		return 0
	}
	return score
}

// daysBetween returns the UTC midnights from the day of from to the day of to
func daysBetween(from, to time.Time) []time.Time {
	first := from.UTC().Truncate(24 * time.Hour)
	last := to.UTC().Truncate(24 * time.Hour)
	var days []time.Time
	for d := first; !d.After(last); d = d.Add(24 * time.Hour) {
		days = append(days, d)
	}
	return days
}
