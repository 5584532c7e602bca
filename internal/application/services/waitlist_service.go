package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

// Booker books a single appointment
type Booker interface {
	BookAppointment(ctx context.Context, req BookingRequest) (*entities.Appointment, error)
}

// WaitlistPolicy holds the timing rules of the waitlist
type WaitlistPolicy struct {
	// Expiry is how long an entry waits when the caller sets no expiry
	Expiry time.Duration
	// NotifyWindow is how long a notified patient may claim the freed time
	NotifyWindow time.Duration
	// DuplicateWindow is how close two open entries of a patient and doctor may start
	DuplicateWindow time.Duration
}

// WaitlistRequest adds a patient to a doctor's waitlist
type WaitlistRequest struct {
	PatientID      string     `json:"patient_id" validate:"required,max=64"`
	DoctorID       string     `json:"doctor_id" validate:"required,max=64"`
	PreferredStart time.Time  `json:"preferred_start" validate:"required"`
	PreferredEnd   time.Time  `json:"preferred_end" validate:"required"`
	Notes          string     `json:"notes" validate:"max=500"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// WaitlistBookingRequest books a notified entry. A zero StartTime or
// EndTime falls back to the entry's preferred range.
type WaitlistBookingRequest struct {
	EntryID   string    `json:"-"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason"`
	ClientIP  string    `json:"-"`
}

// WaitlistService manages waitlist entries and turns freed time into offers
type WaitlistService struct {
	repo     repositories.WaitlistRepository
	booker   Booker
	policy   WaitlistPolicy
	metrics  *observability.Metrics
	validate *validator.Validate
	now      func() time.Time
}

// NewWaitlistService creates a new waitlist service
func NewWaitlistService(repo repositories.WaitlistRepository, booker Booker, policy WaitlistPolicy, metrics *observability.Metrics) *WaitlistService {
	if policy.Expiry <= 0 {
		policy.Expiry = 24 * time.Hour
	}
	if policy.NotifyWindow <= 0 {
		policy.NotifyWindow = 15 * time.Minute
	}
	if policy.DuplicateWindow <= 0 {
		policy.DuplicateWindow = time.Hour
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &WaitlistService{
		repo:     repo,
		booker:   booker,
		policy:   policy,
		metrics:  metrics,
		validate: v,
		now:      time.Now,
	}
}

// Add puts a patient on a doctor's waitlist
func (s *WaitlistService) Add(ctx context.Context, req WaitlistRequest) (*entities.WaitlistEntry, error) {
	ctx, span := observability.StartSpan(ctx, "WaitlistService.Add")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return nil, apperrors.NewValidationError(translateValidationErrors(fieldErrs))
		}
		return nil, apperrors.NewValidationError(err.Error())
	}
	if !req.PreferredStart.Before(req.PreferredEnd) {
		return nil, apperrors.NewValidationError("preferred start must be before preferred end")
	}
	now := s.now()
	if !req.PreferredEnd.After(now) {
		return nil, apperrors.NewValidationError("preferred time is already over")
	}

	expiresAt := now.Add(s.policy.Expiry)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, apperrors.NewValidationError("expires_at must be in the future")
		}
		expiresAt = *req.ExpiresAt
	}

	entry := &entities.WaitlistEntry{
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		PreferredStart: req.PreferredStart.UTC(),
		PreferredEnd:   req.PreferredEnd.UTC(),
		Notes:          strings.TrimSpace(req.Notes),
		ExpiresAt:      expiresAt.UTC(),
	}
	if err := s.repo.Create(ctx, entry, s.policy.DuplicateWindow); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("entry_id", entry.ID).
		Str("doctor_id", entry.DoctorID).
		Time("preferred_start", entry.PreferredStart).
		Msg("Patient added to waitlist")
	return entry, nil
}

// Get retrieves a waitlist entry
func (s *WaitlistService) Get(ctx context.Context, id string) (*entities.WaitlistEntry, error) {
	if err := validateID("waitlist entry", id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// List lists waitlist entries, oldest first
func (s *WaitlistService) List(ctx context.Context, filter repositories.WaitlistFilter) ([]*entities.WaitlistEntry, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown waitlist status %q", filter.Status))
	}
	if filter.Offset < 0 {
		return nil, apperrors.NewValidationError("offset must not be negative")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.repo.List(ctx, filter)
}

// Remove takes an open entry off the waitlist
func (s *WaitlistService) Remove(ctx context.Context, id string) (*entities.WaitlistEntry, error) {
	if err := validateID("waitlist entry", id); err != nil {
		return nil, err
	}
	return s.repo.Transition(ctx, id,
		[]entities.WaitlistStatus{entities.WaitlistStatusActive, entities.WaitlistStatusNotified},
		entities.WaitlistStatusCancelled, nil)
}

// NotifyAvailability marks the active entries overlapping freed time as
// notified and gives each the notify window to claim it. Delivering the
// offer to the patient happens downstream.
func (s *WaitlistService) NotifyAvailability(ctx context.Context, doctorID string, from, to time.Time) ([]*entities.WaitlistEntry, error) {
	ctx, span := observability.StartSpan(ctx, "WaitlistService.NotifyAvailability")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("doctor_id", doctorID))

	if doctorID == "" {
		return nil, apperrors.NewValidationError("doctor_id is required")
	}
	if !from.Before(to) {
		return nil, apperrors.NewValidationError("from must be before to")
	}

	now := s.now()
	entries, err := s.repo.NotifyOverlapping(ctx, doctorID, from, to, now, now.Add(s.policy.NotifyWindow))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	logger := observability.LoggerFromContext(ctx)
	for _, entry := range entries {
		logger.Info().
			Str("entry_id", entry.ID).
			Str("patient_id", entry.PatientID).
			Str("doctor_id", doctorID).
			Time("expires_at", entry.ExpiresAt).
			Msg("Waitlist entry notified of freed time")
	}
	observability.RecordWaitlistNotified(ctx, s.metrics, len(entries))
	return entries, nil
}

// BookFromWaitlist books a notified entry's time through the booking
// controller and marks the entry booked.
func (s *WaitlistService) BookFromWaitlist(ctx context.Context, req WaitlistBookingRequest) (*entities.Appointment, error) {
	ctx, span := observability.StartSpan(ctx, "WaitlistService.BookFromWaitlist")
	defer span.End()

	entry, err := s.Get(ctx, req.EntryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != entities.WaitlistStatusNotified {
		return nil, apperrors.NewConflictError(fmt.Sprintf("waitlist entry %s is %s, only notified entries can be booked", entry.ID, entry.Status))
	}
	if entry.Expired(s.now()) {
		if _, err := s.repo.Transition(ctx, entry.ID,
			[]entities.WaitlistStatus{entities.WaitlistStatusNotified},
			entities.WaitlistStatusExpired, nil); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("entry_id", entry.ID).Msg("Failed to expire waitlist entry")
		}
		return nil, apperrors.NewConflictError(fmt.Sprintf("waitlist offer for entry %s has expired", entry.ID))
	}

	start, end := req.StartTime, req.EndTime
	if start.IsZero() || end.IsZero() {
		start, end = entry.PreferredStart, entry.PreferredEnd
	}
	appointment, err := s.booker.BookAppointment(ctx, BookingRequest{
		PatientID: entry.PatientID,
		DoctorID:  entry.DoctorID,
		StartTime: start,
		EndTime:   end,
		Reason:    req.Reason,
		ClientIP:  req.ClientIP,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if _, err := s.repo.Transition(ctx, entry.ID,
		[]entities.WaitlistStatus{entities.WaitlistStatusNotified},
		entities.WaitlistStatusBooked, &appointment.ID); err != nil {
		// the appointment stands; the entry lapses through cleanup
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Str("entry_id", entry.ID).
			Str("appointment_id", appointment.ID).
			Msg("Booked from waitlist but failed to mark entry booked")
	}
	return appointment, nil
}

// CleanupExpired expires every open entry whose hold has lapsed
func (s *WaitlistService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireLapsed(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.LoggerFromContext(ctx).Info().Int64("expired", n).Msg("Expired lapsed waitlist entries")
	}
	return n, nil
}
