package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

const (
	// BookEndpoint is the rate limit scope of booking attempts
	BookEndpoint = "book_appointment"

	lockRetryAfter    = time.Second
	sideEffectTimeout = 2 * time.Second

	defaultListLimit = 50
	maxListLimit     = 200
)

// BookingPolicy holds the admission settings of the booking controller
type BookingPolicy struct {
	RateLimit  int
	RateWindow time.Duration
	LockTTL    time.Duration
	LockBucket time.Duration

	// MaxDuration bounds a single booking and with it the number of lock keys taken
	MaxDuration time.Duration

	SeriesMaxOccurrences int

	// LockFailOpen lets bookings proceed on transaction isolation alone
	// when the lock store is unreachable.
	LockFailOpen bool
}

// BookingRequest is a patient's request for a doctor's time
type BookingRequest struct {
	PatientID string    `json:"patient_id" validate:"required,max=64"`
	DoctorID  string    `json:"doctor_id" validate:"required,max=64"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
	Reason    string    `json:"reason" validate:"max=500"`
	ClientIP  string    `json:"-"`
}

// BookingService orchestrates rate limiting, the booking lock and the
// serializable booking transaction.
type BookingService struct {
	repo         repositories.AppointmentRepository
	limiter      providers.RateLimiter
	locker       providers.BookingLocker
	availability AvailabilityInvalidator
	publisher    providers.EventPublisher
	policy       BookingPolicy
	metrics      *observability.Metrics
	validate     *validator.Validate
	now          func() time.Time
}

// NewBookingService creates a new booking service. availability and publisher may be nil.
func NewBookingService(
	repo repositories.AppointmentRepository,
	limiter providers.RateLimiter,
	locker providers.BookingLocker,
	availability AvailabilityInvalidator,
	publisher providers.EventPublisher,
	policy BookingPolicy,
	metrics *observability.Metrics,
) *BookingService {
	if policy.RateLimit <= 0 {
		policy.RateLimit = 5
	}
	if policy.RateWindow <= 0 {
		policy.RateWindow = time.Minute
	}
	if policy.LockTTL <= 0 {
		policy.LockTTL = 20 * time.Second
	}
	if policy.LockBucket <= 0 {
		policy.LockBucket = time.Hour
	}
	if policy.MaxDuration <= 0 {
		policy.MaxDuration = 4 * time.Hour
	}
	if policy.SeriesMaxOccurrences <= 0 {
		policy.SeriesMaxOccurrences = 52
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &BookingService{
		repo:         repo,
		limiter:      limiter,
		locker:       locker,
		availability: availability,
		publisher:    publisher,
		policy:       policy,
		metrics:      metrics,
		validate:     v,
		now:          time.Now,
	}
}

// BookAppointment books the requested time if the caller is within its rate
// budget, the doctor's time buckets can be locked and the transaction finds
// neither a conflict nor a full slot.
func (s *BookingService) BookAppointment(ctx context.Context, req BookingRequest) (appointment *entities.Appointment, err error) {
	ctx, span := observability.StartSpan(ctx, "BookingService.BookAppointment")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("doctor_id", req.DoctorID),
		attribute.String("start_time", req.StartTime.UTC().Format(time.RFC3339)),
	)

	defer func() {
		outcome := bookingOutcome(err)
		observability.RecordBookingAttempt(ctx, s.metrics, outcome)
		if err != nil {
			observability.RecordError(span, err)
		}
		span.SetAttributes(attribute.String("booking.outcome", outcome))
	}()

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	logger := observability.LoggerFromContext(ctx)

	decision, err := s.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	leases, err := s.acquireLeases(ctx, providers.BookingLockKeys(req.DoctorID, req.StartTime, req.EndTime, s.policy.LockBucket))
	if err != nil {
		return nil, err
	}
	defer func() { s.releaseLeases(ctx, leases) }()

	appointment = &entities.Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		Status:    entities.AppointmentStatusScheduled,
		Reason:    strings.TrimSpace(req.Reason),
	}
	bookErr := s.repo.Book(ctx, appointment)

	s.releaseLeases(ctx, leases)
	leases = nil

	if bookErr != nil {
		return nil, bookErr
	}

	logger.Info().
		Str("appointment_id", appointment.ID).
		Str("doctor_id", appointment.DoctorID).
		Time("start_time", appointment.StartTime).
		Time("end_time", appointment.EndTime).
		Bool("rate_limit_degraded", decision.Degraded).
		Msg("Appointment booked")

	s.afterCommit(ctx, entities.BookingEventTypeBooked, appointment)
	return appointment, nil
}

// CancelAppointment cancels a scheduled appointment and frees its slot
func (s *BookingService) CancelAppointment(ctx context.Context, id, reason string) (*entities.Appointment, error) {
	ctx, span := observability.StartSpan(ctx, "BookingService.CancelAppointment")
	defer span.End()

	if err := validateID("appointment", id); err != nil {
		return nil, err
	}
	if len(reason) > 500 {
		return nil, apperrors.NewValidationError("cancellation reason must be at most 500 characters")
	}

	appointment, err := s.repo.Cancel(ctx, id, strings.TrimSpace(reason))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("appointment_id", appointment.ID).
		Str("doctor_id", appointment.DoctorID).
		Msg("Appointment cancelled")

	s.afterCommit(ctx, entities.BookingEventTypeCancelled, appointment)
	return appointment, nil
}

// GetAppointment retrieves an appointment by ID
func (s *BookingService) GetAppointment(ctx context.Context, id string) (*entities.Appointment, error) {
	if err := validateID("appointment", id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// ListAppointments lists appointments matching the filter
func (s *BookingService) ListAppointments(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown appointment status %q", filter.Status))
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, apperrors.NewValidationError("from must not be after to")
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

func (s *BookingService) validateRequest(req BookingRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return apperrors.NewValidationError(translateValidationErrors(fieldErrs))
		}
		return apperrors.NewValidationError(err.Error())
	}
	return s.validateRange(req.StartTime, req.EndTime)
}

func (s *BookingService) validateRange(start, end time.Time) error {
	if !start.Before(end) {
		return apperrors.NewValidationError("start time must be before end time")
	}
	if end.Sub(start) > s.policy.MaxDuration {
		return apperrors.NewValidationError(fmt.Sprintf("appointment must not be longer than %s", s.policy.MaxDuration))
	}
	if start.Before(s.now()) {
		return apperrors.NewValidationError("cannot book appointments in the past")
	}
	return nil
}

// validateID rejects ids that are not UUIDs before they reach the database
func validateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError(kind + " id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid %s id %q", kind, id))
	}
	return nil
}

// admit spends one unit of the caller's booking budget
func (s *BookingService) admit(ctx context.Context, req BookingRequest) (providers.RateLimitDecision, error) {
	decision := s.limiter.Allow(ctx, rateLimitIdentifier(req), BookEndpoint, s.policy.RateLimit, s.policy.RateWindow)
	if decision.Degraded {
		observability.RecordRateLimitDegraded(ctx, s.metrics, BookEndpoint)
	}
	if !decision.Allowed {
		observability.LoggerFromContext(ctx).Info().
			Str("patient_id", req.PatientID).
			Dur("retry_after", decision.RetryAfter).
			Msg("Booking attempt rate limited")
		return decision, apperrors.NewRateLimitedError("too many booking attempts, please retry later", decision.RetryAfter)
	}
	return decision, nil
}

func translateValidationErrors(errs validator.ValidationErrors) string {
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// acquireLeases locks keys in the given ascending order. On failure the
// leases already held are released.
func (s *BookingService) acquireLeases(ctx context.Context, keys []string) ([]*providers.Lease, error) {
	logger := observability.LoggerFromContext(ctx)
	leases := make([]*providers.Lease, 0, len(keys))
	started := time.Now()

	for _, key := range keys {
		lease, err := s.locker.Acquire(ctx, key, s.policy.LockTTL)
		if err == nil {
			leases = append(leases, lease)
			continue
		}

		s.releaseLeases(ctx, leases)
		observability.RecordLockWait(ctx, s.metrics, false, time.Since(started))

		switch {
		case errors.Is(err, providers.ErrLockUnavailable):
			if s.policy.LockFailOpen {
				logger.Warn().Err(err).Str("key", key).Msg("Booking lock unavailable, relying on transaction isolation")
				return nil, nil
			}
			logger.Error().Err(err).Str("key", key).Msg("Booking lock unavailable, rejecting booking")
			return nil, apperrors.NewLockBusyError("booking is temporarily unavailable, please retry", lockRetryAfter, err)
		case errors.Is(err, providers.ErrLockBusy):
			logger.Info().Str("key", key).Dur("waited", time.Since(started)).Msg("Booking lock busy")
			return nil, apperrors.NewLockBusyError("another booking for this doctor is in progress, please retry", lockRetryAfter, nil)
		case ctx.Err() != nil:
			return nil, apperrors.NewUnavailableError("booking request ended while waiting for lock", false, err)
		default:
			return nil, apperrors.NewLockBusyError("booking is temporarily unavailable, please retry", lockRetryAfter, err)
		}
	}

	observability.RecordLockWait(ctx, s.metrics, true, time.Since(started))
	return leases, nil
}

// releaseLeases frees leases in reverse order, even when ctx is already done
func (s *BookingService) releaseLeases(ctx context.Context, leases []*providers.Lease) {
	if len(leases) == 0 {
		return
	}
	releaseCtx := context.WithoutCancel(ctx)
	for i := len(leases) - 1; i >= 0; i-- {
		if err := s.locker.Release(releaseCtx, leases[i]); err != nil {
			observability.LoggerFromContext(ctx).Warn().
				Err(err).
				Str("key", leases[i].Key).
				Msg("Failed to release booking lock, it will expire")
		}
	}
}

// afterCommit runs the best-effort side effects of a committed change
func (s *BookingService) afterCommit(ctx context.Context, eventType entities.BookingEventType, appointment *entities.Appointment) {
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if s.availability != nil {
		s.availability.Invalidate(sideCtx, appointment.DoctorID, appointment.StartTime, appointment.EndTime)
	}

	if s.publisher != nil {
		event := entities.NewBookingEvent(eventType, appointment)
		if err := s.publisher.Publish(sideCtx, event); err != nil {
			observability.LoggerFromContext(ctx).Warn().
				Err(err).
				Str("event_type", string(eventType)).
				Str("appointment_id", appointment.ID).
				Msg("Failed to publish booking event")
		}
	}
}

func rateLimitIdentifier(req BookingRequest) string {
	if req.PatientID != "" {
		return "patient:" + req.PatientID
	}
	return "ip:" + req.ClientIP
}

func bookingOutcome(err error) string {
	if err == nil {
		return "booked"
	}
	if appErr, ok := apperrors.As(err); ok {
		return strings.ToLower(string(appErr.Type))
	}
	return "error"
}
