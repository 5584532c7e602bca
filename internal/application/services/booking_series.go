package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

const rescheduledReason = "rescheduled"

// SeriesRequest books a recurring series. StartTime and EndTime describe
// the first occurrence.
type SeriesRequest struct {
	BookingRequest
	Recurrence entities.RecurrenceRule `json:"recurrence"`
}

// RescheduleSeriesRequest moves the scheduled occurrences of a series that
// start at or after From. The first of them moves to StartTime and the rest
// keep their spacing; every occurrence takes the new length.
type RescheduleSeriesRequest struct {
	SeriesID  string    `json:"-"`
	From      time.Time `json:"from"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	PatientID string    `json:"-"`
	ClientIP  string    `json:"-"`
}

// Series is a booked recurring series
type Series struct {
	ID           string                  `json:"id"`
	Appointments []*entities.Appointment `json:"appointments"`
}

// BookSeries books every occurrence of a recurring series or none of them.
// The whole series costs one unit of the caller's rate budget and holds the
// locks of every occurrence across a single transaction.
func (s *BookingService) BookSeries(ctx context.Context, req SeriesRequest) (series *Series, err error) {
	ctx, span := observability.StartSpan(ctx, "BookingService.BookSeries")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("doctor_id", req.DoctorID),
		attribute.String("recurrence.pattern", string(req.Recurrence.Pattern)),
	)
	defer func() {
		observability.RecordBookingAttempt(ctx, s.metrics, bookingOutcome(err))
		if err != nil {
			observability.RecordError(span, err)
		}
	}()

	if err := s.validateRequest(req.BookingRequest); err != nil {
		return nil, err
	}
	ranges, err := req.Recurrence.Occurrences(entities.TimeRange{
		Start: req.StartTime.UTC(),
		End:   req.EndTime.UTC(),
	}, s.policy.SeriesMaxOccurrences)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	span.SetAttributes(attribute.Int("series.occurrences", len(ranges)))

	if _, err := s.admit(ctx, req.BookingRequest); err != nil {
		return nil, err
	}

	leases, err := s.acquireLeases(ctx, providers.BookingLockKeysForRanges(req.DoctorID, ranges, s.policy.LockBucket))
	if err != nil {
		return nil, err
	}
	defer func() { s.releaseLeases(ctx, leases) }()

	reason := strings.TrimSpace(req.Reason)
	appointments := make([]*entities.Appointment, len(ranges))
	for i, r := range ranges {
		appointments[i] = &entities.Appointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			StartTime: r.Start,
			EndTime:   r.End,
			Status:    entities.AppointmentStatusScheduled,
			Reason:    reason,
		}
	}

	seriesID := uuid.NewString()
	bookErr := s.repo.BookSeries(ctx, seriesID, appointments)

	s.releaseLeases(ctx, leases)
	leases = nil

	if bookErr != nil {
		return nil, bookErr
	}

	observability.LoggerFromContext(ctx).Info().
		Str("series_id", seriesID).
		Str("doctor_id", req.DoctorID).
		Int("occurrences", len(appointments)).
		Time("first_start", appointments[0].StartTime).
		Time("last_start", appointments[len(appointments)-1].StartTime).
		Msg("Appointment series booked")

	for _, appointment := range appointments {
		s.afterCommit(ctx, entities.BookingEventTypeBooked, appointment)
	}
	return &Series{ID: seriesID, Appointments: appointments}, nil
}

// CancelSeries cancels the scheduled occurrences of a series starting at or
// after from. A zero from cancels every occurrence still ahead.
func (s *BookingService) CancelSeries(ctx context.Context, seriesID, reason string, from time.Time) ([]*entities.Appointment, error) {
	ctx, span := observability.StartSpan(ctx, "BookingService.CancelSeries")
	defer span.End()

	if err := validateID("series", seriesID); err != nil {
		return nil, err
	}
	if len(reason) > 500 {
		return nil, apperrors.NewValidationError("cancellation reason must be at most 500 characters")
	}
	if from.IsZero() {
		from = s.now()
	}

	cancelled, err := s.repo.CancelSeries(ctx, seriesID, strings.TrimSpace(reason), from)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(cancelled) == 0 {
		return nil, apperrors.NewNotFoundError("series " + seriesID + " has no scheduled occurrences to cancel")
	}

	observability.LoggerFromContext(ctx).Info().
		Str("series_id", seriesID).
		Int("cancelled", len(cancelled)).
		Msg("Appointment series cancelled")

	for _, appointment := range cancelled {
		s.afterCommit(ctx, entities.BookingEventTypeCancelled, appointment)
	}
	return cancelled, nil
}

// RescheduleSeries moves the remaining occurrences of a series. The old
// occurrences are cancelled and the new ones booked in one transaction, so a
// conflict on any new time leaves the series untouched.
func (s *BookingService) RescheduleSeries(ctx context.Context, req RescheduleSeriesRequest) (series *Series, err error) {
	ctx, span := observability.StartSpan(ctx, "BookingService.RescheduleSeries")
	defer span.End()
	defer func() {
		if err != nil {
			observability.RecordError(span, err)
		}
	}()

	if err := validateID("series", req.SeriesID); err != nil {
		return nil, err
	}
	if err := s.validateRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	from := req.From
	if from.IsZero() {
		from = s.now()
	}
	remaining, err := s.repo.List(ctx, repositories.AppointmentFilter{
		SeriesID: req.SeriesID,
		Status:   entities.AppointmentStatusScheduled,
		From:     &from,
		Limit:    s.policy.SeriesMaxOccurrences,
	})
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		return nil, apperrors.NewNotFoundError("series " + req.SeriesID + " has no scheduled occurrences to reschedule")
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].StartTime.Before(remaining[j].StartTime) })

	shift := req.StartTime.UTC().Sub(remaining[0].StartTime)
	length := req.EndTime.Sub(req.StartTime)

	ids := make([]string, len(remaining))
	ranges := make([]entities.TimeRange, len(remaining))
	replacements := make([]*entities.Appointment, len(remaining))
	for i, old := range remaining {
		start := old.StartTime.Add(shift)
		ids[i] = old.ID
		ranges[i] = entities.TimeRange{Start: start, End: start.Add(length)}
		replacements[i] = &entities.Appointment{
			PatientID: old.PatientID,
			DoctorID:  old.DoctorID,
			SeriesID:  old.SeriesID,
			StartTime: start,
			EndTime:   start.Add(length),
			Status:    entities.AppointmentStatusScheduled,
			Reason:    old.Reason,
		}
	}

	patientID := req.PatientID
	if patientID == "" {
		patientID = remaining[0].PatientID
	}
	if _, err := s.admit(ctx, BookingRequest{PatientID: patientID, ClientIP: req.ClientIP}); err != nil {
		return nil, err
	}

	doctorID := remaining[0].DoctorID
	leases, err := s.acquireLeases(ctx, providers.BookingLockKeysForRanges(doctorID, ranges, s.policy.LockBucket))
	if err != nil {
		return nil, err
	}
	defer func() { s.releaseLeases(ctx, leases) }()

	cancelled, bookErr := s.repo.Reschedule(ctx, ids, rescheduledReason, replacements)

	s.releaseLeases(ctx, leases)
	leases = nil

	if bookErr != nil {
		return nil, bookErr
	}

	observability.LoggerFromContext(ctx).Info().
		Str("series_id", req.SeriesID).
		Dur("shift", shift).
		Int("occurrences", len(replacements)).
		Msg("Appointment series rescheduled")

	for _, appointment := range cancelled {
		s.afterCommit(ctx, entities.BookingEventTypeCancelled, appointment)
	}
	for _, appointment := range replacements {
		s.afterCommit(ctx, entities.BookingEventTypeBooked, appointment)
	}
	return &Series{ID: req.SeriesID, Appointments: replacements}, nil
}
