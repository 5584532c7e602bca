package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

var appointmentColumns = []interface{}{
	"id", "patient_id", "doctor_id", "slot_id", "start_time", "end_time",
	"status", "reason", "cancelled_at", "cancellation_reason",
	"created_at", "updated_at", "series_id",
}

// AppointmentAdapter implements the AppointmentRepository interface
type AppointmentAdapter struct {
	txRunner
	db *goqu.Database
}

// NewAppointmentAdapter creates a new appointment adapter
func NewAppointmentAdapter(client *postgres.Client, cfg TxConfig, metrics *observability.Metrics) repositories.AppointmentRepository {
	return &AppointmentAdapter{
		txRunner: newTxRunner(client, cfg, metrics),
		db:       goqu.New("postgres", client.DB()),
	}
}

// Book inserts the appointment inside a serializable transaction after
// locking the containing availability slot and re-checking for overlaps.
func (a *AppointmentAdapter) Book(ctx context.Context, appointment *entities.Appointment) error {
	if appointment.ID == "" {
		appointment.ID = uuid.NewString()
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "book_appointment", time.Since(start)) }()

	return a.serializable(ctx, "book_appointment", func(ctx context.Context, tx *sql.Tx) error {
		return a.book(ctx, tx, appointment)
	})
}

func (a *AppointmentAdapter) book(ctx context.Context, tx *sql.Tx, appointment *entities.Appointment) error {
	slot, err := a.lockContainingSlot(ctx, tx, appointment)
	if err != nil {
		return err
	}

	conflictID, err := a.findOverlap(ctx, tx, appointment)
	if err != nil {
		return err
	}
	if conflictID != "" {
		return apperrors.NewConflictError(fmt.Sprintf("time range overlaps appointment %s", conflictID))
	}

	if slot.CurrentAppointments >= slot.MaxAppointments {
		return apperrors.NewCapacityExceededError(fmt.Sprintf("availability slot %s is fully booked", slot.ID))
	}

	now := time.Now().UTC()
	appointment.SlotID = &slot.ID
	appointment.Status = entities.AppointmentStatusScheduled
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	insert, args, err := a.db.Insert("appointments").Rows(goqu.Record{
		"id":         appointment.ID,
		"patient_id": appointment.PatientID,
		"doctor_id":  appointment.DoctorID,
		"slot_id":    slot.ID,
		"start_time": appointment.StartTime.UTC(),
		"end_time":   appointment.EndTime.UTC(),
		"status":     string(appointment.Status),
		"reason":     appointment.Reason,
		"series_id":  nullable(appointment.SeriesID),
		"created_at": now,
		"updated_at": now,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	status := slot.Status
	if slot.CurrentAppointments+1 >= slot.MaxAppointments {
		status = entities.SlotStatusBooked
	}

	update, args, err := a.db.Update("availability_slots").
		Set(goqu.Record{
			"current_appointments": goqu.L("current_appointments + 1"),
			"status":               string(status),
			"updated_at":           now,
		}).
		Where(
			goqu.Ex{"id": slot.ID},
			goqu.C("current_appointments").Lt(goqu.C("max_appointments")),
		).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build slot update query", err)
	}

	result, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return fmt.Errorf("increment slot capacity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment slot capacity: %w", err)
	}
	if rows == 0 {
		return apperrors.NewCapacityExceededError(fmt.Sprintf("availability slot %s is fully booked", slot.ID))
	}

	return nil
}

// lockContainingSlot row-locks a non-cancelled slot covering the appointment,
// preferring slots with free capacity and then the earliest.
func (a *AppointmentAdapter) lockContainingSlot(ctx context.Context, tx *sql.Tx, appointment *entities.Appointment) (*entities.AvailabilitySlot, error) {
	query, args, err := a.db.From("availability_slots").
		Select(slotColumns...).
		Where(
			goqu.Ex{"doctor_id": appointment.DoctorID},
			goqu.C("start_time").Lte(appointment.StartTime.UTC()),
			goqu.C("end_time").Gte(appointment.EndTime.UTC()),
			goqu.C("status").Neq(string(entities.SlotStatusCancelled)),
		).
		Order(
			goqu.L("current_appointments < max_appointments").Desc(),
			goqu.I("start_time").Asc(),
		).
		Limit(1).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build slot query", err)
	}

	slot, err := scanSlot(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewValidationError("requested time is not within the doctor's availability")
	}
	if err != nil {
		return nil, fmt.Errorf("lock availability slot: %w", err)
	}
	return slot, nil
}

// findOverlap returns the id of a scheduled appointment overlapping the
// half-open range of the candidate, locking it, or "" when there is none.
func (a *AppointmentAdapter) findOverlap(ctx context.Context, tx *sql.Tx, appointment *entities.Appointment) (string, error) {
	query, args, err := a.db.From("appointments").
		Select("id").
		Where(
			goqu.Ex{
				"doctor_id": appointment.DoctorID,
				"status":    string(entities.AppointmentStatusScheduled),
			},
			goqu.C("start_time").Lt(appointment.EndTime.UTC()),
			goqu.C("end_time").Gt(appointment.StartTime.UTC()),
		).
		Order(goqu.I("start_time").Asc()).
		Limit(1).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return "", apperrors.NewInternalError("failed to build conflict query", err)
	}

	var id string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("check overlapping appointments: %w", err)
	}
	return id, nil
}

// Cancel cancels a scheduled appointment and returns one unit of capacity to its slot
func (a *AppointmentAdapter) Cancel(ctx context.Context, id string, reason string) (*entities.Appointment, error) {
	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "cancel_appointment", time.Since(start)) }()

	var cancelled *entities.Appointment
	err := a.serializable(ctx, "cancel_appointment", func(ctx context.Context, tx *sql.Tx) error {
		appointment, err := a.cancel(ctx, tx, id, reason)
		if err != nil {
			return err
		}
		cancelled = appointment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (a *AppointmentAdapter) cancel(ctx context.Context, tx *sql.Tx, id string, reason string) (*entities.Appointment, error) {
	query, args, err := a.db.From("appointments").
		Select(appointmentColumns...).
		Where(goqu.Ex{"id": id}).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	appointment, err := scanAppointment(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("lock appointment: %w", err)
	}

	if appointment.Status != entities.AppointmentStatusScheduled {
		return nil, apperrors.NewValidationError(fmt.Sprintf("cannot cancel appointment in status %s", appointment.Status))
	}

	now := time.Now().UTC()
	update, args, err := a.db.Update("appointments").
		Set(goqu.Record{
			"status":              string(entities.AppointmentStatusCancelled),
			"cancelled_at":        now,
			"cancellation_reason": reason,
			"updated_at":          now,
		}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build cancel query", err)
	}
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if appointment.SlotID != nil {
		release, args, err := a.db.Update("availability_slots").
			Set(goqu.Record{
				"current_appointments": goqu.L("GREATEST(current_appointments - 1, 0)"),
				"status":               goqu.L("CASE WHEN status = ? THEN ? ELSE status END", string(entities.SlotStatusBooked), string(entities.SlotStatusAvailable)),
				"updated_at":           now,
			}).
			Where(goqu.Ex{"id": *appointment.SlotID}).
			ToSQL()
		if err != nil {
			return nil, apperrors.NewInternalError("failed to build slot release query", err)
		}
		if _, err := tx.ExecContext(ctx, release, args...); err != nil {
			return nil, fmt.Errorf("release slot capacity: %w", err)
		}
	}

	appointment.Status = entities.AppointmentStatusCancelled
	appointment.CancelledAt = &now
	appointment.CancellationReason = &reason
	appointment.UpdatedAt = now
	return appointment, nil
}

// BookSeries books every occurrence of a series in one serializable transaction
func (a *AppointmentAdapter) BookSeries(ctx context.Context, seriesID string, appointments []*entities.Appointment) error {
	if len(appointments) == 0 {
		return apperrors.NewValidationError("a series needs at least one occurrence")
	}
	for _, appointment := range appointments {
		if appointment.ID == "" {
			appointment.ID = uuid.NewString()
		}
		appointment.SeriesID = &seriesID
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "book_series", time.Since(start)) }()

	return a.serializable(ctx, "book_series", func(ctx context.Context, tx *sql.Tx) error {
		for i, appointment := range appointments {
			if err := a.book(ctx, tx, appointment); err != nil {
				return occurrenceError(i, appointment, err)
			}
		}
		return nil
	})
}

// CancelSeries cancels the scheduled occurrences of a series from the given time on
func (a *AppointmentAdapter) CancelSeries(ctx context.Context, seriesID string, reason string, from time.Time) ([]*entities.Appointment, error) {
	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "cancel_series", time.Since(start)) }()

	var cancelled []*entities.Appointment
	err := a.serializable(ctx, "cancel_series", func(ctx context.Context, tx *sql.Tx) error {
		cancelled = nil

		query, args, err := a.db.From("appointments").
			Select("id").
			Where(
				goqu.Ex{
					"series_id": seriesID,
					"status":    string(entities.AppointmentStatusScheduled),
				},
				goqu.C("start_time").Gte(from.UTC()),
			).
			Order(goqu.I("start_time").Asc()).
			ForUpdate(exp.Wait).
			ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build series query", err)
		}

		ids, err := queryIDs(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("lock series: %w", err)
		}
		for _, id := range ids {
			appointment, err := a.cancel(ctx, tx, id, reason)
			if err != nil {
				return err
			}
			cancelled = append(cancelled, appointment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Reschedule swaps the replaced appointments for their replacements in one
// serializable transaction. Capacity freed by the cancellations is visible
// to the bookings that follow.
func (a *AppointmentAdapter) Reschedule(ctx context.Context, replacedIDs []string, reason string, replacements []*entities.Appointment) ([]*entities.Appointment, error) {
	for _, appointment := range replacements {
		if appointment.ID == "" {
			appointment.ID = uuid.NewString()
		}
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "reschedule", time.Since(start)) }()

	var cancelled []*entities.Appointment
	err := a.serializable(ctx, "reschedule", func(ctx context.Context, tx *sql.Tx) error {
		cancelled = nil
		for _, id := range replacedIDs {
			appointment, err := a.cancel(ctx, tx, id, reason)
			if err != nil {
				return err
			}
			cancelled = append(cancelled, appointment)
		}
		for i, appointment := range replacements {
			if err := a.book(ctx, tx, appointment); err != nil {
				return occurrenceError(i, appointment, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// occurrenceError names the occurrence that failed, keeping the error type.
// Store errors pass through untouched so serialization failures still retry.
func occurrenceError(i int, appointment *entities.Appointment, err error) error {
	appErr, ok := apperrors.As(err)
	if !ok {
		return err
	}
	return &apperrors.AppError{
		Type:       appErr.Type,
		Message:    fmt.Sprintf("occurrence %d at %s: %s", i+1, appointment.StartTime.UTC().Format(time.RFC3339), appErr.Message),
		Err:        appErr.Err,
		RetryAfter: appErr.RetryAfter,
		Degraded:   appErr.Degraded,
	}
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args []interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByID retrieves an appointment by ID
func (a *AppointmentAdapter) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	query, args, err := a.db.From("appointments").
		Select(appointmentColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	appointment, err := scanAppointment(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get appointment", err)
	}
	return appointment, nil
}

// List retrieves appointments matching the filter
func (a *AppointmentAdapter) List(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	ds := a.db.From("appointments").Select(appointmentColumns...)

	if filter.DoctorID != "" {
		ds = ds.Where(goqu.Ex{"doctor_id": filter.DoctorID})
	}
	if filter.PatientID != "" {
		ds = ds.Where(goqu.Ex{"patient_id": filter.PatientID})
	}
	if filter.SeriesID != "" {
		ds = ds.Where(goqu.Ex{"series_id": filter.SeriesID})
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(filter.Status)})
	}
	if filter.From != nil {
		ds = ds.Where(goqu.C("start_time").Gte(filter.From.UTC()))
	}
	if filter.To != nil {
		ds = ds.Where(goqu.C("start_time").Lt(filter.To.UTC()))
	}

	ds = ds.Order(goqu.I("start_time").Desc())

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	return a.queryAppointments(ctx, ds)
}

// ListScheduled retrieves scheduled appointments of a doctor overlapping [from, to)
func (a *AppointmentAdapter) ListScheduled(ctx context.Context, doctorID string, from, to time.Time) ([]*entities.Appointment, error) {
	ds := a.db.From("appointments").
		Select(appointmentColumns...).
		Where(
			goqu.Ex{
				"doctor_id": doctorID,
				"status":    string(entities.AppointmentStatusScheduled),
			},
			goqu.C("start_time").Lt(to.UTC()),
			goqu.C("end_time").Gt(from.UTC()),
		).
		Order(goqu.I("start_time").Asc())

	return a.queryAppointments(ctx, ds)
}

func (a *AppointmentAdapter) queryAppointments(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.Appointment, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list appointments", err)
	}
	defer rows.Close()

	var appointments []*entities.Appointment
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan appointment", err)
		}
		appointments = append(appointments, appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate appointments", err)
	}

	return appointments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppointment(row rowScanner) (*entities.Appointment, error) {
	appointment := &entities.Appointment{}
	var slotID, reason, cancellationReason, seriesID sql.NullString
	var cancelledAt sql.NullTime

	err := row.Scan(
		&appointment.ID,
		&appointment.PatientID,
		&appointment.DoctorID,
		&slotID,
		&appointment.StartTime,
		&appointment.EndTime,
		&appointment.Status,
		&reason,
		&cancelledAt,
		&cancellationReason,
		&appointment.CreatedAt,
		&appointment.UpdatedAt,
		&seriesID,
	)
	if err != nil {
		return nil, err
	}

	if slotID.Valid {
		appointment.SlotID = &slotID.String
	}
	if seriesID.Valid {
		appointment.SeriesID = &seriesID.String
	}
	appointment.Reason = reason.String
	if cancelledAt.Valid {
		appointment.CancelledAt = &cancelledAt.Time
	}
	if cancellationReason.Valid {
		appointment.CancellationReason = &cancellationReason.String
	}

	return appointment, nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
