package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

var waitlistColumns = []interface{}{
	"id", "patient_id", "doctor_id", "preferred_start", "preferred_end",
	"status", "notes", "appointment_id", "notified_at", "expires_at",
	"created_at", "updated_at",
}

var openWaitlistStatuses = []string{
	string(entities.WaitlistStatusActive),
	string(entities.WaitlistStatusNotified),
}

// WaitlistAdapter implements the WaitlistRepository interface
type WaitlistAdapter struct {
	txRunner
	db *goqu.Database
}

// NewWaitlistAdapter creates a new waitlist adapter
func NewWaitlistAdapter(client *postgres.Client, cfg TxConfig, metrics *observability.Metrics) repositories.WaitlistRepository {
	return &WaitlistAdapter{
		txRunner: newTxRunner(client, cfg, metrics),
		db:       goqu.New("postgres", client.DB()),
	}
}

// Create inserts a waitlist entry after checking for an open duplicate in
// the same serializable transaction.
func (a *WaitlistAdapter) Create(ctx context.Context, entry *entities.WaitlistEntry, window time.Duration) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "create_waitlist_entry", time.Since(start)) }()

	return a.serializable(ctx, "create_waitlist_entry", func(ctx context.Context, tx *sql.Tx) error {
		preferred := entry.PreferredStart.UTC()
		query, args, err := a.db.From("waitlist_entries").
			Select("id").
			Where(
				goqu.Ex{
					"patient_id": entry.PatientID,
					"doctor_id":  entry.DoctorID,
					"status":     openWaitlistStatuses,
				},
				goqu.C("preferred_start").Gt(preferred.Add(-window)),
				goqu.C("preferred_start").Lt(preferred.Add(window)),
			).
			Limit(1).
			ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build duplicate query", err)
		}

		var existing string
		err = tx.QueryRowContext(ctx, query, args...).Scan(&existing)
		switch {
		case err == nil:
			return apperrors.NewConflictError(fmt.Sprintf("patient already waits for this doctor around that time in entry %s", existing))
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check waitlist duplicate: %w", err)
		}

		now := time.Now().UTC()
		entry.Status = entities.WaitlistStatusActive
		entry.CreatedAt = now
		entry.UpdatedAt = now

		insert, args, err := a.db.Insert("waitlist_entries").Rows(goqu.Record{
			"id":              entry.ID,
			"patient_id":      entry.PatientID,
			"doctor_id":       entry.DoctorID,
			"preferred_start": preferred,
			"preferred_end":   entry.PreferredEnd.UTC(),
			"status":          string(entry.Status),
			"notes":           entry.Notes,
			"expires_at":      entry.ExpiresAt.UTC(),
			"created_at":      now,
			"updated_at":      now,
		}).ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build insert query", err)
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert waitlist entry: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a waitlist entry by ID
func (a *WaitlistAdapter) GetByID(ctx context.Context, id string) (*entities.WaitlistEntry, error) {
	query, args, err := a.db.From("waitlist_entries").
		Select(waitlistColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	entry, err := scanWaitlistEntry(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("waitlist entry with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get waitlist entry", err)
	}
	return entry, nil
}

// List retrieves waitlist entries matching the filter, oldest first
func (a *WaitlistAdapter) List(ctx context.Context, filter repositories.WaitlistFilter) ([]*entities.WaitlistEntry, error) {
	ds := a.db.From("waitlist_entries").Select(waitlistColumns...)

	if filter.DoctorID != "" {
		ds = ds.Where(goqu.Ex{"doctor_id": filter.DoctorID})
	}
	if filter.PatientID != "" {
		ds = ds.Where(goqu.Ex{"patient_id": filter.PatientID})
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(filter.Status)})
	}

	ds = ds.Order(goqu.I("created_at").Asc())

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list waitlist entries", err)
	}
	return collectWaitlistEntries(rows)
}

// NotifyOverlapping flips the doctor's active, unexpired entries that overlap
// the freed range to notified in a single statement.
func (a *WaitlistAdapter) NotifyOverlapping(ctx context.Context, doctorID string, from, to, now, expiresAt time.Time) ([]*entities.WaitlistEntry, error) {
	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "notify_waitlist", time.Since(start)) }()

	query, args, err := a.db.Update("waitlist_entries").
		Set(goqu.Record{
			"status":      string(entities.WaitlistStatusNotified),
			"notified_at": now.UTC(),
			"expires_at":  expiresAt.UTC(),
			"updated_at":  now.UTC(),
		}).
		Where(
			goqu.Ex{
				"doctor_id": doctorID,
				"status":    string(entities.WaitlistStatusActive),
			},
			goqu.C("preferred_start").Lt(to.UTC()),
			goqu.C("preferred_end").Gt(from.UTC()),
			goqu.C("expires_at").Gt(now.UTC()),
		).
		Returning(waitlistColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build notify query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to notify waitlist", err)
	}
	entries, err := collectWaitlistEntries(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING carries no order
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// Transition moves an entry between statuses with a guarded update
func (a *WaitlistAdapter) Transition(ctx context.Context, id string, from []entities.WaitlistStatus, next entities.WaitlistStatus, appointmentID *string) (*entities.WaitlistEntry, error) {
	allowed := make([]string, len(from))
	for i, status := range from {
		allowed[i] = string(status)
	}

	record := goqu.Record{
		"status":     string(next),
		"updated_at": time.Now().UTC(),
	}
	if appointmentID != nil {
		record["appointment_id"] = *appointmentID
	}

	query, args, err := a.db.Update("waitlist_entries").
		Set(record).
		Where(goqu.Ex{"id": id, "status": allowed}).
		Returning(waitlistColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build transition query", err)
	}

	entry, err := scanWaitlistEntry(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewInternalError("failed to update waitlist entry", err)
	}

	current, err := a.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, apperrors.NewConflictError(fmt.Sprintf("waitlist entry %s is %s", id, current.Status))
}

// ExpireLapsed marks open entries past their expiry as expired
func (a *WaitlistAdapter) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := a.db.Update("waitlist_entries").
		Set(goqu.Record{
			"status":     string(entities.WaitlistStatusExpired),
			"updated_at": now.UTC(),
		}).
		Where(
			goqu.Ex{"status": openWaitlistStatuses},
			goqu.C("expires_at").Lte(now.UTC()),
		).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build expiry query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to expire waitlist entries", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to expire waitlist entries", err)
	}
	return n, nil
}

func collectWaitlistEntries(rows *sql.Rows) ([]*entities.WaitlistEntry, error) {
	defer rows.Close()

	var entries []*entities.WaitlistEntry
	for rows.Next() {
		entry, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan waitlist entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate waitlist entries", err)
	}
	return entries, nil
}

func scanWaitlistEntry(row rowScanner) (*entities.WaitlistEntry, error) {
	entry := &entities.WaitlistEntry{}
	var appointmentID sql.NullString
	var notifiedAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.PatientID,
		&entry.DoctorID,
		&entry.PreferredStart,
		&entry.PreferredEnd,
		&entry.Status,
		&entry.Notes,
		&appointmentID,
		&notifiedAt,
		&entry.ExpiresAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if appointmentID.Valid {
		entry.AppointmentID = &appointmentID.String
	}
	if notifiedAt.Valid {
		entry.NotifiedAt = &notifiedAt.Time
	}
	return entry, nil
}
