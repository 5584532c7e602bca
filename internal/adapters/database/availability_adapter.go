package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

var slotColumns = []interface{}{
	"id", "doctor_id", "start_time", "end_time", "status",
	"max_appointments", "current_appointments", "created_at", "updated_at",
}

// AvailabilityAdapter implements the AvailabilityRepository interface
type AvailabilityAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAvailabilityAdapter creates a new availability slot adapter
func NewAvailabilityAdapter(client *postgres.Client) repositories.AvailabilityRepository {
	return &AvailabilityAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create creates a new availability slot
func (a *AvailabilityAdapter) Create(ctx context.Context, slot *entities.AvailabilitySlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.Status == "" {
		slot.Status = entities.SlotStatusAvailable
	}
	if slot.MaxAppointments == 0 {
		slot.MaxAppointments = 1
	}
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now

	query, args, err := a.db.Insert("availability_slots").Rows(goqu.Record{
		"id":                   slot.ID,
		"doctor_id":            slot.DoctorID,
		"start_time":           slot.StartTime.UTC(),
		"end_time":             slot.EndTime.UTC(),
		"status":               string(slot.Status),
		"max_appointments":     slot.MaxAppointments,
		"current_appointments": slot.CurrentAppointments,
		"created_at":           now,
		"updated_at":           now,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create availability slot", err)
	}
	return nil
}

// GetByID retrieves an availability slot by ID
func (a *AvailabilityAdapter) GetByID(ctx context.Context, id string) (*entities.AvailabilitySlot, error) {
	query, args, err := a.db.From("availability_slots").
		Select(slotColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	slot, err := scanSlot(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("availability slot with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get availability slot", err)
	}
	return slot, nil
}

// ListByDoctor retrieves slots of a doctor starting within [from, to)
func (a *AvailabilityAdapter) ListByDoctor(ctx context.Context, doctorID string, from, to time.Time, status entities.SlotStatus) ([]*entities.AvailabilitySlot, error) {
	ds := a.db.From("availability_slots").
		Select(slotColumns...).
		Where(
			goqu.Ex{"doctor_id": doctorID},
			goqu.C("start_time").Gte(from.UTC()),
			goqu.C("start_time").Lt(to.UTC()),
		)

	if status != "" {
		ds = ds.Where(goqu.Ex{"status": string(status)})
	} else {
		ds = ds.Where(goqu.C("status").Neq(string(entities.SlotStatusCancelled)))
	}

	query, args, err := ds.Order(goqu.I("start_time").Asc()).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list availability slots", err)
	}
	defer rows.Close()

	var slots []*entities.AvailabilitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan availability slot", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate availability slots", err)
	}

	return slots, nil
}

func scanSlot(row rowScanner) (*entities.AvailabilitySlot, error) {
	slot := &entities.AvailabilitySlot{}
	err := row.Scan(
		&slot.ID,
		&slot.DoctorID,
		&slot.StartTime,
		&slot.EndTime,
		&slot.Status,
		&slot.MaxAppointments,
		&slot.CurrentAppointments,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return slot, nil
}
