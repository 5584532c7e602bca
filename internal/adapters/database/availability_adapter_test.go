package database_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/healthcare-scheduling/internal/adapters/database"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

func TestAvailabilityAdapter_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := database.NewAvailabilityAdapter(postgres.NewClientFromDB(db))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "availability_slots"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	slot := &entities.AvailabilitySlot{DoctorID: "doc-1", StartTime: nine, EndTime: nine.Add(time.Hour)}
	require.NoError(t, adapter.Create(context.Background(), slot))

	assert.NotEmpty(t, slot.ID)
	assert.Equal(t, entities.SlotStatusAvailable, slot.Status)
	assert.Equal(t, 1, slot.MaxAppointments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityAdapter_ListByDoctor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := database.NewAvailabilityAdapter(postgres.NewClientFromDB(db))

	t.Run("filters by status", func(t *testing.T) {
		mock.ExpectQuery(`FROM "availability_slots" WHERE .*"doctor_id" = 'doc-1'.*"status" = 'available'.*ORDER BY "start_time" ASC`).
			WillReturnRows(slotRow(0, 1).AddRow("slot-2", "doc-1", nine.Add(time.Hour), nine.Add(2*time.Hour), "available", 1, 0, nine, nine))

		slots, err := adapter.ListByDoctor(context.Background(), "doc-1", nine, nine.Add(24*time.Hour), entities.SlotStatusAvailable)
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, "slot-2", slots[1].ID)
	})

	t.Run("empty status excludes cancelled slots", func(t *testing.T) {
		mock.ExpectQuery(`FROM "availability_slots" WHERE .*"status" != 'cancelled'`).
			WillReturnRows(sqlmock.NewRows(slotCols))

		slots, err := adapter.ListByDoctor(context.Background(), "doc-1", nine, nine.Add(24*time.Hour), "")
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityAdapter_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := database.NewAvailabilityAdapter(postgres.NewClientFromDB(db))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "availability_slots" WHERE ("id" = 'nope')`)).
		WillReturnRows(sqlmock.NewRows(slotCols))

	_, err = adapter.GetByID(context.Background(), "nope")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}
