package database_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/healthcare-scheduling/internal/adapters/database"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

const (
	lockSlotQuery     = `SELECT .* FROM "availability_slots" WHERE .* FOR UPDATE`
	overlapQuery      = `SELECT "id" FROM "appointments" WHERE .* FOR UPDATE`
	insertAppointment = `INSERT INTO "appointments"`
	incrementSlot     = `UPDATE "availability_slots" SET .*current_appointments \+ 1`
	lockAppointment   = `SELECT .* FROM "appointments" WHERE .*"id" = 'appt-1'.* FOR UPDATE`
	cancelAppointment = `UPDATE "appointments" SET`
	releaseSlot       = `UPDATE "availability_slots" SET .*GREATEST\(current_appointments - 1, 0\)`
)

var (
	slotCols = []string{
		"id", "doctor_id", "start_time", "end_time", "status",
		"max_appointments", "current_appointments", "created_at", "updated_at",
	}
	appointmentCols = []string{
		"id", "patient_id", "doctor_id", "slot_id", "start_time", "end_time",
		"status", "reason", "cancelled_at", "cancellation_reason", "created_at", "updated_at", "series_id",
	}
	nine = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

func newMockAdapter(t *testing.T) (repositories.AppointmentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	adapter := database.NewAppointmentAdapter(postgres.NewClientFromDB(db), database.TxConfig{
		MaxAttempts: 3,
		Timeout:     time.Second,
		RetryDelay:  time.Millisecond,
	}, nil)
	return adapter, mock
}

func newRequest() *entities.Appointment {
	return &entities.Appointment{
		PatientID: "patient-a",
		DoctorID:  "doc-1",
		StartTime: nine,
		EndTime:   nine.Add(30 * time.Minute),
		Reason:    "checkup",
	}
}

func slotRow(current, max int) *sqlmock.Rows {
	return sqlmock.NewRows(slotCols).
		AddRow("slot-1", "doc-1", nine, nine.Add(time.Hour), "available", max, current, nine, nine)
}

func expectSuccessfulBooking(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(0, 2))
	mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(insertAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(incrementSlot).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestAppointmentAdapter_Book(t *testing.T) {
	t.Run("inserts appointment and increments slot", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		expectSuccessfulBooking(mock)

		appt := newRequest()
		require.NoError(t, adapter.Book(context.Background(), appt))

		assert.NotEmpty(t, appt.ID)
		require.NotNil(t, appt.SlotID)
		assert.Equal(t, "slot-1", *appt.SlotID)
		assert.Equal(t, entities.AppointmentStatusScheduled, appt.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("slot with free capacity is preferred over an earlier full one", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY current_appointments < max_appointments DESC, "start_time" ASC LIMIT 1 FOR UPDATE`)).
			WillReturnRows(slotRow(0, 2))
		mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(insertAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(incrementSlot).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, adapter.Book(context.Background(), newRequest()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overlapping scheduled appointment is a conflict", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(1, 2))
		mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("appt-9"))
		mock.ExpectRollback()

		err := adapter.Book(context.Background(), newRequest())

		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
		assert.Contains(t, err.Error(), "appt-9")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("full slot is capacity exceeded", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(1, 1))
		mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		err := adapter.Book(context.Background(), newRequest())

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeCapacityExceeded))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guarded increment touching no rows is capacity exceeded", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(0, 1))
		mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(insertAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(incrementSlot).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := adapter.Book(context.Background(), newRequest())

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeCapacityExceeded))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("time outside availability is a validation error", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(sqlmock.NewRows(slotCols))
		mock.ExpectRollback()

		err := adapter.Book(context.Background(), newRequest())

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serialization failure retries the whole transaction", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()
		expectSuccessfulBooking(mock)

		require.NoError(t, adapter.Book(context.Background(), newRequest()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serialization failure at commit retries", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(0, 2))
		mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(insertAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(incrementSlot).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
		expectSuccessfulBooking(mock)

		require.NoError(t, adapter.Book(context.Background(), newRequest()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock is retried like a serialization failure", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(0, 2))
		mock.ExpectQuery(overlapQuery).WillReturnError(&pq.Error{Code: "40P01"})
		mock.ExpectRollback()
		expectSuccessfulBooking(mock)

		require.NoError(t, adapter.Book(context.Background(), newRequest()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted retries surface as a conflict", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		for i := 0; i < 3; i++ {
			mock.ExpectBegin()
			mock.ExpectQuery(lockSlotQuery).WillReturnError(&pq.Error{Code: "40001"})
			mock.ExpectRollback()
		}

		err := adapter.Book(context.Background(), newRequest())

		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
		var pqErr *pq.Error
		assert.True(t, errors.As(err, &pqErr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other database errors are not retried", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSlotQuery).WillReturnError(errors.New("connection reset by peer"))
		mock.ExpectRollback()

		err := adapter.Book(context.Background(), newRequest())

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is internal", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := adapter.Book(context.Background(), newRequest())

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func appointmentRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows(appointmentCols).AddRow(
		"appt-1", "patient-a", "doc-1", "slot-1", nine, nine.Add(30*time.Minute),
		status, "checkup", nil, nil, nine, nine, nil,
	)
}

func TestAppointmentAdapter_Cancel(t *testing.T) {
	t.Run("cancels and releases slot capacity", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAppointment).WillReturnRows(appointmentRow("scheduled"))
		mock.ExpectExec(cancelAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(releaseSlot).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		appt, err := adapter.Cancel(context.Background(), "appt-1", "patient request")

		require.NoError(t, err)
		assert.Equal(t, entities.AppointmentStatusCancelled, appt.Status)
		require.NotNil(t, appt.CancelledAt)
		require.NotNil(t, appt.CancellationReason)
		assert.Equal(t, "patient request", *appt.CancellationReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only scheduled appointments can be cancelled", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAppointment).WillReturnRows(appointmentRow("completed"))
		mock.ExpectRollback()

		_, err := adapter.Cancel(context.Background(), "appt-1", "")

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown appointment", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAppointment).WillReturnRows(sqlmock.NewRows(appointmentCols))
		mock.ExpectRollback()

		_, err := adapter.Cancel(context.Background(), "appt-1", "")

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAppointmentAdapter_GetByID(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "appointments" WHERE ("id" = 'appt-1')`)).
		WillReturnRows(appointmentRow("scheduled"))
	appt, err := adapter.GetByID(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", appt.DoctorID)
	assert.Equal(t, "checkup", appt.Reason)
	assert.Nil(t, appt.CancelledAt)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "appointments" WHERE ("id" = 'missing')`)).
		WillReturnRows(sqlmock.NewRows(appointmentCols))
	_, err = adapter.GetByID(context.Background(), "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentAdapter_List(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(`FROM "appointments" WHERE .*"doctor_id" = 'doc-1'.*"status" = 'scheduled'.* ORDER BY "start_time" DESC LIMIT 10`).
		WillReturnRows(appointmentRow("scheduled"))

	appts, err := adapter.List(context.Background(), repositories.AppointmentFilter{
		DoctorID: "doc-1",
		Status:   entities.AppointmentStatusScheduled,
		Limit:    10,
	})

	require.NoError(t, err)
	assert.Len(t, appts, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectOccurrenceBooked(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(0, 2))
	mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(insertAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(incrementSlot).WillReturnResult(sqlmock.NewResult(0, 1))
}

func weekly(n int) []*entities.Appointment {
	out := make([]*entities.Appointment, n)
	for i := range out {
		start := nine.AddDate(0, 0, 7*i)
		out[i] = &entities.Appointment{PatientID: "patient-a", DoctorID: "doc-1", StartTime: start, EndTime: start.Add(30 * time.Minute)}
	}
	return out
}

func TestAppointmentAdapter_BookSeries(t *testing.T) {
	t.Run("books every occurrence in one transaction", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		expectOccurrenceBooked(mock)
		expectOccurrenceBooked(mock)
		mock.ExpectCommit()

		occurrences := weekly(2)
		require.NoError(t, adapter.BookSeries(context.Background(), "series-1", occurrences))

		for _, appt := range occurrences {
			assert.NotEmpty(t, appt.ID)
			require.NotNil(t, appt.SeriesID)
			assert.Equal(t, "series-1", *appt.SeriesID)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a conflicting occurrence rolls back the whole series", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		expectOccurrenceBooked(mock)
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(1, 2))
		mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("appt-9"))
		mock.ExpectRollback()

		err := adapter.BookSeries(context.Background(), "series-1", weekly(2))

		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
		assert.Contains(t, err.Error(), "occurrence 2")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serialization failure mid series retries from the start", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		expectOccurrenceBooked(mock)
		mock.ExpectQuery(lockSlotQuery).WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()
		mock.ExpectBegin()
		expectOccurrenceBooked(mock)
		expectOccurrenceBooked(mock)
		mock.ExpectCommit()

		require.NoError(t, adapter.BookSeries(context.Background(), "series-1", weekly(2)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAppointmentAdapter_CancelSeries(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "appointments" WHERE .*"series_id" = 'series-1'.*"start_time" >= .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("appt-1"))
	mock.ExpectQuery(lockAppointment).WillReturnRows(appointmentRow("scheduled"))
	mock.ExpectExec(cancelAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(releaseSlot).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cancelled, err := adapter.CancelSeries(context.Background(), "series-1", "treatment finished", nine)

	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, entities.AppointmentStatusCancelled, cancelled[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentAdapter_Reschedule(t *testing.T) {
	t.Run("cancels then books in one transaction", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAppointment).WillReturnRows(appointmentRow("scheduled"))
		mock.ExpectExec(cancelAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(releaseSlot).WillReturnResult(sqlmock.NewResult(0, 1))
		expectOccurrenceBooked(mock)
		mock.ExpectCommit()

		replacement := newRequest()
		replacement.StartTime = nine.Add(30 * time.Minute)
		replacement.EndTime = nine.Add(time.Hour)

		cancelled, err := adapter.Reschedule(context.Background(), []string{"appt-1"}, "rescheduled", []*entities.Appointment{replacement})

		require.NoError(t, err)
		require.Len(t, cancelled, 1)
		assert.NotEmpty(t, replacement.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a full slot keeps the original appointment", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAppointment).WillReturnRows(appointmentRow("scheduled"))
		mock.ExpectExec(cancelAppointment).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(releaseSlot).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(lockSlotQuery).WillReturnRows(slotRow(1, 1))
		mock.ExpectQuery(overlapQuery).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := adapter.Reschedule(context.Background(), []string{"appt-1"}, "rescheduled", []*entities.Appointment{newRequest()})

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeCapacityExceeded))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAppointmentAdapter_ListBySeries(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(`FROM "appointments" WHERE .*"series_id" = 'series-1'.* ORDER BY "start_time" DESC`).
		WillReturnRows(sqlmock.NewRows(appointmentCols).AddRow(
			"appt-1", "patient-a", "doc-1", "slot-1", nine, nine.Add(30*time.Minute),
			"scheduled", "checkup", nil, nil, nine, nine, "series-1",
		))

	appts, err := adapter.List(context.Background(), repositories.AppointmentFilter{SeriesID: "series-1"})

	require.NoError(t, err)
	require.Len(t, appts, 1)
	require.NotNil(t, appts[0].SeriesID)
	assert.Equal(t, "series-1", *appts[0].SeriesID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
