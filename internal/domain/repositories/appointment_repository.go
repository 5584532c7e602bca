package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
)

// AppointmentRepository defines the interface for appointment data operations
type AppointmentRepository interface {
	// Book runs the serializable booking transaction: lock the containing slot,
	// reject overlapping scheduled appointments, check capacity, insert and commit.
	// On success the appointment's ID, SlotID, Status and timestamps are populated.
	Book(ctx context.Context, appointment *entities.Appointment) error

	// Cancel cancels a scheduled appointment and frees its slot capacity
	Cancel(ctx context.Context, id string, reason string) (*entities.Appointment, error)

	// GetByID retrieves an appointment by ID
	GetByID(ctx context.Context, id string) (*entities.Appointment, error)

	// List retrieves appointments matching the filter, newest first
	List(ctx context.Context, filter AppointmentFilter) ([]*entities.Appointment, error)

	// ListScheduled retrieves scheduled appointments of a doctor overlapping [from, to)
	ListScheduled(ctx context.Context, doctorID string, from, to time.Time) ([]*entities.Appointment, error)

	// BookSeries books every occurrence in one serializable transaction and
	// stamps seriesID on each. Either all occurrences commit or none do.
	BookSeries(ctx context.Context, seriesID string, appointments []*entities.Appointment) error

	// CancelSeries cancels the scheduled occurrences of a series starting at or after from
	CancelSeries(ctx context.Context, seriesID string, reason string, from time.Time) ([]*entities.Appointment, error)

	// Reschedule cancels the replaced appointments and books their
	// replacements in one transaction, returning the cancelled ones.
	Reschedule(ctx context.Context, replacedIDs []string, reason string, replacements []*entities.Appointment) ([]*entities.Appointment, error)
}

// AppointmentFilter defines filters for listing appointments
type AppointmentFilter struct {
	DoctorID  string
	PatientID string
	SeriesID  string
	Status    entities.AppointmentStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// AvailabilityRepository defines the interface for availability slot operations
type AvailabilityRepository interface {
	// Create creates a new availability slot
	Create(ctx context.Context, slot *entities.AvailabilitySlot) error

	// GetByID retrieves an availability slot by ID
	GetByID(ctx context.Context, id string) (*entities.AvailabilitySlot, error)

	// ListByDoctor retrieves slots of a doctor starting within [from, to).
	// An empty status returns every non-cancelled slot.
	ListByDoctor(ctx context.Context, doctorID string, from, to time.Time, status entities.SlotStatus) ([]*entities.AvailabilitySlot, error)
}
