package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
)

// WaitlistRepository defines the interface for waitlist entry operations
type WaitlistRepository interface {
	// Create inserts the entry unless the patient already holds an open
	// entry for the doctor whose preferred start lies within window of it,
	// in which case a conflict is returned.
	Create(ctx context.Context, entry *entities.WaitlistEntry, window time.Duration) error

	// GetByID retrieves a waitlist entry by ID
	GetByID(ctx context.Context, id string) (*entities.WaitlistEntry, error)

	// List retrieves entries matching the filter in arrival order
	List(ctx context.Context, filter WaitlistFilter) ([]*entities.WaitlistEntry, error)

	// NotifyOverlapping moves the doctor's active entries overlapping
	// [from, to) to notified, oldest first, holding each until expiresAt.
	NotifyOverlapping(ctx context.Context, doctorID string, from, to, now, expiresAt time.Time) ([]*entities.WaitlistEntry, error)

	// Transition moves an entry currently in one of from to next. An entry
	// in any other status is a conflict.
	Transition(ctx context.Context, id string, from []entities.WaitlistStatus, next entities.WaitlistStatus, appointmentID *string) (*entities.WaitlistEntry, error)

	// ExpireLapsed marks open entries whose hold ended by now as expired
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

// WaitlistFilter defines filters for listing waitlist entries
type WaitlistFilter struct {
	DoctorID  string
	PatientID string
	Status    entities.WaitlistStatus
	Limit     int
	Offset    int
}
