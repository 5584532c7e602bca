package providers

import (
	"context"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
)

// EventPublisher publishes booking events to downstream consumers
type EventPublisher interface {
	// Publish publishes an event
	Publish(ctx context.Context, event *entities.BookingEvent) error

	// Close releases the publisher's connections
	Close() error
}

// EventSubscriber delivers booking events published on a channel. The
// returned channel closes once ctx is done or the subscription drops.
type EventSubscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *entities.BookingEvent, error)
}

const (
	// EventChannelAppointments is the channel for all booking events
	EventChannelAppointments = "appointments:events"

	// EventChannelDoctorPrefix is the prefix for doctor-specific channels
	EventChannelDoctorPrefix = "appointments:doctor:"
)

// GetDoctorChannel returns the channel name for a specific doctor
func GetDoctorChannel(doctorID string) string {
	return EventChannelDoctorPrefix + doctorID
}
