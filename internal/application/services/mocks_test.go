package services_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/zatekoja/healthcare-scheduling/internal/application/services"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
)

// Mocks

type MockAppointmentRepository struct {
	mock.Mock
}

func (m *MockAppointmentRepository) Book(ctx context.Context, appointment *entities.Appointment) error {
	args := m.Called(ctx, appointment)
	return args.Error(0)
}

func (m *MockAppointmentRepository) Cancel(ctx context.Context, id string, reason string) (*entities.Appointment, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) List(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) ListScheduled(ctx context.Context, doctorID string, from, to time.Time) ([]*entities.Appointment, error) {
	args := m.Called(ctx, doctorID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) BookSeries(ctx context.Context, seriesID string, appointments []*entities.Appointment) error {
	return m.Called(ctx, seriesID, appointments).Error(0)
}

func (m *MockAppointmentRepository) CancelSeries(ctx context.Context, seriesID string, reason string, from time.Time) ([]*entities.Appointment, error) {
	args := m.Called(ctx, seriesID, reason, from)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) Reschedule(ctx context.Context, replacedIDs []string, reason string, replacements []*entities.Appointment) ([]*entities.Appointment, error) {
	args := m.Called(ctx, replacedIDs, reason, replacements)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Appointment), args.Error(1)
}

type MockWaitlistRepository struct {
	mock.Mock
}

func (m *MockWaitlistRepository) Create(ctx context.Context, entry *entities.WaitlistEntry, window time.Duration) error {
	return m.Called(ctx, entry, window).Error(0)
}

func (m *MockWaitlistRepository) GetByID(ctx context.Context, id string) (*entities.WaitlistEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.WaitlistEntry), args.Error(1)
}

func (m *MockWaitlistRepository) List(ctx context.Context, filter repositories.WaitlistFilter) ([]*entities.WaitlistEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.WaitlistEntry), args.Error(1)
}

func (m *MockWaitlistRepository) NotifyOverlapping(ctx context.Context, doctorID string, from, to, now, expiresAt time.Time) ([]*entities.WaitlistEntry, error) {
	args := m.Called(ctx, doctorID, from, to, now, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.WaitlistEntry), args.Error(1)
}

func (m *MockWaitlistRepository) Transition(ctx context.Context, id string, from []entities.WaitlistStatus, next entities.WaitlistStatus, appointmentID *string) (*entities.WaitlistEntry, error) {
	args := m.Called(ctx, id, from, next, appointmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.WaitlistEntry), args.Error(1)
}

func (m *MockWaitlistRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type MockBooker struct {
	mock.Mock
}

func (m *MockBooker) BookAppointment(ctx context.Context, req services.BookingRequest) (*entities.Appointment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Appointment), args.Error(1)
}

type MockAvailabilityRepository struct {
	mock.Mock
}

func (m *MockAvailabilityRepository) Create(ctx context.Context, slot *entities.AvailabilitySlot) error {
	return m.Called(ctx, slot).Error(0)
}

func (m *MockAvailabilityRepository) GetByID(ctx context.Context, id string) (*entities.AvailabilitySlot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.AvailabilitySlot), args.Error(1)
}

func (m *MockAvailabilityRepository) ListByDoctor(ctx context.Context, doctorID string, from, to time.Time, status entities.SlotStatus) ([]*entities.AvailabilitySlot, error) {
	args := m.Called(ctx, doctorID, from, to, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.AvailabilitySlot), args.Error(1)
}

type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) providers.RateLimitDecision {
	args := m.Called(ctx, identifier, endpoint, limit, window)
	return args.Get(0).(providers.RateLimitDecision)
}

type MockBookingLocker struct {
	mock.Mock
}

func (m *MockBookingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*providers.Lease, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Lease), args.Error(1)
}

func (m *MockBookingLocker) Release(ctx context.Context, lease *providers.Lease) error {
	return m.Called(ctx, lease).Error(0)
}

type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(ctx context.Context, doctorID string, from, to time.Time) {
	m.Called(ctx, doctorID, from, to)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event *entities.BookingEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockEventPublisher) Close() error {
	return m.Called().Error(0)
}
