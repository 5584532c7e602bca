package services_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

// memoryRepository applies the booking rules under one mutex, standing in
// for the serializable transaction.
type memoryRepository struct {
	mu           sync.Mutex
	slots        []*entities.AvailabilitySlot
	appointments map[string]*entities.Appointment
	bookCalls    int
}

func newMemoryRepository(slots ...*entities.AvailabilitySlot) *memoryRepository {
	return &memoryRepository{slots: slots, appointments: make(map[string]*entities.Appointment)}
}

func (r *memoryRepository) Book(ctx context.Context, appointment *entities.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookCalls++
	return r.book(appointment)
}

// book picks the earliest containing slot with free capacity, or the
// earliest containing slot when all are full.
func (r *memoryRepository) book(appointment *entities.Appointment) error {
	requested := appointment.Range()
	var slot *entities.AvailabilitySlot
	for _, s := range r.slots {
		if s.DoctorID != appointment.DoctorID || s.Status == entities.SlotStatusCancelled || !s.Contains(requested) {
			continue
		}
		switch {
		case slot == nil:
			slot = s
		case s.HasCapacity() && !slot.HasCapacity():
			slot = s
		case s.HasCapacity() == slot.HasCapacity() && s.StartTime.Before(slot.StartTime):
			slot = s
		}
	}
	if slot == nil {
		return apperrors.NewValidationError("requested time is not within the doctor's availability")
	}

	for _, existing := range r.appointments {
		if existing.DoctorID == appointment.DoctorID &&
			existing.Status == entities.AppointmentStatusScheduled &&
			existing.Range().Overlaps(requested) {
			return apperrors.NewConflictError("requested time overlaps an existing appointment")
		}
	}

	if !slot.HasCapacity() {
		return apperrors.NewCapacityExceededError("availability slot is fully booked")
	}

	slotID := slot.ID
	now := time.Now().UTC()
	if appointment.ID == "" {
		appointment.ID = uuid.NewString()
	}
	appointment.SlotID = &slotID
	appointment.Status = entities.AppointmentStatusScheduled
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	stored := *appointment
	r.appointments[appointment.ID] = &stored

	slot.CurrentAppointments++
	if slot.CurrentAppointments >= slot.MaxAppointments {
		slot.Status = entities.SlotStatusBooked
	}
	return nil
}

func (r *memoryRepository) Cancel(ctx context.Context, id string, reason string) (*entities.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel(id, reason)
}

func (r *memoryRepository) cancel(id string, reason string) (*entities.Appointment, error) {
	appointment, ok := r.appointments[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("appointment not found")
	}
	if appointment.Status != entities.AppointmentStatusScheduled {
		return nil, apperrors.NewValidationError("only scheduled appointments can be cancelled")
	}

	now := time.Now().UTC()
	appointment.Status = entities.AppointmentStatusCancelled
	appointment.CancelledAt = &now
	appointment.CancellationReason = &reason

	for _, s := range r.slots {
		if appointment.SlotID != nil && s.ID == *appointment.SlotID {
			if s.CurrentAppointments > 0 {
				s.CurrentAppointments--
			}
			if s.Status == entities.SlotStatusBooked {
				s.Status = entities.SlotStatusAvailable
			}
		}
	}

	out := *appointment
	return &out, nil
}

func (r *memoryRepository) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appointment, ok := r.appointments[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("appointment not found")
	}
	out := *appointment
	return &out, nil
}

func (r *memoryRepository) List(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entities.Appointment
	for _, a := range r.appointments {
		if filter.DoctorID != "" && a.DoctorID != filter.DoctorID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.SeriesID != "" && (a.SeriesID == nil || *a.SeriesID != filter.SeriesID) {
			continue
		}
		if filter.From != nil && a.StartTime.Before(*filter.From) {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (r *memoryRepository) ListScheduled(ctx context.Context, doctorID string, from, to time.Time) ([]*entities.Appointment, error) {
	return r.List(ctx, repositories.AppointmentFilter{DoctorID: doctorID, Status: entities.AppointmentStatusScheduled})
}

func (r *memoryRepository) BookSeries(ctx context.Context, seriesID string, appointments []*entities.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookCalls++

	return r.atomically(func() error {
		for _, a := range appointments {
			a.SeriesID = &seriesID
			if err := r.book(a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *memoryRepository) CancelSeries(ctx context.Context, seriesID string, reason string, from time.Time) ([]*entities.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cancelled []*entities.Appointment
	for id, a := range r.appointments {
		if a.SeriesID == nil || *a.SeriesID != seriesID || a.Status != entities.AppointmentStatusScheduled || a.StartTime.Before(from) {
			continue
		}
		out, err := r.cancel(id, reason)
		if err != nil {
			return nil, err
		}
		cancelled = append(cancelled, out)
	}
	sort.Slice(cancelled, func(i, j int) bool { return cancelled[i].StartTime.Before(cancelled[j].StartTime) })
	return cancelled, nil
}

func (r *memoryRepository) Reschedule(ctx context.Context, replacedIDs []string, reason string, replacements []*entities.Appointment) ([]*entities.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookCalls++

	var cancelled []*entities.Appointment
	err := r.atomically(func() error {
		for _, id := range replacedIDs {
			out, err := r.cancel(id, reason)
			if err != nil {
				return err
			}
			cancelled = append(cancelled, out)
		}
		for _, a := range replacements {
			if err := r.book(a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// atomically restores the slots and appointments when fn fails
func (r *memoryRepository) atomically(fn func() error) error {
	slots := make([]entities.AvailabilitySlot, len(r.slots))
	for i, s := range r.slots {
		slots[i] = *s
	}
	appointments := make(map[string]entities.Appointment, len(r.appointments))
	for id, a := range r.appointments {
		appointments[id] = *a
	}

	err := fn()
	if err == nil {
		return nil
	}

	for i := range r.slots {
		*r.slots[i] = slots[i]
	}
	r.appointments = make(map[string]*entities.Appointment, len(appointments))
	for id, a := range appointments {
		restored := a
		r.appointments[id] = &restored
	}
	return err
}

func (r *memoryRepository) scheduledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.appointments {
		if a.Status == entities.AppointmentStatusScheduled {
			n++
		}
	}
	return n
}

func (r *memoryRepository) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookCalls
}
