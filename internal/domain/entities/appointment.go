package entities

import (
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
)

// Valid reports whether s is a known appointment status
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow:
		return true
	}
	return false
}

// SlotStatus represents the status of an availability slot
type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusCancelled SlotStatus = "cancelled"
)

// Appointment represents a scheduled appointment between a patient and a doctor
type Appointment struct {
	ID                 string            `json:"id" db:"id"`
	PatientID          string            `json:"patient_id" db:"patient_id"`
	DoctorID           string            `json:"doctor_id" db:"doctor_id"`
	SlotID             *string           `json:"slot_id,omitempty" db:"slot_id"`
	SeriesID           *string           `json:"series_id,omitempty" db:"series_id"`
	StartTime          time.Time         `json:"start_time" db:"start_time"`
	EndTime            time.Time         `json:"end_time" db:"end_time"`
	Status             AppointmentStatus `json:"status" db:"status"`
	Reason             string            `json:"reason,omitempty" db:"reason"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason *string           `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

// Range returns the appointment's half-open time range
func (a *Appointment) Range() TimeRange {
	return TimeRange{Start: a.StartTime, End: a.EndTime}
}

// AvailabilitySlot represents a window in which a doctor accepts appointments
type AvailabilitySlot struct {
	ID                  string     `json:"id" db:"id"`
	DoctorID            string     `json:"doctor_id" db:"doctor_id"`
	StartTime           time.Time  `json:"start_time" db:"start_time"`
	EndTime             time.Time  `json:"end_time" db:"end_time"`
	Status              SlotStatus `json:"status" db:"status"`
	MaxAppointments     int        `json:"max_appointments" db:"max_appointments"`
	CurrentAppointments int        `json:"current_appointments" db:"current_appointments"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Date returns the slot's calendar day in UTC
func (s *AvailabilitySlot) Date() time.Time {
	y, m, d := s.StartTime.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HasCapacity reports whether the slot can take another appointment
func (s *AvailabilitySlot) HasCapacity() bool {
	return s.Status != SlotStatusCancelled && s.CurrentAppointments < s.MaxAppointments
}

// Contains reports whether r lies entirely within the slot
func (s *AvailabilitySlot) Contains(r TimeRange) bool {
	return !s.StartTime.After(r.Start) && !s.EndTime.Before(r.End)
}

// TimeRange is a half-open interval [Start, End)
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the range is non-empty
func (r TimeRange) Valid() bool {
	return r.End.After(r.Start)
}

// Overlaps reports whether two half-open ranges share any instant.
// Ranges that only touch at a boundary do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && r.End.After(other.Start)
}

// Duration returns the length of the range
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}
