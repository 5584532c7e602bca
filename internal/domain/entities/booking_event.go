package entities

import (
	"time"

	"github.com/google/uuid"
)

// BookingEventType represents the type of booking event
type BookingEventType string

const (
	BookingEventTypeBooked    BookingEventType = "appointment.booked"
	BookingEventTypeCancelled BookingEventType = "appointment.cancelled"
)

// BookingEvent is published after an appointment change commits
type BookingEvent struct {
	ID            string           `json:"id"`
	Type          BookingEventType `json:"type"`
	AppointmentID string           `json:"appointment_id"`
	DoctorID      string           `json:"doctor_id"`
	PatientID     string           `json:"patient_id"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// NewBookingEvent creates a new booking event for the appointment
func NewBookingEvent(eventType BookingEventType, appointment *Appointment) *BookingEvent {
	return &BookingEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		AppointmentID: appointment.ID,
		DoctorID:      appointment.DoctorID,
		PatientID:     appointment.PatientID,
		StartTime:     appointment.StartTime,
		EndTime:       appointment.EndTime,
		OccurredAt:    time.Now().UTC(),
	}
}
