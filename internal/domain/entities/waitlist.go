package entities

import "time"

// WaitlistStatus represents the lifecycle state of a waitlist entry
type WaitlistStatus string

const (
	WaitlistStatusActive    WaitlistStatus = "active"
	WaitlistStatusNotified  WaitlistStatus = "notified"
	WaitlistStatusBooked    WaitlistStatus = "booked"
	WaitlistStatusExpired   WaitlistStatus = "expired"
	WaitlistStatusCancelled WaitlistStatus = "cancelled"
)

// Valid reports whether s is a known waitlist status
func (s WaitlistStatus) Valid() bool {
	switch s {
	case WaitlistStatusActive, WaitlistStatusNotified, WaitlistStatusBooked, WaitlistStatusExpired, WaitlistStatusCancelled:
		return true
	}
	return false
}

// WaitlistEntry is a patient's request to be offered a doctor's time
// should it become free.
type WaitlistEntry struct {
	ID             string         `json:"id" db:"id"`
	PatientID      string         `json:"patient_id" db:"patient_id"`
	DoctorID       string         `json:"doctor_id" db:"doctor_id"`
	PreferredStart time.Time      `json:"preferred_start" db:"preferred_start"`
	PreferredEnd   time.Time      `json:"preferred_end" db:"preferred_end"`
	Status         WaitlistStatus `json:"status" db:"status"`
	Notes          string         `json:"notes,omitempty" db:"notes"`
	AppointmentID  *string        `json:"appointment_id,omitempty" db:"appointment_id"`
	NotifiedAt     *time.Time     `json:"notified_at,omitempty" db:"notified_at"`
	ExpiresAt      time.Time      `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the entry's hold has lapsed at now
func (e *WaitlistEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
