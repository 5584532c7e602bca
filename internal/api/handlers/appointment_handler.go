package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/application/services"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/healthcare-scheduling/pkg/errors"
)

const (
	maxBodyBytes    = 1 << 20
	suggestionCount = 3
)

// BookingService defines the interface for appointment operations
type BookingService interface {
	BookAppointment(ctx context.Context, req services.BookingRequest) (*entities.Appointment, error)
	CancelAppointment(ctx context.Context, id, reason string) (*entities.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*entities.Appointment, error)
	ListAppointments(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error)
}

// AlternativeSuggester proposes other times after a rejected booking
type AlternativeSuggester interface {
	SuggestAlternatives(ctx context.Context, doctorID string, start, end time.Time, max int) ([]services.Suggestion, error)
}

// AppointmentHandler handles appointment requests
type AppointmentHandler struct {
	service   BookingService
	suggester AlternativeSuggester
}

// NewAppointmentHandler creates a new appointment handler. suggester may be nil.
func NewAppointmentHandler(service BookingService, suggester AlternativeSuggester) *AppointmentHandler {
	return &AppointmentHandler{
		service:   service,
		suggester: suggester,
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// BookAppointment handles POST /api/appointments
func (h *AppointmentHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req services.BookingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	req.ClientIP = clientIP(r)

	appointment, err := h.service.BookAppointment(r.Context(), req)
	if err != nil {
		var suggestions any
		if apperrors.IsType(err, apperrors.ErrorTypeConflict) || apperrors.IsType(err, apperrors.ErrorTypeCapacityExceeded) {
			if alternatives := h.suggest(r.Context(), req); len(alternatives) > 0 {
				suggestions = alternatives
			}
		}
		respondWithAppError(w, r, err, suggestions)
		return
	}

	respondWithJSON(w, http.StatusCreated, appointment)
}

func (h *AppointmentHandler) suggest(ctx context.Context, req services.BookingRequest) []services.Suggestion {
	if h.suggester == nil {
		return nil
	}
	suggestions, err := h.suggester.SuggestAlternatives(ctx, req.DoctorID, req.StartTime, req.EndTime, suggestionCount)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("doctor_id", req.DoctorID).Msg("Failed to suggest alternative times")
		return nil
	}
	return suggestions
}

// GetAppointment handles GET /api/appointments/{id}
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appointment, err := h.service.GetAppointment(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

// CancelAppointment handles POST /api/appointments/{id}/cancel
func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	appointment, err := h.service.CancelAppointment(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

// ListAppointments handles GET /api/appointments
func (h *AppointmentHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repositories.AppointmentFilter{
		DoctorID:  query.Get("doctor_id"),
		PatientID: query.Get("patient_id"),
		Status:    entities.AppointmentStatus(query.Get("status")),
	}

	var err error
	if filter.From, err = optionalTime(query.Get("from")); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid from date format (use RFC3339)")
		return
	}
	if filter.To, err = optionalTime(query.Get("to")); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid to date format (use RFC3339)")
		return
	}
	if filter.Limit, err = optionalInt(query.Get("limit")); err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = optionalInt(query.Get("offset")); err != nil {
		respondWithError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	appointments, err := h.service.ListAppointments(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"appointments": appointments,
		"count":        len(appointments),
	})
}

func optionalTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

// clientIP prefers the first X-Forwarded-For hop over the socket address
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
