package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
)

// AvailabilityService defines the interface for availability reads
type AvailabilityService interface {
	GetAvailableSlots(ctx context.Context, doctorID string, from, to time.Time) ([]*entities.AvailabilitySlot, error)
}

// AvailabilityHandler handles availability requests
type AvailabilityHandler struct {
	service AvailabilityService
}

// NewAvailabilityHandler creates a new availability handler
func NewAvailabilityHandler(service AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

// GetAvailability handles GET /api/doctors/{id}/availability
func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := r.PathValue("id")
	if doctorID == "" {
		respondWithError(w, http.StatusBadRequest, "doctor ID is required")
		return
	}

	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	if fromStr == "" || toStr == "" {
		respondWithError(w, http.StatusBadRequest, "from and to query parameters are required")
		return
	}

	from, err := parseDay(fromStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid from date format (use YYYY-MM-DD or RFC3339)")
		return
	}

	to, err := parseDay(toStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid to date format (use YYYY-MM-DD or RFC3339)")
		return
	}

	slots, err := h.service.GetAvailableSlots(r.Context(), doctorID, from, to)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"slots":     slots,
		"count":     len(slots),
	})
}

func parseDay(value string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
