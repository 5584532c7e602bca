package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/zatekoja/healthcare-scheduling/internal/application/services"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/repositories"
)

// WaitlistService defines the interface for waitlist operations
type WaitlistService interface {
	Add(ctx context.Context, req services.WaitlistRequest) (*entities.WaitlistEntry, error)
	Get(ctx context.Context, id string) (*entities.WaitlistEntry, error)
	List(ctx context.Context, filter repositories.WaitlistFilter) ([]*entities.WaitlistEntry, error)
	Remove(ctx context.Context, id string) (*entities.WaitlistEntry, error)
	BookFromWaitlist(ctx context.Context, req services.WaitlistBookingRequest) (*entities.Appointment, error)
}

// WaitlistHandler handles waitlist requests
type WaitlistHandler struct {
	service WaitlistService
}

// NewWaitlistHandler creates a new waitlist handler
func NewWaitlistHandler(service WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{service: service}
}

// AddEntry handles POST /api/waitlist
func (h *WaitlistHandler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req services.WaitlistRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	entry, err := h.service.Add(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

// GetEntry handles GET /api/waitlist/{id}
func (h *WaitlistHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// ListEntries handles GET /api/waitlist
func (h *WaitlistHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repositories.WaitlistFilter{
		DoctorID:  query.Get("doctor_id"),
		PatientID: query.Get("patient_id"),
		Status:    entities.WaitlistStatus(query.Get("status")),
	}

	var err error
	if filter.Limit, err = optionalInt(query.Get("limit")); err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = optionalInt(query.Get("offset")); err != nil {
		respondWithError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// RemoveEntry handles DELETE /api/waitlist/{id}
func (h *WaitlistHandler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// BookEntry handles POST /api/waitlist/{id}/book
func (h *WaitlistHandler) BookEntry(w http.ResponseWriter, r *http.Request) {
	var req services.WaitlistBookingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	req.EntryID = r.PathValue("id")
	req.ClientIP = clientIP(r)

	appointment, err := h.service.BookFromWaitlist(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusCreated, appointment)
}
