package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/application/services"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
)

// SeriesService defines the interface for recurring appointment operations
type SeriesService interface {
	BookSeries(ctx context.Context, req services.SeriesRequest) (*services.Series, error)
	CancelSeries(ctx context.Context, seriesID, reason string, from time.Time) ([]*entities.Appointment, error)
	RescheduleSeries(ctx context.Context, req services.RescheduleSeriesRequest) (*services.Series, error)
}

// SeriesHandler handles recurring appointment requests
type SeriesHandler struct {
	service SeriesService
}

// NewSeriesHandler creates a new series handler
func NewSeriesHandler(service SeriesService) *SeriesHandler {
	return &SeriesHandler{service: service}
}

type cancelSeriesRequest struct {
	Reason string    `json:"reason"`
	From   time.Time `json:"from"`
}

// BookSeries handles POST /api/appointments/series
func (h *SeriesHandler) BookSeries(w http.ResponseWriter, r *http.Request) {
	var req services.SeriesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	req.ClientIP = clientIP(r)

	series, err := h.service.BookSeries(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusCreated, series)
}

// CancelSeries handles POST /api/appointments/series/{id}/cancel
func (h *SeriesHandler) CancelSeries(w http.ResponseWriter, r *http.Request) {
	var req cancelSeriesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	cancelled, err := h.service.CancelSeries(r.Context(), r.PathValue("id"), req.Reason, req.From)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"appointments": cancelled,
		"count":        len(cancelled),
	})
}

// RescheduleSeries handles POST /api/appointments/series/{id}/reschedule
func (h *SeriesHandler) RescheduleSeries(w http.ResponseWriter, r *http.Request) {
	var req services.RescheduleSeriesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	req.SeriesID = r.PathValue("id")
	req.ClientIP = clientIP(r)

	series, err := h.service.RescheduleSeries(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err, nil)
		return
	}
	respondWithJSON(w, http.StatusOK, series)
}
