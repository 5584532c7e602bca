package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zatekoja/healthcare-scheduling/internal/api/handlers"
	"github.com/zatekoja/healthcare-scheduling/internal/api/middleware"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	appointmentHandler  *handlers.AppointmentHandler
	seriesHandler       *handlers.SeriesHandler
	availabilityHandler *handlers.AvailabilityHandler
	waitlistHandler     *handlers.WaitlistHandler

	metricsHandler http.Handler
	healthChecks   map[string]HealthCheck
	corsOrigins    []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router. metricsHandler may be nil.
func NewRouter(
	appointmentHandler *handlers.AppointmentHandler,
	seriesHandler *handlers.SeriesHandler,
	availabilityHandler *handlers.AvailabilityHandler,
	waitlistHandler *handlers.WaitlistHandler,
	metricsHandler http.Handler,
	healthChecks map[string]HealthCheck,
	corsOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                 http.NewServeMux(),
		appointmentHandler:  appointmentHandler,
		seriesHandler:       seriesHandler,
		availabilityHandler: availabilityHandler,
		waitlistHandler:     waitlistHandler,
		metricsHandler:      metricsHandler,
		healthChecks:        healthChecks,
		corsOrigins:         corsOrigins,
		metrics:             metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", r.health)

	if r.metricsHandler != nil {
		r.mux.Handle("GET /metrics", r.metricsHandler)
	}

	// Appointment endpoints
	r.mux.HandleFunc("POST /api/appointments", r.appointmentHandler.BookAppointment)
	r.mux.HandleFunc("GET /api/appointments", r.appointmentHandler.ListAppointments)
	r.mux.HandleFunc("GET /api/appointments/{id}", r.appointmentHandler.GetAppointment)
	r.mux.HandleFunc("POST /api/appointments/{id}/cancel", r.appointmentHandler.CancelAppointment)

	// Recurring series endpoints
	r.mux.HandleFunc("POST /api/appointments/series", r.seriesHandler.BookSeries)
	r.mux.HandleFunc("POST /api/appointments/series/{id}/cancel", r.seriesHandler.CancelSeries)
	r.mux.HandleFunc("POST /api/appointments/series/{id}/reschedule", r.seriesHandler.RescheduleSeries)

	// Availability endpoints
	r.mux.HandleFunc("GET /api/doctors/{id}/availability", r.availabilityHandler.GetAvailability)

	// Waitlist endpoints
	r.mux.HandleFunc("POST /api/waitlist", r.waitlistHandler.AddEntry)
	r.mux.HandleFunc("GET /api/waitlist", r.waitlistHandler.ListEntries)
	r.mux.HandleFunc("GET /api/waitlist/{id}", r.waitlistHandler.GetEntry)
	r.mux.HandleFunc("DELETE /api/waitlist/{id}", r.waitlistHandler.RemoveEntry)
	r.mux.HandleFunc("POST /api/waitlist/{id}/book", r.waitlistHandler.BookEntry)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.corsOrigins)(handler)

	return handler
}

// health reports 503 when any dependency check fails
func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(r.healthChecks))
	for name, check := range r.healthChecks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}
