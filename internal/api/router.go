package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/switchboard/internal/device"
)

// healthCheckTimeout bounds the dependency checks behind /api/v1/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Household paths used by the existing app and controller.
	r.Get("/lamp/{lampID}", s.handleGetLamp)
	r.Put("/lamp/{lampID}", s.handleToggleLamp)
	r.Post("/lampu/{condition}", s.handleSetLamps)
	r.Get("/tirai/{tiraiLoc}", s.handleGetTirai)
	r.Put("/tirai/{tiraiLoc}", s.handleToggleTirai)

	r.Get("/terminal", s.handleGetCondition(device.Terminal))
	r.Post("/terminal", s.handleToggleCondition(device.Terminal, "successfully switch terminal"))

	r.Get("/fan", s.handleGetFan)
	r.Put("/fan/condition", s.handleToggleCondition(device.Fan, "successfully switch fan"))
	r.Put("/fan/speed/{speed}", s.handleSetFanSpeed)

	r.Get("/ac", s.handleGetAC)
	r.Put("/ac/condition", s.handleToggleCondition(device.AC, "successfully switch ac"))
	r.Put("/ac/temperature/{temperature}", s.handleSetACTemperature)

	for _, name := range []string{
		device.Door, device.Plant, device.Saluran,
		device.SistemLampu, device.SistemTirai, device.SistemTanaman,
	} {
		r.Get("/"+name, s.handleGetCondition(name))
		r.Put("/"+name, s.handleToggleCondition(name, "successfully switch "+name))
	}

	r.Get("/arduino", s.handleGetSnapshot)
	r.Post("/arduino", s.handleApplyReport)
	r.Post("/password", s.handleCheckPassword)
	r.Get("/ws", s.handleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Method(http.MethodGet, "/metrics/prometheus", s.metrics.Handler())

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/history", s.handleDeviceHistory)
				r.Post("/toggle", s.handleToggleDevice)
			})
		})
	})

	return r
}

// handleHealth reports the server and its dependencies.
// A failing database makes the whole service unhealthy; MQTT is informational.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	switch {
	case s.mqtt == nil:
		checks["mqtt"] = "disabled"
	case s.mqtt.IsConnected():
		checks["mqtt"] = "connected"
	default:
		checks["mqtt"] = "disconnected"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  checks,
	})
}
