package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"telemetry-gateway/internal/handlers"
	"telemetry-gateway/internal/middleware"
	"telemetry-gateway/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the gateway.
//
// The ingest endpoint is deliberately unauthenticated: field devices
// prove themselves through the envelope's authentication tag, not
// through tokens. It is rate limited by source address instead. The
// read and patch endpoints serve operators and require a Bearer token.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, limiter *ratelimit.Limiter) {
	// Add logging middleware to all routes
	router.Use(middleware.LoggingMiddleware)

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Operator login (no auth required)
	router.HandleFunc("/api/auth/login", h.HandleLogin).Methods("POST")

	// Device ingest, rate limited per source
	ingest := router.NewRoute().Subrouter()
	if limiter != nil {
		ingest.Use(limiter.HTTPMiddleware(ratelimit.SourceKey))
	}
	ingest.HandleFunc("/api/telemetry", h.HandleIngest).Methods("POST")

	// Protected read and patch endpoints
	protected := router.NewRoute().Subrouter()
	protected.Use(authMiddleware)
	protected.HandleFunc("/api/telemetry", h.HandleListTelemetry).Methods("GET")
	protected.HandleFunc("/api/telemetry", h.HandlePatchRecommendation).Methods("PUT")
	protected.HandleFunc("/api/devices/{uid}/telemetry", h.HandleDeviceTelemetry).Methods("GET")
}
