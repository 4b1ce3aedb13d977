package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"telemetry-gateway/internal/handlers"
	"telemetry-gateway/internal/ratelimit"
	"telemetry-gateway/internal/server"
)

// RunServer builds the HTTP surface and returns the server ready to start.
func (app *App) RunServer() (*server.Server, http.Handler) {
	h := handlers.New(app.Pipeline, app.Reader, app.Storage, app.Auth, app.Logger)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth.RequireAuth, app.buildRateLimiter())

	srv := server.New(router, app.Config.Port, app.Config.TLSCert, app.Config.TLSKey)
	return srv, router
}

// buildRateLimiter returns nil when rate limiting is disabled. Counting
// goes through Redis when available so limits hold across replicas.
func (app *App) buildRateLimiter() *ratelimit.Limiter {
	if !app.Config.RateLimitEnabled {
		return nil
	}

	limit, err := strconv.Atoi(app.Config.RateLimitDefault)
	if err != nil {
		limit = 60
	}
	window, err := time.ParseDuration(app.Config.RateLimitWindow)
	if err != nil {
		window = time.Minute
	}

	return ratelimit.NewLimiter(app.RedisClient, &ratelimit.Config{
		DefaultLimit:  limit,
		DefaultWindow: window,
		Enabled:       true,
	})
}
