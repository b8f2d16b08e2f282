// Package server holds the router and health wiring every service shares.
package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"complaint-portal/pkg/config"
	"complaint-portal/pkg/middleware"
	"complaint-portal/pkg/response"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// NewRouter returns a chi router with the common middleware stack and the
// /health and /metrics endpoints mounted.
func NewRouter(service string, sec config.SecurityConfig, checks map[string]Check) chi.Router {
	middleware.RegisterMetrics()

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggerMiddleware)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.CORS(sec.CORSOrigins))

	r.Get("/health", Health(service, checks))
	r.Handle("/metrics", middleware.GetMetricsHandler())
	return r
}

// Health answers UP when every check passes and DOWN with 503 otherwise.
func Health(service string, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		health := map[string]interface{}{
			"status":  "UP",
			"service": service,
		}
		code := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				health[name] = "disconnected"
				health["status"] = "DOWN"
				code = http.StatusServiceUnavailable
				continue
			}
			health[name] = "connected"
		}
		response.JSON(w, code, health)
	}
}

// NewHTTPServer applies the configured address and timeouts to h.
func NewHTTPServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: cfg.Timeout,
		IdleTimeout:       120 * time.Second,
	}
}
