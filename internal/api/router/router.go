package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/hospital-scheduling-admin/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/hospital-scheduling-admin/internal/http/middleware"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Jobs           *handlers.JobsHandler
	Uploads        *handlers.UploadsHandler
	Schedules      *handlers.SchedulesHandler
	BackendProxy   http.Handler
	MetricsHandler http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	CORSMaxAge         time.Duration
	// JobStartLimiter guards routes that create backend jobs (optional).
	JobStartLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(httpmiddleware.CORSPolicy{Origins: cfg.CORSAllowedOrigins, MaxAge: cfg.CORSMaxAge}))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.BearerAuth(cfg.AdminAuthSecret))

		api.Group(func(watched chi.Router) {
			watched.Use(requireHospitalID)
			if cfg.Jobs != nil {
				watched.Get("/jobs/watches", cfg.Jobs.ListWatches)
				watched.Get("/jobs/{jobID}/wait", cfg.Jobs.Wait)
				watched.Get("/jobs/{jobID}/ws", cfg.Jobs.WebSocket)
			}
			watched.Group(func(starts chi.Router) {
				if cfg.JobStartLimiter != nil {
					starts.Use(httpmiddleware.RateLimit(cfg.JobStartLimiter))
				}
				if cfg.Uploads != nil {
					starts.Post("/uploads", cfg.Uploads.Upload)
				}
				if cfg.Schedules != nil {
					starts.Post("/schedules/{pageID}/generate", cfg.Schedules.Generate)
				}
			})
		})

		if cfg.BackendProxy != nil {
			api.With(optionalHospitalID).Handle("/*", cfg.BackendProxy)
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
