package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/campusride/bustrack/internal/auth"
	"github.com/campusride/bustrack/pkg/log"
)

// RouterConfig wires handlers into the router. Nil handlers leave their
// routes unmounted.
type RouterConfig struct {
	AllowedOrigins []string
	Verifier       TokenVerifier
	Logger         log.Logger

	Location       *LocationHandler
	Units          *UnitHandler
	Progress       *ProgressHandler
	Feed           *FeedHandler
	Realtime       *RealtimeHandler
	TrackingConfig *TrackingConfigHandler
	Health         *HealthHandler
	Metrics        http.Handler
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.GetHealth)
		r.Get("/healthz", cfg.Health.GetHealthz)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Public routes
	if cfg.Units != nil {
		r.Get("/api/bus/today", cfg.Units.GetToday)
	}
	if cfg.Feed != nil {
		r.Get("/api/bus/feed", cfg.Feed.GetFeed)
	}
	if cfg.TrackingConfig != nil {
		r.Get("/api/tracking/config", cfg.TrackingConfig.GetConfig)
	}

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier, logger))

		if cfg.Location != nil {
			r.With(RequireRole(logger, auth.RoleDriver)).Post("/api/bus/location", cfg.Location.PostLocation)
			r.Get("/api/bus/{id}/location", cfg.Location.GetLocation)
		}
		if cfg.Units != nil {
			r.Get("/api/bus/{id}", cfg.Units.GetUnit)
		}
		if cfg.Progress != nil {
			r.Get("/api/bus/{id}/progress", cfg.Progress.GetProgress)
		}
		if cfg.Realtime != nil {
			r.Get("/ws", cfg.Realtime.ServeWS)
		}
	})

	return r
}

func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}
