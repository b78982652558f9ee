// Package api exposes the engine's administrative operations over HTTP/JSON.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/cadence/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger used for request errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes into r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)

	r.Route("/v1", func(r chi.Router) {
		a.registerJobRoutes(r)
		a.registerRunRoutes(r)
		a.registerScheduleRoutes(r)
		r.Get("/stats", a.stats)
	})
}

func (a *API) registerJobRoutes(r chi.Router) {
	r.Get("/jobs", a.listJobs)
	r.Post("/jobs", a.createJob)
	r.Route("/jobs/{jobId}", func(r chi.Router) {
		r.Get("/", a.getJob)
		r.Put("/", a.updateJob)
		r.Delete("/", a.deleteJob)
		r.Post("/pause", a.pauseJob)
		r.Post("/resume", a.resumeJob)
		r.Post("/run", a.executeNow)
		r.Get("/runs", a.jobHistory)
		r.Get("/stats", a.jobStats)
		r.Get("/dependencies", a.dependencyStatus)
	})
}

func (a *API) registerRunRoutes(r chi.Router) {
	r.Get("/runs", a.listRuns)
	r.Get("/runs/active", a.activeRuns)
	r.Get("/runs/{runId}", a.getRun)
	r.Post("/runs/{runId}/cancel", a.cancelRun)
}

func (a *API) registerScheduleRoutes(r chi.Router) {
	r.Post("/schedules/validate", a.validateSchedule)
	r.Post("/schedules/preview", a.previewSchedule)
}
