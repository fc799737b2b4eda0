// Package api exposes the backup service over HTTP for administrators.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crm-backup/internal/backup"
	"crm-backup/internal/config"
	"crm-backup/internal/logging"
)

// BackupService is the part of backup.Service the handlers call
type BackupService interface {
	KeyConfigured() bool
	CreateBackup(ctx context.Context, actor string) (*backup.Artifact, error)
	RestoreBackup(ctx context.Context, actor string, data []byte) (*backup.RestoreResult, error)
}

// Options configure a Router
type Options struct {
	MaxRestoreBytes int64
	Gatherer        prometheus.Gatherer
	Logger          *logging.Logger
}

// Router wires handlers, authentication and metrics
type Router struct {
	service         BackupService
	auth            Authenticator
	gatherer        prometheus.Gatherer
	logger          *logging.Logger
	maxRestoreBytes int64
}

// NewRouter creates a router for svc
func NewRouter(svc BackupService, auth Authenticator, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxRestoreBytes <= 0 {
		opts.MaxRestoreBytes = config.DefaultMaxRestoreBytes
	}
	return &Router{
		service:         svc,
		auth:            auth,
		gatherer:        opts.Gatherer,
		logger:          opts.Logger,
		maxRestoreBytes: opts.MaxRestoreBytes,
	}
}

// Setup configures all HTTP routes
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(router.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", router.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(router.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/admin/backups", func(r chi.Router) {
		r.Use(router.Authenticate)
		r.Use(router.RequireRole(config.AdminRole))

		r.Post("/", router.CreateBackup)
		r.Post("/restore", router.RestoreBackup)
	})

	return r
}

// requestLogger carries the chi request id into the logging context and logs each request
func (router *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.CreateContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		router.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}
