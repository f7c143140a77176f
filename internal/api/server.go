// Package api exposes the pipeline triggers and monitoring endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/rs/cors"

	"github.com/deusflow/newspipe/internal/app"
	"github.com/deusflow/newspipe/internal/metrics"
)

// Pipeline is what the trigger endpoints drive.
type Pipeline interface {
	Run(ctx context.Context) (*app.Summary, error)
	EnhanceBacklog(ctx context.Context, limit int, force bool) (*app.Summary, error)
}

// QuotaStats reports provider quota usage for /metrics.
type QuotaStats interface {
	GetStats() map[string]interface{}
}

type Options struct {
	CronSecret     string
	Production     bool
	AllowedOrigins []string
	Quotas         QuotaStats
	Log            logr.Logger
}

type Server struct {
	pipeline Pipeline
	opts     Options
	log      logr.Logger
}

func NewServer(p Pipeline, opts Options) *Server {
	return &Server{pipeline: p, opts: opts, log: opts.Log}
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/cron/ingest", s.authorize(http.HandlerFunc(s.handleIngest)))
	mux.Handle("GET /api/cron/enhance", s.authorize(http.HandlerFunc(s.handleEnhance)))
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /metrics", s.metricsHandler)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	})
	return c.Handler(mux)
}

// authorize enforces the bearer secret only when a secret is configured and
// the deployment is production. Otherwise the call proceeds with a warning.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.CronSecret == "" || !s.opts.Production {
			s.log.Info("trigger called without auth enforcement", "severity", "warn", "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.CronSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	summary, err := s.pipeline.Run(r.Context())
	s.respond(w, summary, err)
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	force, _ := strconv.ParseBool(q.Get("force"))

	summary, err := s.pipeline.EnhanceBacklog(r.Context(), app.NormalizeBacklogLimit(limit), force)
	s.respond(w, summary, err)
}

func (s *Server) respond(w http.ResponseWriter, summary *app.Summary, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, app.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		s.log.Error(err, "pipeline trigger failed")
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
	}
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{
		"success":   false,
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	status := "ok"
	code := http.StatusOK
	if !metrics.Global.Healthy() {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()
	if s.opts.Quotas != nil {
		stats["ai_quota"] = s.opts.Quotas.GetStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
