package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
	"github.com/arobust/arobust/pkg/types"
)

// Diagnoser decides recovery actions
type Diagnoser interface {
	Diagnose(failures map[string]string, restartCount int) types.DiagnosisAction
}

// DiagnoseRequest is the body of POST /v1/diagnose
type DiagnoseRequest struct {
	Failures     map[string]string `json:"failures"`
	RestartCount int               `json:"restart_count"`
}

// StatusResponse is the body of GET /v1/status
type StatusResponse struct {
	Collectors  int            `json:"collectors"`
	Checkpoints map[string]int `json:"checkpoints"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Option configures a Server
type Option func(*Server)

// WithSource serves agent state on /v1/status
func WithSource(src metrics.Source) Option {
	return func(s *Server) { s.source = src }
}

// WithHealth serves health and readiness from reg instead of the default registry
func WithHealth(reg *metrics.Registry) Option {
	return func(s *Server) { s.health = reg }
}

// WithLogger replaces the server logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is the agent's HTTP endpoint: health, metrics and diagnosis
type Server struct {
	diagnoser Diagnoser
	source    metrics.Source
	health    *metrics.Registry
	router    *mux.Router
	server    *http.Server
	logger    zerolog.Logger
}

// NewServer creates a server that answers diagnosis requests with d
func NewServer(d Diagnoser, opts ...Option) *Server {
	s := &Server{
		diagnoser: d,
		health:    metrics.DefaultRegistry(),
		router:    mux.NewRouter(),
		logger:    log.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(instrument)
	s.router.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadyHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/live", s.health.LivenessHandler()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Root router, not a /v1 subrouter: a method mismatch must answer 405.
	s.router.HandleFunc("/v1/diagnose", s.diagnose).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/status", s.status).Methods(http.MethodGet)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router for embedding in other servers
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until Shutdown
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on lis until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.health.Set(metrics.ComponentAPI, true, "serving")
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("api server listening")

	err := s.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.health.Set(metrics.ComponentAPI, false, err.Error())
	return err
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Set(metrics.ComponentAPI, false, "shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) diagnose(w http.ResponseWriter, r *http.Request) {
	var req DiagnoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RestartCount < 0 {
		http.Error(w, "restart_count must not be negative", http.StatusBadRequest)
		return
	}
	if req.Failures == nil {
		req.Failures = map[string]string{}
	}

	action := s.diagnoser.Diagnose(req.Failures, req.RestartCount)
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Checkpoints: map[string]int{}, Timestamp: time.Now()}
	if s.source != nil {
		resp.Collectors = s.source.CollectorCount()
		resp.Checkpoints = s.source.CheckpointCounts()
	}
	writeJSON(w, http.StatusOK, resp)
}

// instrument counts requests by route template and status
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
