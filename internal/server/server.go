// Package server exposes the governor's control surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AMDEPYC/thermal-governor/internal/governor"
	"github.com/AMDEPYC/thermal-governor/internal/journal"
	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

const (
	defaultTransitionLimit = 20
	maxTransitionLimit     = 1000
	shutdownTimeout        = 5 * time.Second
	healthPeriods          = 3
)

// TransitionLister is the read side of journal.Journal.
type TransitionLister interface {
	Recent(limit int) ([]journal.Entry, error)
}

// SchedulerControl is the part of governor.Governor the control surface tunes.
type SchedulerControl interface {
	Opts() governor.Opts
	UpdateOpts(opts governor.Opts) error
}

type Options struct {
	Address      string
	SamplePeriod time.Duration
	State        *thermal.ThrottleState
	Levels       thermal.LevelTable
	Threshold    *thermal.Threshold
	Stats        func() governor.Stats
	// Journal is optional; /api/transitions answers 404 without it.
	Journal TransitionLister
	// Scheduler is optional; /api/sample-period answers 404 without it.
	Scheduler SchedulerControl
	Gatherer  prom.Gatherer
}

type Server struct {
	opts    Options
	log     logr.Logger
	router  *mux.Router
	now     func() time.Time
	started time.Time
}

func New(opts Options, log logr.Logger) (*Server, error) {
	if opts.State == nil || opts.Threshold == nil || opts.Stats == nil {
		return nil, fmt.Errorf("server requires state, threshold and stats")
	}
	if opts.SamplePeriod <= 0 {
		return nil, fmt.Errorf("sample period must be positive, got %s", opts.SamplePeriod)
	}

	s := &Server{
		opts: opts,
		log:  log,
		now:  time.Now,
	}
	s.started = s.now()

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/api/threshold", s.getThreshold).Methods(http.MethodGet)
	r.HandleFunc("/api/threshold", s.putThreshold).Methods(http.MethodPut)
	r.HandleFunc("/api/levels", s.levels).Methods(http.MethodGet)
	r.HandleFunc("/api/transitions", s.transitions).Methods(http.MethodGet)
	r.HandleFunc("/api/sample-period", s.getSamplePeriod).Methods(http.MethodGet)
	r.HandleFunc("/api/sample-period", s.putSamplePeriod).Methods(http.MethodPut)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router = r

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done and then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Address, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("control surface listening", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down control surface: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("control surface stopped")
	return nil
}

type StatusResponse struct {
	// Ceiling is nil while no ceiling is imposed.
	Ceiling          *uint          `json:"ceiling"`
	TimeLeft         time.Duration  `json:"timeLeft"`
	Throttling       bool           `json:"throttling"`
	ChangeInProgress bool           `json:"changeInProgress"`
	Threshold        int64          `json:"threshold"`
	Temperature      *int64         `json:"temperature"`
	Stats            governor.Stats `json:"stats"`
}

type ThresholdRequest struct {
	Threshold *int64 `json:"threshold"`
}

type ThresholdResponse struct {
	Threshold int64 `json:"threshold"`
}

// SamplePeriodRequest carries a duration string such as "750ms".
type SamplePeriodRequest struct {
	SamplePeriod string `json:"samplePeriod"`
}

type SamplePeriodResponse struct {
	SamplePeriod string `json:"samplePeriod"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.opts.State.Snapshot()
	stats := s.opts.Stats()

	resp := StatusResponse{
		TimeLeft:         snapshot.TimeLeft,
		Throttling:       snapshot.Throttling,
		ChangeInProgress: snapshot.ChangeInProgress,
		Threshold:        s.opts.Threshold.Get(),
		Stats:            stats,
	}
	if snapshot.Ceiling != thermal.MaxCeiling {
		resp.Ceiling = &snapshot.Ceiling
	}
	if stats.HasTemperature {
		resp.Temperature = &stats.LastTemperature
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getThreshold(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ThresholdResponse{Threshold: s.opts.Threshold.Get()})
}

func (s *Server) putThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.Threshold == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("threshold is required"))
		return
	}

	prev := s.opts.Threshold.Get()
	s.opts.Threshold.Set(*req.Threshold)
	s.log.Info("threshold changed", "from", prev, "to", *req.Threshold)

	s.writeJSON(w, http.StatusOK, ThresholdResponse{Threshold: *req.Threshold})
}

func (s *Server) getSamplePeriod(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Scheduler == nil {
		s.writeError(w, http.StatusNotFound, errors.New("scheduler control is disabled"))
		return
	}
	s.writeJSON(w, http.StatusOK, SamplePeriodResponse{SamplePeriod: s.opts.Scheduler.Opts().SamplePeriod.String()})
}

func (s *Server) putSamplePeriod(w http.ResponseWriter, r *http.Request) {
	if s.opts.Scheduler == nil {
		s.writeError(w, http.StatusNotFound, errors.New("scheduler control is disabled"))
		return
	}

	var req SamplePeriodRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	period, err := time.ParseDuration(req.SamplePeriod)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sample period: %w", err))
		return
	}

	opts := s.opts.Scheduler.Opts()
	opts.SamplePeriod = period
	if err := s.opts.Scheduler.UpdateOpts(opts); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, SamplePeriodResponse{SamplePeriod: period.String()})
}

// samplePeriod follows runtime changes when the scheduler is wired in.
func (s *Server) samplePeriod() time.Duration {
	if s.opts.Scheduler != nil {
		return s.opts.Scheduler.Opts().SamplePeriod
	}
	return s.opts.SamplePeriod
}

func (s *Server) levels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Levels)
}

func (s *Server) transitions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		s.writeError(w, http.StatusNotFound, errors.New("transition journal is disabled"))
		return
	}

	limit := defaultTransitionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(parsed, maxTransitionLimit)
	}

	entries, err := s.opts.Journal.Recent(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// healthz reports unhealthy once the scheduler loop has missed
// healthPeriods sample periods.
func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	last := s.opts.Stats().LastTick
	if last.IsZero() {
		last = s.started
	}

	age := s.now().Sub(last)
	if age > healthPeriods*s.samplePeriod() {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no tick for %s", age))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.V(4).Info(fmt.Sprintf("error writing response, err: %v", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.log.V(4).Info("request failed", "code", code, "error", err.Error())
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}
