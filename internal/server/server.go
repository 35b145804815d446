// Package server exposes the settlement ledger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/offpay/internal/ledger"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/reconcile"
)

// Request limits.
const (
	MaxBodyBytes = 1 << 20
	MaxBatch     = 500
)

// Server routes the ledger API.
type Server struct {
	ledger   *ledger.Service
	recon    *reconcile.Engine
	router   *mux.Router
	metrics  *Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
	health   func(context.Context) error
	extra    map[string]http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry sets the Prometheus registry served on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithHealthCheck sets the dependency probe behind /health.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

// WithHandler mounts h at path, e.g. a client library's metrics.
func WithHandler(path string, h http.Handler) Option {
	return func(s *Server) { s.extra[path] = h }
}

// New builds the router.
func New(svc *ledger.Service, recon *reconcile.Engine, opts ...Option) *Server {
	s := &Server{
		ledger: svc,
		recon:  recon,
		logger: slog.Default(),
		extra:  make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	for path, h := range s.extra {
		r.Handle(path, h)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	v1.HandleFunc("/offline-accept", s.handleOfflineAccept).Methods(http.MethodPost)
	v1.HandleFunc("/reconciliation", s.handleReconciliation).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("ledger API listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/sync"
	timer := prometheus.NewTimer(s.metrics.httpLatency.WithLabelValues(r.Method, endpoint))
	defer timer.ObserveDuration()

	var payloads []payment.SyncPayload
	if err := decodeBody(w, r, &payloads); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Invalid JSON", endpoint)
		return
	}
	if len(payloads) > MaxBatch {
		s.respondError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("At most %d payloads per batch", MaxBatch), endpoint)
		return
	}

	outcomes, err := s.ledger.Sync(r.Context(), payloads)
	if err != nil {
		s.logger.Warn("sync request aborted", "error", err)
		s.respondError(w, r, http.StatusServiceUnavailable, "Sync aborted", endpoint)
		return
	}
	for _, o := range outcomes {
		s.metrics.outcomes.WithLabelValues(string(o.Status), o.Reason).Inc()
	}
	s.respondJSON(w, r, http.StatusOK, outcomes, endpoint)
}

func (s *Server) handleOfflineAccept(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/offline-accept"
	timer := prometheus.NewTimer(s.metrics.httpLatency.WithLabelValues(r.Method, endpoint))
	defer timer.ObserveDuration()

	var req payment.OfflineAccept
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Invalid JSON", endpoint)
		return
	}
	res, err := s.ledger.RecordOfflineAccept(r.Context(), req)
	if err != nil {
		switch payment.KindOf(err) {
		case payment.KindValidation, payment.KindSignature, payment.KindExpired:
			s.respondError(w, r, http.StatusUnprocessableEntity, payment.UserMessage(err), endpoint)
		default:
			s.logger.Error("offline accept failed", "error", err)
			s.respondError(w, r, http.StatusInternalServerError, "Internal error", endpoint)
		}
		return
	}
	s.metrics.offlineAccepts.WithLabelValues(res.Status).Inc()
	s.respondJSON(w, r, http.StatusOK, res, endpoint)
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/reconciliation"
	timer := prometheus.NewTimer(s.metrics.httpLatency.WithLabelValues(r.Method, endpoint))
	defer timer.ObserveDuration()

	q, err := parseQuery(r)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error(), endpoint)
		return
	}
	report, err := s.recon.Run(r.Context(), q)
	if err != nil {
		if payment.IsKind(err, payment.KindValidation) {
			s.respondError(w, r, http.StatusBadRequest, err.Error(), endpoint)
			return
		}
		s.logger.Error("reconciliation failed", "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "Internal error", endpoint)
		return
	}
	s.respondJSON(w, r, http.StatusOK, report, endpoint)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			s.respondJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, "/health")
			return
		}
	}
	s.respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"}, "/health")
}

func parseQuery(r *http.Request) (reconcile.Query, error) {
	var q reconcile.Query
	values := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &q.Since}, {"until", &q.Until}} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return reconcile.Query{}, fmt.Errorf("%s must be RFC3339", p.name)
		}
		*p.dst = t.UTC()
	}
	q.Address = values.Get("address")
	return q, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	return dec.Decode(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, code int, payload any, endpoint string) {
	s.metrics.httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("response not written", "endpoint", endpoint, "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, code int, msg, endpoint string) {
	s.respondJSON(w, r, code, map[string]string{"error": msg}, endpoint)
}
