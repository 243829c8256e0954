package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go-retry/internal/deadletter"
	"go-retry/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// Server exposes the admin Service over HTTP
type Server struct {
	svc        *Service
	checks     map[string]HealthCheck
	router     *chi.Mux
	httpServer *http.Server
	logger     logrus.FieldLogger
}

func NewServer(svc *Service, checks map[string]HealthCheck, cfg ServerConfig, logger logrus.FieldLogger) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	s := &Server{
		svc:    svc,
		checks: checks,
		router: r,
		logger: observability.OrDefault(logger),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages/resend", s.handleResend)
		r.Get("/messages", s.handleList)
		r.Delete("/retry-queue", s.handlePurge)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop is called. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Admin API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down admin API")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("HTTP request")
	})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := strconv.ParseInt(q.Get("startId"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "startId must be an integer")
		return
	}
	end, err := strconv.ParseInt(q.Get("endId"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "endId must be an integer")
		return
	}

	// A client that hangs up must not stop the range halfway through.
	_, err = s.svc.ResendRange(context.WithoutCancel(r.Context()), start, end)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrInvalidRange):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrResendInProgress):
		s.errorResponse(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("Range resend failed")
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.svc.FindMessages(r.Context(), query)
	if err != nil {
		s.logger.WithError(err).Error("Dead letter listing failed")
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all := false
	if v := q.Get("all"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "all must be a boolean")
			return
		}
		all = b
	}

	n, err := s.svc.PurgeRetryQueue(r.Context(), q.Get("key"), all)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	case errors.Is(err, ErrPurgeTargetRequired):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithError(err).Error("Retry queue purge failed")
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	s.writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}

// parseQuery reads the listing filters. Dates are whole UTC days; toDate
// includes its whole day.
func parseQuery(r *http.Request) (deadletter.Query, error) {
	q := r.URL.Query()
	var out deadletter.Query
	var err error

	if out.Page, err = optionalInt(q.Get("page")); err != nil {
		return out, errors.New("page must be an integer")
	}
	if out.PageSize, err = optionalInt(q.Get("pageSize")); err != nil {
		return out, errors.New("pageSize must be an integer")
	}
	if out.StartID, err = optionalInt64(q.Get("startId")); err != nil {
		return out, errors.New("startId must be an integer")
	}
	if out.EndID, err = optionalInt64(q.Get("endId")); err != nil {
		return out, errors.New("endId must be an integer")
	}
	out.Topic = q.Get("topic")
	if v := q.Get("status"); v != "" {
		st, err := deadletter.ParseStatus(v)
		if err != nil {
			return out, err
		}
		out.Status = st
	}
	if out.FromDate, err = optionalDate(q.Get("fromDate")); err != nil {
		return out, errors.New("fromDate must be YYYY-MM-DD")
	}
	if out.ToDate, err = optionalDate(q.Get("toDate")); err != nil {
		return out, errors.New("toDate must be YYYY-MM-DD")
	}
	return out, nil
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func optionalInt64(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optionalDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
