// Package health serves the liveness endpoint polled by uptime monitors.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockwatch/internal/scheduler"
	logx "stockwatch/pkg/logx"
)

// Body is the static liveness response.
const Body = "Bot is running ✅"

// Counter reports the number of active subscriptions.
type Counter interface {
	Active() int
}

type Config struct {
	Addr string
	// Metrics, when non-nil, is served on /metrics.
	Metrics http.Handler
	// Schedules, when non-nil, lists the probe schedules on /healthz.
	Schedules func() []scheduler.ScheduleInfo
}

type Server struct {
	cfg     Config
	log     logx.Logger
	subs    Counter
	started time.Time
	router  chi.Router
	srv     *http.Server
}

func New(cfg Config, subs Counter, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	s := &Server{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "health")),
		subs:    subs,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	s.router = r
	return s
}

// Handler returns the router for use with http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(Body)); err != nil {
		s.log.Debug("liveness write failed", logx.Err(err))
	}
}

type healthResponse struct {
	Status              string          `json:"status"`
	ActiveSubscriptions int             `json:"active_subscriptions"`
	UptimeSeconds       int64           `json:"uptime_seconds"`
	Schedules           []scheduleState `json:"schedules,omitempty"`
}

type scheduleState struct {
	Name    string     `json:"name"`
	Spec    string     `json:"spec"`
	Next    *time.Time `json:"next,omitempty"`
	Prev    *time.Time `json:"prev,omitempty"`
	Running bool       `json:"running"`
	Runs    uint64     `json:"runs"`
	Skipped uint64     `json:"skipped"`
}

func toScheduleState(info scheduler.ScheduleInfo) scheduleState {
	st := scheduleState{
		Name:    info.Name,
		Spec:    info.Spec,
		Running: info.Running,
		Runs:    info.Runs,
		Skipped: info.Skipped,
	}
	if !info.Next.IsZero() {
		next := info.Next.UTC()
		st.Next = &next
	}
	if !info.Prev.IsZero() {
		prev := info.Prev.UTC()
		st.Prev = &prev
	}
	return st
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.subs != nil {
		resp.ActiveSubscriptions = s.subs.Active()
	}
	if s.cfg.Schedules != nil {
		for _, info := range s.cfg.Schedules() {
			resp.Schedules = append(resp.Schedules, toScheduleState(info))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("healthz write failed", logx.Err(err))
	}
}

// ListenAndServe binds Addr and serves until ctx is done, then shuts down
// within five seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()
	s.log.Info("liveness endpoint listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("liveness endpoint stopped")
	return nil
}
