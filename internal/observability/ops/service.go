// Package ops serves the daemon's operational HTTP surface: health, Prometheus
// metrics, the live island set and optional pprof profiles.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hyperbridge/internal/island"
	rtsup "hyperbridge/internal/runtime/supervisor"
	"hyperbridge/pkg/logx"
)

// Config controls the ops server. A non-loopback Addr requires Token unless
// AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Health is the /healthz body.
type Health struct {
	OK     bool           `json:"ok"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Sources supplies the data behind each endpoint. Nil members disable the
// matching endpoint.
type Sources struct {
	Islands  func() []island.ActiveIsland
	Gatherer prometheus.Gatherer
	Health   func() Health
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	src Sources
	cfg Config

	srv *http.Server
	ln  net.Listener
	sup *rtsup.Supervisor
}

func New(src Sources, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{src: src, log: log.With(logx.String("comp", "ops"))}
}

// Addr is the bound address, or "" when stopped.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure starts, stops or restarts the server to match cfg. Safe to call
// on every config reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev, running := s.cfg, s.srv != nil
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		return nil
	case running && prev == cfg:
		return nil
	case running:
		s.Stop(ctx)
	}
	return s.start(ctx, cfg)
}

func (s *Service) start(ctx context.Context, cfg Config) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			return fmt.Errorf("ops server refused %s: non-loopback address requires a token or allow_insecure", addr)
		}
		s.log.Warn("ops server running without token on non-loopback address", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ops listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.routes(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	sup := rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))

	s.mu.Lock()
	s.cfg, s.srv, s.ln, s.sup = cfg, srv, ln, sup
	s.mu.Unlock()

	sup.Go("ops.serve", func(context.Context) error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.log.Info("ops server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Stop shuts the server down gracefully until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	_ = sup.Stop(ctx)
	s.log.Info("ops server stopped")
}

func (s *Service) routes(cfg Config) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.Handler) http.Handler { return withAuth(cfg.Token, h) }

	mux.Handle("GET /healthz", auth(http.HandlerFunc(s.handleHealth)))
	if s.src.Gatherer != nil {
		mux.Handle("GET /metrics", auth(promhttp.HandlerFor(s.src.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.src.Islands != nil {
		mux.Handle("GET /islands", auth(http.HandlerFunc(s.handleIslands)))
	}
	if cfg.Pprof {
		mux.Handle("/debug/pprof/", auth(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", auth(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", auth(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", auth(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", auth(http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{OK: true}
	if s.src.Health != nil {
		h = s.src.Health()
	}
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

type islandView struct {
	ID       int32     `json:"id"`
	Key      string    `json:"key"`
	Type     string    `json:"type"`
	Package  string    `json:"package"`
	Title    string    `json:"title,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

func (s *Service) handleIslands(w http.ResponseWriter, _ *http.Request) {
	list := s.src.Islands()
	out := make([]islandView, 0, len(list))
	for _, a := range list {
		out = append(out, islandView{ID: a.ID, Key: a.Key, Type: a.Type.String(), Package: a.Package, Title: a.Title, PostedAt: a.PostTime})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
