// Package server hosts the relay's HTTP surface: the websocket endpoint,
// the polling session API, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Divyanshu-Bhandari/shadow-talk/internal/config"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/metrics"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/ratelimit"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/session"
	"github.com/Divyanshu-Bhandari/shadow-talk/internal/signaling"
)

// Server wires the hub, the session service and the HTTP listener.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	hub      *signaling.Hub
	sessions *session.Service
	limits   Limiters
	registry *prometheus.Registry
	handler  http.Handler
	httpSrv  *http.Server
	ready    atomic.Bool
}

// Options carry the dependencies New cannot build from config alone.
type Options struct {
	Logger *zap.Logger
	// Store defaults to an in-memory store.
	Store session.Store
	// Now is the clock seam for tests.
	Now func() time.Time
}

// New constructs a server with its dependencies. Metrics go to a registry
// owned by this server.
func New(cfg config.Config, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelay(reg)
	sessionMetrics := metrics.NewSessions(reg)

	s := &Server{
		cfg: cfg,
		log: log,
		hub: signaling.NewHub(signaling.HubOptions{
			RoomTTL:       cfg.RoomTTL,
			SweepInterval: cfg.SweepInterval,
			Logger:        log.Named("hub"),
			Metrics:       relayMetrics,
			Now:           now,
		}),
		sessions: session.NewService(session.ServiceOptions{
			Store:   opts.Store,
			TTL:     cfg.SessionTTL,
			Logger:  log.Named("sessions"),
			Metrics: sessionMetrics,
			Now:     now,
		}),
		limits: Limiters{
			Create:  ratelimit.New(cfg.RateLimit.Create.Limit, cfg.RateLimit.Create.Window),
			Message: ratelimit.New(cfg.RateLimit.Message.Limit, cfg.RateLimit.Message.Window),
			Poll:    ratelimit.New(cfg.RateLimit.Poll.Limit, cfg.RateLimit.Poll.Window),
		},
		registry: reg,
	}

	a := &api{
		hub:           s.hub,
		sessions:      s.sessions,
		limits:        s.limits,
		cleanupSecret: cfg.CleanupSecret,
		metrics:       sessionMetrics,
		log:           log.Named("api"),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", ServeWs(s.hub, newUpgrader(cfg.AllowedOrigins), log.Named("ws")))
	a.routes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Relay server is healthy."))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})
	s.handler = securityHeaders(mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub exposes the relay hub.
func (s *Server) Hub() *signaling.Hub {
	return s.hub
}

// Start listens on the configured address and blocks until ctx is done or
// the listener fails. Room sweeping, session cleanup and limiter pruning
// run alongside.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, lis)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		s.log.Info("relay listening", zap.String("address", lis.Addr().String()))
		s.ready.Store(true)
		if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.sessions.Run(gctx, s.cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		s.pruneLimiters(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
		return nil
	})
	return g.Wait()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown", zap.Error(err))
	}
}

func (s *Server) pruneLimiters(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limits.Prune(time.Now()); n > 0 {
				s.log.Debug("pruned idle rate limit keys", zap.Int("count", n))
			}
		}
	}
}

// Registry returns the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}
