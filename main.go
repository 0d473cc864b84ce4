package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fuzzyracer/racer/internal/auth"
	configpkg "fuzzyracer/racer/internal/config"
	"fuzzyracer/racer/internal/control"
	grpcapi "fuzzyracer/racer/internal/grpc"
	httpapi "fuzzyracer/racer/internal/http"
	"fuzzyracer/racer/internal/logging"
	"fuzzyracer/racer/internal/networking"
	"fuzzyracer/racer/internal/race"
	"fuzzyracer/racer/internal/replay"
	"fuzzyracer/racer/internal/session"
	"fuzzyracer/racer/internal/transport"
)

const (
	shutdownGrace         = 10 * time.Second
	replayRetentionPeriod = 5 * time.Minute
	websocketTokenLeeway  = 5 * time.Second
	readHeaderTimeout     = 10 * time.Second
)

// RaceStats summarises the server for the stats endpoint.
type RaceStats struct {
	Sessions int `json:"sessions"`
	Running  int `json:"running"`
	Capacity int `json:"capacity"`
	Clients  int `json:"clients"`
}

type statsProvider interface {
	Stats() RaceStats
}

// Server owns every long-lived component of the racing service.
type Server struct {
	cfg       *configpkg.Config
	log       *logging.Logger
	startedAt time.Time

	mu         sync.RWMutex
	startupErr error

	tuning   race.Tuning
	registry *session.Registry
	gate     *control.Gate
	throttle *networking.Throttle
	tokens   *auth.HMACTokens
	hub      *transport.Hub
	cleaner  *replay.Cleaner

	grpcServer *grpc.Server
	health     *health.Server
	handler    http.Handler
}

// NewServer wires the session registry to the websocket, REST and gRPC surfaces.
func NewServer(cfg *configpkg.Config, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	s := &Server{cfg: cfg, log: logger, startedAt: time.Now()}

	//1.- Resolve the tuning preset and apply the optional file overlay.
	tuning, err := race.Preset(cfg.Tuning)
	if err != nil {
		return nil, err
	}
	if cfg.TuningFile != "" {
		if tuning, err = race.LoadTuningFile(cfg.TuningFile, tuning); err != nil {
			return nil, err
		}
	}
	s.tuning = tuning

	s.registry = session.NewRegistry(cfg.MaxSessions, session.Settings{
		Tuning:    tuning,
		Seed:      cfg.Seed,
		TickHz:    cfg.TickHz,
		ReplayDir: cfg.ReplayDir,
	}, logger.With(logging.String("component", "sessions")))

	//2.- Control gating and snapshot throttling are shared by every transport.
	s.gate = control.NewGate(control.GateConfig{MaxAge: cfg.ControlMaxAge, MinInterval: cfg.ControlMinInterval},
		logger.With(logging.String("component", "control")))
	if cfg.SnapshotBytesPerSec > 0 {
		s.throttle = networking.NewThrottle(float64(cfg.SnapshotBytesPerSec), nil)
	}
	if cfg.WSTokenSecret != "" {
		if s.tokens, err = auth.NewHMACTokens(cfg.WSTokenSecret, websocketTokenLeeway); err != nil {
			return nil, fmt.Errorf("websocket tokens: %w", err)
		}
	}

	s.hub = transport.NewHub(s.registry, transport.Options{
		Logger:          logger.With(logging.String("component", "websocket")),
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
		Gate:            s.gate,
		Throttle:        s.throttle,
		Tokens:          s.tokens,
	})

	s.cleaner = replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
		MaxBundles: cfg.ReplayMaxBundles,
		MaxAge:     cfg.ReplayMaxAge,
	}, s.registry.ReplayDirectories, logger.With(logging.String("component", "replay")))

	//3.- HTTP surface: operations, sessions, control docs, stats and the websocket.
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   s,
		Sessions:    s.registry.List,
		Clients:     func() int { return len(s.hub.Clients()) },
		Bandwidth:   s.throttle,
		Gate:        s.gate,
		Replay:      httpapi.ReplayDumperFunc(func(_ context.Context, id string) ([]string, error) { return s.registry.DumpReplays(id) }),
		ReplayStats: s.cleaner.Stats,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(cfg.ReplayDumpWindow, cfg.ReplayDumpBurst, nil),
	}).Register(mux)
	httpapi.NewSessionHandlers(httpapi.SessionOptions{
		Logger:     logger,
		Store:      s.registry,
		Tokens:     s.tokens,
		AdminToken: cfg.AdminToken,
	}).Register(mux)
	registerControlDocEndpoints(mux)
	mux.Handle("GET /api/stats", statsHandler(s))
	mux.Handle("GET /ws/sessions/{id}", s.hub)
	s.handler = logging.HTTPTraceMiddleware(logger)(mux)

	//4.- gRPC surface with the standard health service.
	grpcOpts, err := configureGRPCSecurity(cfg, logger.With(logging.String("component", "grpc")))
	if err != nil {
		return nil, err
	}
	s.grpcServer = grpc.NewServer(grpcOpts...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	grpcapi.Register(s.grpcServer, grpcapi.NewService(s.registry,
		grpcapi.WithGate(s.gate),
		grpcapi.WithLogger(logger.With(logging.String("component", "grpc")))))
	s.health.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s, nil
}

// Handler returns the HTTP handler tree.
func (s *Server) Handler() http.Handler { return s.handler }

// StartupError reports a fatal error raised after construction, such as a failed listener.
func (s *Server) StartupError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startupErr
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *Server) setStartupError(err error) {
	s.mu.Lock()
	if s.startupErr == nil {
		s.startupErr = err
	}
	s.mu.Unlock()
}

// Stats aggregates session and client counts.
func (s *Server) Stats() RaceStats {
	infos := s.registry.List()
	stats := RaceStats{Sessions: len(infos), Capacity: s.registry.Capacity(), Clients: len(s.hub.Clients())}
	for _, info := range infos {
		if info.Running {
			stats.Running++
		}
	}
	return stats
}

// Close disconnects clients and stops every session.
func (s *Server) Close() error {
	s.health.Shutdown()
	s.hub.Close()
	return s.registry.CloseAll()
}

func statsHandler(provider statsProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func main() {
	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("server setup failed", logging.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go server.cleaner.Run(ctx, replayRetentionPeriod)

	//1.- gRPC listens on its own port when configured.
	if addr := strings.TrimSpace(cfg.GRPCAddress); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Fatal("grpc listen failed", logging.Error(err), logging.String("address", addr))
			return
		}
		go func() {
			logger.Info("gRPC listening", logging.String("address", lis.Addr().String()))
			if err := server.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				server.setStartupError(err)
				logger.Error("grpc server stopped", logging.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	tlsEnabled := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
	endpoints := advertisedEndpoints(cfg)
	go func() {
		logger.Info("racer listening",
			logging.String("url", endpoints.HTTP),
			logging.String("websocket", endpoints.WebSocket),
			logging.String("grpc", endpoints.GRPC),
			logging.String("tuning", server.tuning.Name),
			logging.Float64("tick_hz", cfg.TickHz))
		var err error
		if tlsEnabled {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.setStartupError(err)
			logger.Error("http server stopped", logging.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	//2.- Close websocket clients first so hijacked connections do not hold Shutdown open.
	if err := server.Close(); err != nil {
		logger.Warn("session shutdown reported errors", logging.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	stopped := make(chan struct{})
	go func() {
		server.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		server.grpcServer.Stop()
	}
}
