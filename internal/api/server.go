package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/switchboard/internal/auth"
	"github.com/nerrad567/switchboard/internal/bridges/controller"
	"github.com/nerrad567/switchboard/internal/device"
	"github.com/nerrad567/switchboard/internal/infrastructure/config"
	"github.com/nerrad567/switchboard/internal/infrastructure/database"
	"github.com/nerrad567/switchboard/internal/infrastructure/logging"
	"github.com/nerrad567/switchboard/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket keepalive defaults (seconds) for an unset configuration.
const (
	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// ConnectionStatus reports whether an outbound connection is currently up.
type ConnectionStatus interface {
	IsConnected() bool
}

// BridgeMetricsProvider exposes the controller bridge counters.
type BridgeMetricsProvider interface {
	GetMetrics() controller.Metrics
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// History serves /api/v1/devices/{name}/history. Nil when the store
	// does not record history (bolt driver).
	History device.HistoryReader

	// Password checks POST /password. Nil rejects every attempt.
	Password *auth.Checker

	// Metrics is created when nil.
	Metrics *metrics.Metrics

	// Optional status sources for /api/v1/health and /api/v1/metrics.
	DB     *database.DB
	MQTT   ConnectionStatus
	Bridge BridgeMetricsProvider

	Version string
}

// Server is the HTTP API server for Switchboard.
//
// New registers the WebSocket hub and the Prometheus collectors as observers
// on the registry, so every committed change reaches both.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *device.Registry
	history   device.HistoryReader
	password  *auth.Checker
	metrics   *metrics.Metrics
	db        *database.DB
	mqtt      ConnectionStatus
	bridge    BridgeMetricsProvider
	version   string
	startTime time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		history:   deps.History,
		password:  deps.Password,
		metrics:   deps.Metrics,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.wsCfg.PingInterval <= 0 {
		s.wsCfg.PingInterval = defaultPingInterval
	}
	if s.wsCfg.PongTimeout <= 0 {
		s.wsCfg.PongTimeout = defaultPongTimeout
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	s.registry.AddObserver(s.hub)
	s.registry.AddObserver(s.metrics)

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
// The hub runs until Close or until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", s.server.Addr)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
