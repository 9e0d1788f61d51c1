package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-cover/internal/bridges/modbus"
	"github.com/nerrad567/gray-logic-cover/internal/cover"
	"github.com/nerrad567/gray-logic-cover/internal/coverstore"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CoverService is the part of the bridge the API drives.
type CoverService interface {
	Covers() []modbus.CoverStatus
	Cover(coverID string) (modbus.CoverStatus, error)
	Execute(ctx context.Context, coverID string, cmd cover.Command) error
}

// HistoryReader reads recorded state changes. A zero since means no bound.
type HistoryReader interface {
	GetHistory(ctx context.Context, coverID string, limit int, since time.Time) ([]coverstore.HistoryEntry, error)
}

// ConnectionChecker reports broker connectivity for the health endpoint.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Covers      CoverService
	History     HistoryReader     // optional
	MQTT        ConnectionChecker // optional
	Metrics     http.Handler      // optional Prometheus handler
	MetricsPath string
	Version     string
}

// Server is the HTTP API server for the cover bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	covers      CoverService
	history     HistoryReader
	mqtt        ConnectionChecker
	metrics     http.Handler
	metricsPath string
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub exists from construction so state listeners can be
// registered before Start. The listener is not opened until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Covers == nil {
		return nil, fmt.Errorf("cover service is required")
	}

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		covers:      deps.Covers,
		history:     deps.History,
		mqtt:        deps.MQTT,
		metrics:     deps.Metrics,
		metricsPath: metricsPath,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         NewHub(deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// BroadcastState relays a cover snapshot to WebSocket subscribers of
// "cover.state_changed". It matches the bridge's state listener signature.
func (s *Server) BroadcastState(snap cover.Snapshot) {
	s.hub.Broadcast(ChannelCoverState, snap)
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

func (s *Server) uptime() time.Duration {
	return time.Since(s.startTime)
}

// HealthCheck verifies the API server is running and responsive.
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
