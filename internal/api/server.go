package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/neasmart-gateway/internal/gateway"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/neasmart-gateway/internal/registers"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Store is the part of the register store the server watches.
type Store interface {
	OnChange(fn registers.Observer)
	HealthCheck(ctx context.Context) error
}

// ConnectionStatus reports whether an optional outbound link is up.
type ConnectionStatus interface {
	IsConnected() bool
}

// HealthChecker is an optional outbound link that can be pinged.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	Gateway  *gateway.Service
	Store    Store
	Recorder *metrics.Metrics // optional
	MQTT     ConnectionStatus // optional
	InfluxDB HealthChecker    // optional
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	gateway    *gateway.Service
	store      Store
	recorder   *metrics.Metrics
	mqtt       ConnectionStatus
	influx     HealthChecker
	version    string
	startTime  time.Time
	hub        *Hub
	router     http.Handler
	server     *http.Server
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies. Register
// changes are relayed to WebSocket clients from this point on; the listener
// is not opened until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("register store is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger.With("component", "api"),
		gateway:    deps.Gateway.As(registers.SourceHTTP),
		store:      deps.Store,
		recorder:   deps.Recorder,
		mqtt:       deps.MQTT,
		influx:     deps.InfluxDB,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.recorder.SetWebSocketClients)
	s.store.OnChange(s.hub.Publish)
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
//
// The listener is bound before Start returns, so a port already in use is
// reported to the caller.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
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
