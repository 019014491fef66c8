package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/draftsync/draftsync/pkg/store"
)

// Server is the HTTP/WebSocket sync server.
type Server struct {
	// Connection management
	registry *Registry

	// Draft persistence
	store store.Store

	// Same-owner fan-out
	broadcaster *Broadcaster

	// Command execution
	handler *Handler

	// Configuration
	config *Config

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// Prometheus instruments and the registry backing /metrics
	metrics         *Metrics
	metricsRegistry *prometheus.Registry

	// HTTP server
	httpServer *http.Server

	// Logger
	logger *slog.Logger
}

// New creates a new Server backed by the given draft store. The config is
// cloned before defaults are filled in, so the caller's struct is never
// modified and may be shared across servers.
func New(st store.Store, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()

		// Fill in defaults for any unset fields
		defaults := DefaultConfig()
		if config.Addr == "" {
			config.Addr = defaults.Addr
		}
		if config.ReadBufferSize == 0 {
			config.ReadBufferSize = defaults.ReadBufferSize
		}
		if config.WriteBufferSize == 0 {
			config.WriteBufferSize = defaults.WriteBufferSize
		}
		if config.CheckOrigin == nil {
			config.CheckOrigin = defaults.CheckOrigin
		}
		if config.HeartbeatInterval == 0 {
			config.HeartbeatInterval = defaults.HeartbeatInterval
		}
		if config.WriteTimeout == 0 {
			config.WriteTimeout = defaults.WriteTimeout
		}
		if config.MaxMessageSize == 0 {
			config.MaxMessageSize = defaults.MaxMessageSize
		}
		if config.BroadcastConcurrency == 0 {
			config.BroadcastConcurrency = defaults.BroadcastConcurrency
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
	}

	logger := slog.Default().With("component", "server")

	if config.DisableOwnershipCheck {
		logger.Warn("ownership enforcement disabled, any connection may query any userId")
	}

	registryMetrics := config.MetricsRegistry
	if registryMetrics == nil {
		registryMetrics = prometheus.NewRegistry()
	}
	metrics := NewMetrics(registryMetrics)

	registry := NewRegistry(config.MaxConns, metrics, logger)
	broadcaster := NewBroadcaster(registry, config.BroadcastConcurrency, metrics, logger)

	s := &Server{
		registry:    registry,
		store:       st,
		broadcaster: broadcaster,
		handler:     NewHandler(registry, st, broadcaster, config, metrics, logger),
		config:      config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		metrics:         metrics,
		metricsRegistry: registryMetrics,
		logger:          logger,
	}

	return s
}

// HandleWebSocket upgrades the request and runs the connection until it
// closes. One goroutine reads commands, a second drives heartbeats.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	ws.SetReadLimit(s.config.MaxMessageSize)

	c := newConn(ws, s.config, s.logger)
	if err := s.registry.Register(c); err != nil {
		s.logger.Warn("connection rejected", "conn_id", c.ID(), "error", err)
		c.Close()
		return
	}

	s.logger.Info("connection opened", "conn_id", c.ID(), "remote", r.RemoteAddr)

	go c.HeartbeatLoop()

	// Block until the connection closes. The request context stays valid for
	// the lifetime of the hijacked connection this way.
	s.readLoop(r.Context(), c)
}

// readLoop delivers inbound messages to the handler one at a time, which
// keeps per-connection command ordering.
func (s *Server) readLoop(ctx context.Context, c *Conn) {
	defer c.Close()

	for {
		// Text and binary frames both carry commands; every inbound frame
		// gets a response, even if only a decode error.
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", "conn_id", c.ID(), "error", err)
			}
			return
		}

		s.handler.Handle(ctx, c, data)
	}
}

// Run starts the server and blocks until it exits or receives an interrupt.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", "address", s.config.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server. All open connections receive a
// close frame before the listener stops.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.registry.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Store returns the draft store.
func (s *Server) Store() store.Store {
	return s.store
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogger replaces the server's logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger.With("component", "server")
}
