package fieldbus

import (
	"context"
	"fmt"

	"github.com/simonvetter/modbus"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
)

// TCPServer is a Modbus TCP server backed by a Handler.
type TCPServer struct {
	addr    string
	server  *modbus.ModbusServer
	logger  *logging.Logger
	stopped chan struct{}
}

// NewTCPServer prepares a server listening on cfg.Address(). It does not
// bind until Start is called.
func NewTCPServer(cfg config.ModbusConfig, h *Handler, logger *logging.Logger) (*TCPServer, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	addr := cfg.Address()
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + addr,
		Timeout:    cfg.GetTimeout(),
		MaxClients: uint(cfg.MaxClients),
	}, h)
	if err != nil {
		return nil, fmt.Errorf("creating modbus tcp server: %w", err)
	}
	return &TCPServer{
		addr:    addr,
		server:  server,
		logger:  logger.With("component", "fieldbus", "transport", config.TransportTCP),
		stopped: make(chan struct{}),
	}, nil
}

// Start binds the listener and serves in the background.
func (s *TCPServer) Start(_ context.Context) error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("starting modbus tcp server on %s: %w", s.addr, err)
	}
	s.logger.Info("modbus tcp server listening", "address", s.addr)
	return nil
}

// Close stops accepting connections and closes open ones.
func (s *TCPServer) Close() error {
	select {
	case <-s.stopped:
		return nil
	default:
		close(s.stopped)
	}
	if err := s.server.Stop(); err != nil {
		return fmt.Errorf("stopping modbus tcp server: %w", err)
	}
	s.logger.Info("modbus tcp server stopped")
	return nil
}
