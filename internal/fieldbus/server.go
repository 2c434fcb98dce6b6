package fieldbus

import (
	"context"
	"fmt"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/neasmart-gateway/internal/registers"
)

// Server is a running Modbus front end.
type Server interface {
	Start(ctx context.Context) error
	Close() error
}

// New builds the server for cfg.Transport over regs. extra options are
// applied to the Handler after the logger and recorder.
func New(cfg config.ModbusConfig, regs Registers, logger *logging.Logger, recorder Recorder, extra ...Option) (Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	opts := []Option{WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, WithRecorder(recorder))
	}
	opts = append(opts, extra...)
	unit := uint8(cfg.SlaveID) //nolint:gosec // validated to [1, 247] by config

	switch cfg.Transport {
	case config.TransportTCP:
		h := NewHandler(regs, unit, registers.SourceModbusTCP, opts...)
		srv, err := NewTCPServer(cfg, h, logger)
		if err != nil {
			return nil, err
		}
		return srv, nil
	case config.TransportSerial:
		h := NewHandler(regs, unit, registers.SourceModbusRTU, opts...)
		return NewRTUServer(cfg.Serial, h, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown modbus transport %q", config.ErrInvalidConfig, cfg.Transport)
	}
}
