package fieldbus

import (
	"errors"
	"sync"

	"github.com/simonvetter/modbus"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/neasmart-gateway/internal/registers"
)

// BroadcastUnit is the Modbus broadcast address. Writes to it are applied;
// the RTU server never answers it.
const BroadcastUnit = 0

// Table names used in metrics and logs.
const (
	tableCoils            = "coils"
	tableDiscreteInputs   = "discrete_inputs"
	tableHoldingRegisters = "holding_registers"
	tableInputRegisters   = "input_registers"
	tableDeviceID         = "device_identification"
	tableFrames           = "frames"
)

// Request results used in metrics.
const (
	resultOK       = "ok"
	resultIgnored  = "ignored"
	resultAddress  = "illegal_address"
	resultFailure  = "device_failure"
	resultBadValue = "illegal_value"

	resultIllegalFunc = "illegal_function"
)

// Registers is the part of the register store the handler needs.
type Registers interface {
	Get(addr, count int) ([]uint16, error)
	SetFrom(source registers.Source, addr int, values []uint16) error
}

// Recorder receives one observation per served request.
type Recorder interface {
	ObserveFieldbus(transport, table, result string)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithIdentity sets the device identification objects served on the
// serial line.
func WithIdentity(id Identity) Option {
	return func(h *Handler) { h.identity = id }
}

// WithRecorder sets where request outcomes are counted.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// Handler answers Modbus requests from the register store. It implements
// modbus.RequestHandler.
//
// Requests for a unit that is neither the configured one nor broadcast fail
// with a gateway-target exception. The TCP server sends it back; the RTU
// server drops such frames before they reach the handler.
type Handler struct {
	regs     Registers
	unitID   uint8
	source   registers.Source
	recorder Recorder
	logger   *logging.Logger
	identity Identity

	mu    sync.Mutex
	coils []bool
}

var _ modbus.RequestHandler = (*Handler)(nil)

// NewHandler returns a Handler serving unitID. Writes are tagged with source.
func NewHandler(regs Registers, unitID uint8, source registers.Source, opts ...Option) *Handler {
	h := &Handler{
		regs:   regs,
		unitID: unitID,
		source: source,
		logger: logging.Discard(),
		coils:  make([]bool, registers.Size),

		identity: DefaultIdentity(""),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "fieldbus", "source", string(source))
	return h
}

// HandleHoldingRegisters reads from or writes to the register store.
func (h *Handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if !h.accepts(req.UnitId) {
		h.observe(tableHoldingRegisters, resultIgnored)
		return nil, modbus.ErrGWTargetFailedToRespond
	}

	if req.IsWrite {
		if err := h.regs.SetFrom(h.source, int(req.Addr), req.Args); err != nil {
			return nil, h.storeError(tableHoldingRegisters, req, err)
		}
		h.observe(tableHoldingRegisters, resultOK)
		return nil, nil
	}

	values, err := h.regs.Get(int(req.Addr), int(req.Quantity))
	if err != nil {
		return nil, h.storeError(tableHoldingRegisters, req, err)
	}
	h.observe(tableHoldingRegisters, resultOK)
	return values, nil
}

// HandleCoils reads or writes the volatile coil table.
func (h *Handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if !h.accepts(req.UnitId) {
		h.observe(tableCoils, resultIgnored)
		return nil, modbus.ErrGWTargetFailedToRespond
	}
	if !inRange(req.Addr, req.Quantity) {
		h.observe(tableCoils, resultAddress)
		return nil, modbus.ErrIllegalDataAddress
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := int(req.Addr)
	if req.IsWrite {
		copy(h.coils[start:], req.Args)
		h.observe(tableCoils, resultOK)
		return nil, nil
	}
	out := make([]bool, req.Quantity)
	copy(out, h.coils[start:start+int(req.Quantity)])
	h.observe(tableCoils, resultOK)
	return out, nil
}

// HandleDiscreteInputs reports every input as off.
func (h *Handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	if !h.accepts(req.UnitId) {
		h.observe(tableDiscreteInputs, resultIgnored)
		return nil, modbus.ErrGWTargetFailedToRespond
	}
	if !inRange(req.Addr, req.Quantity) {
		h.observe(tableDiscreteInputs, resultAddress)
		return nil, modbus.ErrIllegalDataAddress
	}
	h.observe(tableDiscreteInputs, resultOK)
	return make([]bool, req.Quantity), nil
}

// HandleInputRegisters reports every input register as zero.
func (h *Handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	if !h.accepts(req.UnitId) {
		h.observe(tableInputRegisters, resultIgnored)
		return nil, modbus.ErrGWTargetFailedToRespond
	}
	if !inRange(req.Addr, req.Quantity) {
		h.observe(tableInputRegisters, resultAddress)
		return nil, modbus.ErrIllegalDataAddress
	}
	h.observe(tableInputRegisters, resultOK)
	return make([]uint16, req.Quantity), nil
}

func (h *Handler) accepts(unit uint8) bool {
	return unit == h.unitID || unit == BroadcastUnit
}

// storeError maps a register store failure onto a Modbus exception.
func (h *Handler) storeError(table string, req *modbus.HoldingRegistersRequest, err error) error {
	if errors.Is(err, registers.ErrOutOfRange) {
		h.observe(table, resultAddress)
		return modbus.ErrIllegalDataAddress
	}
	h.observe(table, resultFailure)
	h.logger.Error("register store request failed",
		"client", req.ClientAddr,
		"write", req.IsWrite,
		"address", req.Addr,
		"quantity", req.Quantity,
		"error", err,
	)
	return modbus.ErrServerDeviceFailure
}

func (h *Handler) observe(table, result string) {
	if h.recorder != nil {
		h.recorder.ObserveFieldbus(string(h.source), table, result)
	}
}

func inRange(addr, quantity uint16) bool {
	return int(addr)+int(quantity) <= registers.Size
}
