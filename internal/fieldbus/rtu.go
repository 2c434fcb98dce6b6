package fieldbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/simonvetter/modbus"
	"github.com/tbrandon/mbserver"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
)

// Request size limits from the Modbus application protocol.
const (
	maxReadBits       = 2000
	maxReadRegisters  = 125
	maxWriteBits      = 1968
	maxWriteRegisters = 123
)

// Function codes served on the serial line.
const (
	fcReadCoils              = 1
	fcReadDiscreteInputs     = 2
	fcReadHoldingRegisters   = 3
	fcReadInputRegisters     = 4
	fcWriteSingleCoil        = 5
	fcWriteSingleRegister    = 6
	fcWriteMultipleCoils     = 15
	fcWriteMultipleRegisters = 16
	fcEncapsulatedInterface  = 43
)

// serialReadTimeout bounds each port read so Close is noticed.
const serialReadTimeout = 500 * time.Millisecond

type rtuFunction func(mbserver.Framer) ([]byte, *mbserver.Exception)

// RTUServer is a Modbus RTU slave on a serial line backed by a Handler.
//
// Frames are decoded and encoded by mbserver, but the read loop is ours: on
// a multidrop bus a slave must stay silent for frames addressed to another
// unit, and must never answer a broadcast.
type RTUServer struct {
	serial    *serial.Config
	handler   *Handler
	functions [256]rtuFunction
	logger    *logging.Logger

	mu      sync.Mutex
	port    io.ReadWriteCloser
	closing bool
	done    chan struct{}
}

// NewRTUServer prepares a server for the configured serial line. The port is
// opened by Start.
func NewRTUServer(cfg config.SerialConfig, h *Handler, logger *logging.Logger) *RTUServer {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &RTUServer{
		serial: &serial.Config{
			Address:  cfg.Device,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   strings.ToUpper(cfg.Parity),
			Timeout:  serialReadTimeout,
		},
		handler: h,
		logger:  logger.With("component", "fieldbus", "transport", config.TransportSerial),
	}
	s.registerFunctions()
	return s
}

// Start opens the serial port and serves in the background.
func (s *RTUServer) Start(_ context.Context) error {
	port, err := serial.Open(s.serial)
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", s.serial.Address, err)
	}
	s.serve(port)
	s.logger.Info("modbus rtu server listening",
		"device", s.serial.Address,
		"baud_rate", s.serial.BaudRate,
		"parity", s.serial.Parity,
	)
	return nil
}

// serve reads frames from port until Close.
func (s *RTUServer) serve(port io.ReadWriteCloser) {
	s.mu.Lock()
	s.port = port
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		buf := make([]byte, 512)
		for {
			n, err := port.Read(buf)
			if err != nil {
				if errors.Is(err, serial.ErrTimeout) {
					continue
				}
				if !s.isClosing() {
					s.logger.Error("serial read failed", "error", err)
				}
				return
			}
			if n == 0 {
				continue
			}
			resp := s.reply(buf[:n])
			if resp == nil {
				continue
			}
			if _, err := port.Write(resp); err != nil && !s.isClosing() {
				s.logger.Warn("serial write failed", "error", err)
			}
		}
	}()
}

// reply handles one raw frame and returns the bytes to send back, or nil
// when the bus must stay silent.
func (s *RTUServer) reply(packet []byte) []byte {
	frame, err := mbserver.NewRTUFrame(packet)
	if err != nil {
		s.logger.Debug("discarding bad rtu frame", "error", err, "length", len(packet))
		return nil
	}

	broadcast := frame.Address == BroadcastUnit
	if frame.Address != s.handler.unitID && !broadcast {
		s.handler.observe(tableFrames, resultIgnored)
		return nil
	}

	fn := s.functions[frame.Function]
	if broadcast {
		if fn != nil && isWrite(frame.Function) {
			fn(frame)
		}
		return nil
	}

	response := frame.Copy()
	if fn == nil {
		s.handler.observe(tableFrames, resultIllegalFunc)
		response.SetException(&mbserver.IllegalFunction)
		return response.Bytes()
	}
	data, ex := fn(frame)
	response.SetData(data)
	if ex != &mbserver.Success {
		response.SetException(ex)
	}
	return response.Bytes()
}

func (s *RTUServer) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Close releases the serial port and waits for the read loop to exit.
func (s *RTUServer) Close() error {
	s.mu.Lock()
	port, done := s.port, s.done
	already := s.closing
	s.closing = true
	s.mu.Unlock()

	if already || port == nil {
		return nil
	}
	err := port.Close()
	<-done
	s.logger.Info("modbus rtu server stopped")
	return err
}

func isWrite(function uint8) bool {
	switch function {
	case fcWriteSingleCoil, fcWriteSingleRegister, fcWriteMultipleCoils, fcWriteMultipleRegisters:
		return true
	}
	return false
}

// registerFunctions routes every supported function code to the handler.
func (s *RTUServer) registerFunctions() {
	h := s.handler
	s.functions[fcReadCoils] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return readBits(f, maxReadBits, func(unit uint8, addr, qty uint16) ([]bool, error) {
			return h.HandleCoils(&modbus.CoilsRequest{ClientAddr: "rtu", UnitId: unit, Addr: addr, Quantity: qty})
		})
	}
	s.functions[fcReadDiscreteInputs] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return readBits(f, maxReadBits, func(unit uint8, addr, qty uint16) ([]bool, error) {
			return h.HandleDiscreteInputs(&modbus.DiscreteInputsRequest{ClientAddr: "rtu", UnitId: unit, Addr: addr, Quantity: qty})
		})
	}
	s.functions[fcReadHoldingRegisters] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return readRegisters(f, func(unit uint8, addr, qty uint16) ([]uint16, error) {
			return h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{ClientAddr: "rtu", UnitId: unit, Addr: addr, Quantity: qty})
		})
	}
	s.functions[fcReadInputRegisters] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return readRegisters(f, func(unit uint8, addr, qty uint16) ([]uint16, error) {
			return h.HandleInputRegisters(&modbus.InputRegistersRequest{ClientAddr: "rtu", UnitId: unit, Addr: addr, Quantity: qty})
		})
	}
	s.functions[fcWriteSingleCoil] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return writeSingleCoil(f, h)
	}
	s.functions[fcWriteSingleRegister] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return writeSingleRegister(f, h)
	}
	s.functions[fcWriteMultipleCoils] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return writeMultipleCoils(f, h)
	}
	s.functions[fcWriteMultipleRegisters] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return writeMultipleRegisters(f, h)
	}
	s.functions[fcEncapsulatedInterface] = func(f mbserver.Framer) ([]byte, *mbserver.Exception) {
		return readDeviceIdentification(f, h)
	}
}

// unitOf returns the slave address of a frame.
func unitOf(f mbserver.Framer) uint8 {
	switch fr := f.(type) {
	case *mbserver.RTUFrame:
		return fr.Address
	case *mbserver.TCPFrame:
		return fr.Device
	}
	return BroadcastUnit
}

// span parses the start address and quantity at the head of a request and
// checks them against limit and the table size.
func span(data []byte, limit int) (addr, qty uint16, ex *mbserver.Exception) {
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	addr = binary.BigEndian.Uint16(data[0:2])
	qty = binary.BigEndian.Uint16(data[2:4])
	if qty == 0 || int(qty) > limit {
		return 0, 0, &mbserver.IllegalDataValue
	}
	if !inRange(addr, qty) {
		return 0, 0, &mbserver.IllegalDataAddress
	}
	return addr, qty, nil
}

func readBits(f mbserver.Framer, limit int, read func(unit uint8, addr, qty uint16) ([]bool, error)) ([]byte, *mbserver.Exception) {
	addr, qty, ex := span(f.GetData(), limit)
	if ex != nil {
		return []byte{}, ex
	}
	bits, err := read(unitOf(f), addr, qty)
	if err != nil {
		return []byte{}, exception(err)
	}
	packed := packBits(bits)
	return append([]byte{byte(len(packed))}, packed...), &mbserver.Success
}

func readRegisters(f mbserver.Framer, read func(unit uint8, addr, qty uint16) ([]uint16, error)) ([]byte, *mbserver.Exception) {
	addr, qty, ex := span(f.GetData(), maxReadRegisters)
	if ex != nil {
		return []byte{}, ex
	}
	values, err := read(unitOf(f), addr, qty)
	if err != nil {
		return []byte{}, exception(err)
	}
	resp := make([]byte, 1+2*len(values))
	resp[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[1+2*i:], v)
	}
	return resp, &mbserver.Success
}

func writeSingleCoil(f mbserver.Framer, h *Handler) ([]byte, *mbserver.Exception) {
	data := f.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	var on bool
	switch binary.BigEndian.Uint16(data[2:4]) {
	case 0xFF00:
		on = true
	case 0x0000:
	default:
		h.observe(tableCoils, resultBadValue)
		return []byte{}, &mbserver.IllegalDataValue
	}
	_, err := h.HandleCoils(&modbus.CoilsRequest{
		ClientAddr: "rtu", UnitId: unitOf(f), Addr: addr, Quantity: 1, IsWrite: true, Args: []bool{on},
	})
	if err != nil {
		return []byte{}, exception(err)
	}
	return data[:4], &mbserver.Success
}

func writeSingleRegister(f mbserver.Framer, h *Handler) ([]byte, *mbserver.Exception) {
	data := f.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	_, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{
		ClientAddr: "rtu",
		UnitId:     unitOf(f),
		Addr:       binary.BigEndian.Uint16(data[0:2]),
		Quantity:   1,
		IsWrite:    true,
		Args:       []uint16{binary.BigEndian.Uint16(data[2:4])},
	})
	if err != nil {
		return []byte{}, exception(err)
	}
	return data[:4], &mbserver.Success
}

func writeMultipleCoils(f mbserver.Framer, h *Handler) ([]byte, *mbserver.Exception) {
	data := f.GetData()
	addr, qty, ex := span(data, maxWriteBits)
	if ex != nil {
		return []byte{}, ex
	}
	n := int(qty+7) / 8
	if len(data) < 5 || int(data[4]) != n || len(data) < 5+n {
		return []byte{}, &mbserver.IllegalDataValue
	}
	_, err := h.HandleCoils(&modbus.CoilsRequest{
		ClientAddr: "rtu", UnitId: unitOf(f), Addr: addr, Quantity: qty, IsWrite: true,
		Args: unpackBits(data[5:5+n], int(qty)),
	})
	if err != nil {
		return []byte{}, exception(err)
	}
	return data[:4], &mbserver.Success
}

func writeMultipleRegisters(f mbserver.Framer, h *Handler) ([]byte, *mbserver.Exception) {
	data := f.GetData()
	addr, qty, ex := span(data, maxWriteRegisters)
	if ex != nil {
		return []byte{}, ex
	}
	n := 2 * int(qty)
	if len(data) < 5 || int(data[4]) != n || len(data) < 5+n {
		return []byte{}, &mbserver.IllegalDataValue
	}
	values := make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[5+2*i:])
	}
	_, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{
		ClientAddr: "rtu", UnitId: unitOf(f), Addr: addr, Quantity: qty, IsWrite: true, Args: values,
	})
	if err != nil {
		return []byte{}, exception(err)
	}
	return data[:4], &mbserver.Success
}

// exception maps a Handler error onto the mbserver exception set.
func exception(err error) *mbserver.Exception {
	switch {
	case errors.Is(err, modbus.ErrIllegalDataAddress):
		return &mbserver.IllegalDataAddress
	case errors.Is(err, modbus.ErrIllegalDataValue):
		return &mbserver.IllegalDataValue
	default:
		return &mbserver.SlaveDeviceFailure
	}
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackBits(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out
}
