package registers

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
)

// Size is the number of registers in the bank.
const Size = 65536

// Source tags the writer of a change.
type Source string

// Known writers.
const (
	SourceInternal  Source = "internal"
	SourceModbusTCP Source = "modbus-tcp"
	SourceModbusRTU Source = "modbus-rtu"
	SourceHTTP      Source = "http"
	SourceMQTT      Source = "mqtt"
)

// Backend is the durable mirror of the bank.
type Backend interface {
	// Load returns all size registers in address order, seeding zeros
	// first if the backend is empty.
	Load(ctx context.Context, size int) ([]uint16, error)

	// Put durably writes values starting at addr as one unit.
	Put(ctx context.Context, addr int, values []uint16) error

	// Close releases the backend.
	Close() error
}

// Recorder receives store activity. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveRead(count int)
	ObserveWrite(source string, count int)
	ObserveFailure(op, reason string)
}

// Change describes one committed write. Values is shared between observers
// and must not be modified.
type Change struct {
	Address int
	Values  []uint16
	Source  Source
}

// Observer is called after each committed write, outside the store lock.
type Observer func(Change)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l.With("component", "registers") }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// Store is the shared register bank.
type Store struct {
	mu      sync.Mutex
	regs    []uint16
	backend Backend
	closed  bool

	obsMu     sync.RWMutex
	observers []Observer

	// Commit order of the next write, and the number of writes whose
	// observers have run. seq is guarded by mu, delivered by orderMu.
	seq       uint64
	orderMu   sync.Mutex
	order     *sync.Cond
	delivered uint64

	logger   *logging.Logger
	recorder Recorder
}

// Open loads the bank from backend. The store takes ownership of the
// backend and closes it in Close.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		logger:  logging.Discard(),
	}
	s.order = sync.NewCond(&s.orderMu)
	for _, opt := range opts {
		opt(s)
	}

	regs, err := backend.Load(ctx, Size)
	if err != nil {
		return nil, err
	}
	if len(regs) != Size {
		return nil, fmt.Errorf("%w: backend returned %d registers, want %d", ErrCorrupt, len(regs), Size)
	}
	s.regs = regs

	s.logger.Info("register bank loaded", "registers", Size)
	return s, nil
}

// Get returns count registers starting at addr.
func (s *Store) Get(addr, count int) ([]uint16, error) {
	if err := checkRange(addr, count); err != nil {
		s.fail("get", "range")
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	out := make([]uint16, count)
	copy(out, s.regs[addr:addr+count])
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveRead(count)
	}
	return out, nil
}

// GetOne returns the register at addr.
func (s *Store) GetOne(addr int) (uint16, error) {
	v, err := s.Get(addr, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Set writes values starting at addr, tagged as an internal write.
func (s *Store) Set(addr int, values []uint16) error {
	return s.SetFrom(SourceInternal, addr, values)
}

// SetFrom writes values starting at addr on behalf of source. The write is
// durable when SetFrom returns nil. On error the bank is unchanged.
func (s *Store) SetFrom(source Source, addr int, values []uint16) error {
	if err := checkRange(addr, len(values)); err != nil {
		s.fail("set", "range")
		return err
	}
	if len(values) == 0 {
		return nil
	}

	// Callers may reuse their slice once we return.
	vals := make([]uint16, len(values))
	copy(vals, values)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.backend.Put(context.Background(), addr, vals); err != nil {
		s.mu.Unlock()
		s.fail("set", "storage")
		s.logger.Error("durable register write failed",
			"address", addr, "count", len(vals), "source", source, "error", err)
		return fmt.Errorf("%w: writing %d registers at %d: %w", ErrStorage, len(vals), addr, err)
	}
	copy(s.regs[addr:], vals)
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveWrite(string(source), len(vals))
	}
	s.notifyInOrder(seq, Change{Address: addr, Values: vals, Source: source})
	return nil
}

// OnChange registers an observer for committed writes. Observers run on the
// writer's goroutine, in commit order, and must not block or write to the
// store.
func (s *Store) OnChange(fn Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

// notifyInOrder waits until every earlier commit has been delivered, so
// observers see changes in the order they reached the backend.
func (s *Store) notifyInOrder(seq uint64, c Change) {
	s.orderMu.Lock()
	for s.delivered != seq {
		s.order.Wait()
	}
	s.orderMu.Unlock()

	defer func() {
		s.orderMu.Lock()
		s.delivered++
		s.order.Broadcast()
		s.orderMu.Unlock()
	}()
	s.notify(c)
}

func (s *Store) notify(c Change) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()

	for _, fn := range observers {
		fn(c)
	}
}

// HealthCheck verifies the backend when it supports health checks.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if hc, ok := s.backend.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close closes the backend. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func (s *Store) fail(op, reason string) {
	if s.recorder != nil {
		s.recorder.ObserveFailure(op, reason)
	}
}

func checkRange(addr, count int) error {
	if addr < 0 || addr > Size || count < 0 || count > Size-addr {
		return fmt.Errorf("%w: address %d count %d", ErrOutOfRange, addr, count)
	}
	return nil
}
