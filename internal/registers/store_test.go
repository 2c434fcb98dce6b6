package registers

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

// memBackend is an in-memory Backend whose writes can be made to fail.
type memBackend struct {
	mu      sync.Mutex
	data    []uint16
	failPut error
	puts    int
	history []uint16
	closed  bool
}

func (m *memBackend) Load(_ context.Context, size int) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make([]uint16, size)
	}
	out := make([]uint16, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *memBackend) Put(_ context.Context, addr int, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.puts++
	m.history = append(m.history, values[0])
	copy(m.data[addr:], values)
	return nil
}

func (m *memBackend) Close() error {
	m.closed = true
	return nil
}

// countingRecorder satisfies Recorder.
type countingRecorder struct {
	mu       sync.Mutex
	reads    int
	writes   map[string]int
	failures map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{writes: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) ObserveRead(int) {
	r.mu.Lock()
	r.reads++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveWrite(source string, count int) {
	r.mu.Lock()
	r.writes[source] += count
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveFailure(op, reason string) {
	r.mu.Lock()
	r.failures[op+"/"+reason]++
	r.mu.Unlock()
}

func openMem(t *testing.T, opts ...Option) (*Store, *memBackend) {
	t.Helper()
	b := &memBackend{}
	s, err := Open(context.Background(), b, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, b
}

func TestOpen_ShortBackend(t *testing.T) {
	b := &memBackend{data: make([]uint16, 10)}
	if _, err := Open(context.Background(), b); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Open() error = %v, want ErrCorrupt", err)
	}
}

func TestStore_ReadAfterWrite(t *testing.T) {
	s, b := openMem(t)

	tests := []struct {
		name   string
		addr   int
		values []uint16
	}{
		{"first register", 0, []uint16{1}},
		{"zone block", 100, []uint16{3, 0x0C33}},
		{"last register", Size - 1, []uint16{0xFFFF}},
		{"run to end", Size - 3, []uint16{7, 8, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Set(tt.addr, tt.values); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, err := s.Get(tt.addr, len(tt.values))
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			for i := range tt.values {
				if got[i] != tt.values[i] {
					t.Errorf("Get()[%d] = %d, want %d", i, got[i], tt.values[i])
				}
				if b.data[tt.addr+i] != tt.values[i] {
					t.Errorf("backend[%d] = %d, want %d", tt.addr+i, b.data[tt.addr+i], tt.values[i])
				}
			}
		})
	}
}

func TestStore_OutOfRange(t *testing.T) {
	rec := newCountingRecorder()
	s, b := openMem(t, WithRecorder(rec))

	getTests := []struct {
		name        string
		addr, count int
	}{
		{"negative address", -1, 1},
		{"negative count", 0, -1},
		{"past end", Size, 1},
		{"run past end", Size - 1, 2},
		{"count overflows", 10, math.MaxInt},
		{"address overflows", math.MaxInt, 1},
	}
	for _, tt := range getTests {
		t.Run("get "+tt.name, func(t *testing.T) {
			if _, err := s.Get(tt.addr, tt.count); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("Get(%d, %d) error = %v, want ErrOutOfRange", tt.addr, tt.count, err)
			}
		})
	}

	if err := s.Set(Size-1, []uint16{1, 2}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Set() past end error = %v, want ErrOutOfRange", err)
	}
	if err := s.Set(-5, []uint16{1}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Set() negative error = %v, want ErrOutOfRange", err)
	}
	if err := s.Set(math.MaxInt, []uint16{1}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Set() overflowing address error = %v, want ErrOutOfRange", err)
	}
	if b.puts != 0 {
		t.Errorf("backend saw %d puts for rejected writes", b.puts)
	}
	if rec.failures["get/range"] != len(getTests) || rec.failures["set/range"] != 3 {
		t.Errorf("failures = %v", rec.failures)
	}
}

func TestStore_EmptyOperations(t *testing.T) {
	s, b := openMem(t)

	got, err := s.Get(Size, 0)
	if err != nil || len(got) != 0 {
		t.Errorf("Get(Size, 0) = %v, %v; want empty, nil", got, err)
	}
	if err := s.Set(10, nil); err != nil {
		t.Errorf("Set(10, nil) error = %v", err)
	}
	if b.puts != 0 {
		t.Errorf("empty Set reached backend")
	}
}

func TestStore_RollbackOnStorageFailure(t *testing.T) {
	rec := newCountingRecorder()
	s, b := openMem(t, WithRecorder(rec))

	if err := s.Set(200, []uint16{11, 12}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var notified int
	s.OnChange(func(Change) { notified++ })

	diskErr := errors.New("disk I/O error")
	b.failPut = diskErr

	err := s.Set(200, []uint16{99, 98})
	if !errors.Is(err, ErrStorage) || !errors.Is(err, diskErr) {
		t.Fatalf("Set() error = %v, want ErrStorage wrapping the backend error", err)
	}

	got, err := s.Get(200, 2)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got[0] != 11 || got[1] != 12 {
		t.Errorf("memory = %v after failed write, want [11 12]", got)
	}
	if b.data[200] != 11 || b.data[201] != 12 {
		t.Errorf("backend = %v after failed write", b.data[200:202])
	}
	if notified != 0 {
		t.Error("observer notified of failed write")
	}
	if rec.failures["set/storage"] != 1 {
		t.Errorf("failures = %v", rec.failures)
	}
}

func TestStore_CallerSliceIsCopied(t *testing.T) {
	s, _ := openMem(t)

	in := []uint16{1, 2, 3}
	if err := s.Set(0, in); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	in[0] = 100

	out, _ := s.Get(0, 3) //nolint:errcheck // in range
	out[1] = 200

	again, _ := s.Get(0, 3) //nolint:errcheck // in range
	if again[0] != 1 || again[1] != 2 {
		t.Errorf("store aliased caller slices: %v", again)
	}
}

func TestStore_OnChange(t *testing.T) {
	rec := newCountingRecorder()
	s, _ := openMem(t, WithRecorder(rec))

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	if err := s.SetFrom(SourceHTTP, 1, []uint16{4}); err != nil {
		t.Fatalf("SetFrom() error = %v", err)
	}
	if err := s.SetFrom(SourceModbusTCP, 100, []uint16{1, 2}); err != nil {
		t.Fatalf("SetFrom() error = %v", err)
	}

	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if c := changes[1]; c.Address != 100 || len(c.Values) != 2 || c.Source != SourceModbusTCP {
		t.Errorf("change = %+v", c)
	}
	if rec.writes["http"] != 1 || rec.writes["modbus-tcp"] != 2 {
		t.Errorf("writes = %v", rec.writes)
	}
}

func TestStore_ObserverCanReadStore(t *testing.T) {
	s, _ := openMem(t)

	// Observers run after the lock is released; reading here must not deadlock.
	var seen uint16
	s.OnChange(func(c Change) {
		v, err := s.GetOne(c.Address)
		if err != nil {
			t.Errorf("GetOne() in observer error = %v", err)
		}
		seen = v
	})

	if err := s.Set(42, []uint16{7}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if seen != 7 {
		t.Errorf("observer read %d, want 7", seen)
	}
}

func TestStore_ConcurrentDisjointWrites(t *testing.T) {
	s, _ := openMem(t)

	const (
		writers = 8
		rounds  = 200
		width   = 16
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			base := 1000 + w*width
			vals := make([]uint16, width)
			for r := 1; r <= rounds; r++ {
				for i := range vals {
					vals[i] = uint16(r)
				}
				if err := s.SetFrom(SourceModbusTCP, base, vals); err != nil {
					t.Errorf("SetFrom() error = %v", err)
					return
				}
			}
		}(w)
	}

	// A reader must always see every block uniform: all-or-nothing writes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			for w := 0; w < writers; w++ {
				block, err := s.Get(1000+w*width, width)
				if err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				for _, v := range block {
					if v != block[0] {
						t.Errorf("torn block %d: %v", w, block)
						return
					}
				}
			}
		}
	}()

	wg.Wait()
	<-done

	for w := 0; w < writers; w++ {
		block, _ := s.Get(1000+w*width, width) //nolint:errcheck // in range
		for _, v := range block {
			if v != rounds {
				t.Fatalf("block %d = %v, want all %d", w, block, rounds)
			}
		}
	}
}

func TestStore_Close(t *testing.T) {
	s, b := openMem(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !b.closed {
		t.Error("backend not closed")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := s.Get(0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
	if err := s.Set(0, []uint16{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosed", err)
	}
}

func TestStore_ObserversSeeCommitOrder(t *testing.T) {
	s, b := openMem(t)

	var (
		mu   sync.Mutex
		seen []uint16
	)
	s.OnChange(func(c Change) {
		mu.Lock()
		seen = append(seen, c.Values[0])
		mu.Unlock()
	})

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := s.Set(42, []uint16{uint16(w*perWriter + i)}); err != nil {
					t.Errorf("Set() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if len(seen) != len(b.history) {
		t.Fatalf("observers saw %d changes, backend committed %d", len(seen), len(b.history))
	}
	for i := range seen {
		if seen[i] != b.history[i] {
			t.Fatalf("change %d = %d, committed %d", i, seen[i], b.history[i])
		}
	}
	got, _ := s.GetOne(42)
	if got != seen[len(seen)-1] {
		t.Errorf("final register = %d, last observed %d", got, seen[len(seen)-1])
	}
}

func TestStore_PanickingObserverDoesNotStallLaterWrites(t *testing.T) {
	s, _ := openMem(t)

	first := true
	s.OnChange(func(Change) {
		if first {
			first = false
			panic("observer failure")
		}
	})

	func() {
		defer func() { _ = recover() }()
		_ = s.Set(1, []uint16{1})
	}()

	done := make(chan error, 1)
	go func() { done <- s.Set(1, []uint16{2}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Set() blocked after an observer panicked")
	}
}
