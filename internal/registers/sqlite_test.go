package registers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/database"
)

func sqliteConfig(t *testing.T) database.Config {
	t.Helper()
	return database.Config{
		Path:        filepath.Join(t.TempDir(), "registers.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}
}

func TestOpenSQLite_SeedsZeros(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, sqliteConfig(t))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	all, err := s.Get(0, Size)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	for addr, v := range all {
		if v != 0 {
			t.Fatalf("register %d = %d after seeding, want 0", addr, v)
		}
	}

	b := s.backend.(*SQLiteBackend)
	var rows int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM registers").Scan(&rows); err != nil {
		t.Fatalf("COUNT error = %v", err)
	}
	if rows != Size {
		t.Errorf("rows = %d, want %d", rows, Size)
	}
	var seeded string
	if err := b.db.QueryRowContext(ctx, "SELECT value FROM register_meta WHERE key = ?", metaSeededAt).Scan(&seeded); err != nil {
		t.Fatalf("seeded_at error = %v", err)
	}
	if _, err := time.Parse(time.RFC3339, seeded); err != nil {
		t.Errorf("seeded_at = %q: %v", seeded, err)
	}
}

func TestOpenSQLite_RestartRecovery(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	s, err := OpenSQLite(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}

	writes := map[int][]uint16{
		0:        {1},
		1:        {5},
		100:      {3, 0x0C33, 0x0C1A},
		4810:     {55},
		Size - 2: {0xFFFF, 0x8000},
	}
	for addr, vals := range writes {
		if err := s.SetFrom(SourceHTTP, addr, vals); err != nil {
			t.Fatalf("SetFrom(%d) error = %v", addr, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenSQLite(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close() //nolint:errcheck // Test cleanup

	for addr, want := range writes {
		got, err := reopened.Get(addr, len(want))
		if err != nil {
			t.Fatalf("Get(%d) error = %v", addr, err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("register %d = %d after restart, want %d", addr+i, got[i], want[i])
			}
		}
	}
	if v, _ := reopened.GetOne(2); v != 0 { //nolint:errcheck // in range
		t.Errorf("untouched register 2 = %d, want 0", v)
	}
}

func TestOpenSQLite_MissingRowIsCorrupt(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	s, err := OpenSQLite(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	db := s.backend.(*SQLiteBackend).db
	if _, err := db.ExecContext(ctx, "DELETE FROM registers WHERE address = 1234"); err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	s.Close() //nolint:errcheck // reopened below

	_, err = OpenSQLite(ctx, cfg)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("OpenSQLite() error = %v, want ErrCorrupt", err)
	}
}

func TestSQLite_FailedWriteLeavesBankUnchanged(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, sqliteConfig(t))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	if err := s.Set(10, []uint16{1, 2}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	db := s.backend.(*SQLiteBackend).db
	if _, err := db.ExecContext(ctx, "DROP TABLE registers"); err != nil {
		t.Fatalf("DROP error = %v", err)
	}

	if err := s.Set(10, []uint16{9, 9}); !errors.Is(err, ErrStorage) {
		t.Fatalf("Set() error = %v, want ErrStorage", err)
	}
	got, _ := s.Get(10, 2) //nolint:errcheck // in range
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("memory = %v after failed durable write, want [1 2]", got)
	}
}

func TestSQLite_MultiRegisterWriteIsOneTransaction(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, sqliteConfig(t))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	db := s.backend.(*SQLiteBackend).db
	// Reject writes to one address: the whole run must fail together.
	if _, err := db.ExecContext(ctx, `
		CREATE TRIGGER reject_502 BEFORE UPDATE ON registers
		WHEN NEW.address = 502
		BEGIN SELECT RAISE(ABORT, 'read only'); END`); err != nil {
		t.Fatalf("CREATE TRIGGER error = %v", err)
	}

	if err := s.Set(500, []uint16{1, 1, 1, 1}); !errors.Is(err, ErrStorage) {
		t.Fatalf("Set() error = %v, want ErrStorage", err)
	}

	var persisted int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM registers WHERE address BETWEEN 500 AND 503 AND value != 0",
	).Scan(&persisted); err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if persisted != 0 {
		t.Errorf("%d registers persisted from a failed run, want 0", persisted)
	}
}

func TestSQLite_HealthCheck(t *testing.T) {
	s, err := OpenSQLite(context.Background(), sqliteConfig(t))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestOpenSQLite_BadSynchronous(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Synchronous = "never"

	if _, err := OpenSQLite(context.Background(), cfg); !errors.Is(err, ErrStorage) {
		t.Errorf("OpenSQLite() error = %v, want ErrStorage", err)
	}
}
