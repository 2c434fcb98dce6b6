package registers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/database"
	"github.com/nerrad567/neasmart-gateway/migrations"
)

const (
	upsertRegister = `INSERT INTO registers (address, value) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET value = excluded.value`

	metaSeededAt = "seeded_at"
)

// SQLiteBackend persists the bank in the registers table of a SQLite
// database, one row per address.
type SQLiteBackend struct {
	db *database.DB
}

// NewSQLiteBackend wraps an open database. Load applies the schema
// migrations before reading.
func NewSQLiteBackend(db *database.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// OpenSQLite opens (or creates) the register database at cfg.Path and
// returns a loaded Store. It is the usual way to start the bank.
func OpenSQLite(ctx context.Context, cfg database.Config, opts ...Option) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	store, err := Open(ctx, NewSQLiteBackend(db), opts...)
	if err != nil {
		db.Close() //nolint:errcheck // best effort on error path
		return nil, err
	}
	return store, nil
}

// Load migrates the schema and returns the bank. An empty table is seeded
// with size zero rows in one transaction.
func (b *SQLiteBackend) Load(ctx context.Context, size int) ([]uint16, error) {
	if err := b.db.Migrate(ctx, migrations.SQLite); err != nil {
		return nil, fmt.Errorf("%w: migrating register schema: %w", ErrStorage, err)
	}

	var rows int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM registers").Scan(&rows); err != nil {
		return nil, fmt.Errorf("%w: counting registers: %w", ErrStorage, err)
	}

	switch rows {
	case 0:
		if err := b.seed(ctx, size); err != nil {
			return nil, err
		}
		return make([]uint16, size), nil
	case size:
		return b.load(ctx, size)
	default:
		return nil, fmt.Errorf("%w: found %d register rows, want %d", ErrCorrupt, rows, size)
	}
}

func (b *SQLiteBackend) seed(ctx context.Context, size int) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO registers (address, value) VALUES (?, 0)")
	if err != nil {
		return fmt.Errorf("%w: preparing seed: %w", ErrStorage, err)
	}
	defer stmt.Close()

	for addr := 0; addr < size; addr++ {
		if _, err := stmt.ExecContext(ctx, addr); err != nil {
			return fmt.Errorf("%w: seeding register %d: %w", ErrStorage, addr, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO register_meta (key, value) VALUES (?, ?)",
		metaSeededAt, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("%w: recording seed: %w", ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing seed: %w", ErrStorage, err)
	}
	return nil
}

func (b *SQLiteBackend) load(ctx context.Context, size int) ([]uint16, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT address, value FROM registers ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("%w: loading registers: %w", ErrStorage, err)
	}
	defer rows.Close()

	regs := make([]uint16, size)
	next := 0
	for rows.Next() {
		var addr, value int64
		if err := rows.Scan(&addr, &value); err != nil {
			return nil, fmt.Errorf("%w: scanning register row: %w", ErrCorrupt, err)
		}
		if addr != int64(next) {
			return nil, fmt.Errorf("%w: expected register %d, found %d", ErrCorrupt, next, addr)
		}
		if value < 0 || value > 0xFFFF {
			return nil, fmt.Errorf("%w: register %d holds %d", ErrCorrupt, addr, value)
		}
		regs[next] = uint16(value)
		next++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating registers: %w", ErrStorage, err)
	}
	if next != size {
		return nil, fmt.Errorf("%w: loaded %d registers, want %d", ErrCorrupt, next, size)
	}
	return regs, nil
}

// Put upserts values in one transaction.
func (b *SQLiteBackend) Put(ctx context.Context, addr int, values []uint16) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := putTx(ctx, tx, addr, values); err != nil {
		return err
	}
	return tx.Commit()
}

func putTx(ctx context.Context, tx *sql.Tx, addr int, values []uint16) error {
	if len(values) == 1 {
		_, err := tx.ExecContext(ctx, upsertRegister, addr, values[0])
		return err
	}

	stmt, err := tx.PrepareContext(ctx, upsertRegister)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, v := range values {
		if _, err := stmt.ExecContext(ctx, addr+i, v); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck pings the database.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	return b.db.HealthCheck(ctx)
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
