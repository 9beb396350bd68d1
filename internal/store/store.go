package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wabridge/internal/domain"
)

// Instance is one persisted session namespace.
type Instance struct {
	ID        string
	Label     string
	DeviceJID string // empty until a device has been paired
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists instance metadata and hosts the provider credential
// container in the same SQLite file. Deleting an instance's device row
// from the container is the "forget the pairing ever happened" primitive
// that the session state machine relies on.
type Store struct {
	db        *sql.DB
	container *sqlstore.Container
	logger    *slog.Logger
}

// Open opens (creating if needed) the SQLite file at dbPath, runs the
// instance-table migration and upgrades the credential container schema.
func Open(ctx context.Context, dbPath string, logger *slog.Logger, waLogger waLog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:        db,
		container: sqlstore.NewWithDB(db, "sqlite3", waLogger),
		logger:    logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	if err := s.container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("credential store upgrade failed: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id          TEXT PRIMARY KEY,
		label       TEXT,
		device_jid  TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Upsert creates or refreshes an instance row.
func (s *Store) Upsert(ctx context.Context, inst Instance) error {
	now := time.Now()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, label, device_jid, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET label=excluded.label, updated_at=excluded.updated_at`,
		inst.ID, inst.Label, inst.DeviceJID, inst.CreatedAt, inst.UpdatedAt,
	)
	return err
}

// Get returns the instance row, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, device_jid, created_at, updated_at FROM instances WHERE id = ?`, id,
	).Scan(&inst.ID, &inst.Label, &inst.DeviceJID, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// List returns all instance rows ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, device_jid, created_at, updated_at FROM instances ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		var inst Instance
		if err := rows.Scan(&inst.ID, &inst.Label, &inst.DeviceJID, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// BindDevice records the paired device address for an instance.
func (s *Store) BindDevice(ctx context.Context, id, deviceJID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE instances SET device_jid = ?, updated_at = ? WHERE id = ?`,
		deviceJID, time.Now(), id,
	)
	return err
}

// DeviceJID returns the bound device address, empty when unpaired.
func (s *Store) DeviceJID(ctx context.Context, id string) (string, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return inst.DeviceJID, nil
}

// Delete removes the instance row. Credentials are wiped separately.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	return err
}

// Wipe deletes the instance's device credentials from the container and
// clears the binding. Best effort: each step failure is logged and the
// remaining steps still run; the first error is returned.
func (s *Store) Wipe(ctx context.Context, id string) error {
	var firstErr error

	jid, err := s.DeviceJID(ctx, id)
	if err != nil {
		s.logger.Warn("wipe: cannot read device binding", "instance", id, "error", err)
		firstErr = err
	}
	if jid != "" {
		if err := s.deleteDevice(ctx, jid); err != nil {
			s.logger.Warn("wipe: cannot delete device credentials", "instance", id, "jid", jid, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.BindDevice(ctx, id, ""); err != nil {
		s.logger.Warn("wipe: cannot clear device binding", "instance", id, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) deleteDevice(ctx context.Context, jid string) error {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("invalid device jid %q: %w", jid, err)
	}
	device, err := s.container.GetDevice(ctx, parsed)
	if err != nil {
		return err
	}
	if device == nil {
		return nil
	}
	return device.Delete(ctx)
}

// Device returns the credential record bound to the instance, or a fresh
// unpaired device when no binding exists.
func (s *Store) Device(ctx context.Context, id string) (*wastore.Device, error) {
	jid, err := s.DeviceJID(ctx, id)
	if err != nil {
		return nil, err
	}
	if jid == "" {
		return s.container.NewDevice(), nil
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("invalid device jid %q: %w", jid, err)
	}
	device, err := s.container.GetDevice(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if device == nil {
		// Binding is stale; the credentials are already gone.
		return s.container.NewDevice(), nil
	}
	return device, nil
}
