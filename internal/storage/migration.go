package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLock ensures only one migration can run at a time
var migrationLock sync.Mutex

// MigrationStatus reports the schema version recorded by golang-migrate.
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

func (s *SQLiteStorage) newMigrate() (*migrate.Migrate, error) {
	sourceInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	// The driver runs on the storage's own handle so that in-memory and
	// single-connection databases see the migrated schema.
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceInstance, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies all pending database migrations
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	migrationLock.Lock()
	defer migrationLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := s.newMigrate()
	if err != nil {
		return err
	}

	// m.Close is deliberately not called: it would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// GetMigrationStatus returns the current migration status
func (s *SQLiteStorage) GetMigrationStatus(ctx context.Context) (MigrationStatus, error) {
	migrationLock.Lock()
	defer migrationLock.Unlock()

	if err := ctx.Err(); err != nil {
		return MigrationStatus{}, err
	}

	m, err := s.newMigrate()
	if err != nil {
		return MigrationStatus{}, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return MigrationStatus{}, nil
		}
		return MigrationStatus{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}
