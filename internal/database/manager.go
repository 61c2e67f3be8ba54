// Package database implements the sqlite-backed token revocation store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"medrelay/internal/logger"
	dbconfig "medrelay/pkg/database"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("database manager is closed")

// Manager implements interfaces.RevocationStore on sqlite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer goroutine
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if dir := filepath.Dir(config.DatabasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if err := RunMigrations(config.DatabasePath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	// TECHNICAL DISCOVERY: Validate the migrated schema before the writer owns the handle
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.OrDefault(log),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after a pause
			err := op.operation(m.db)
			if err != nil && m.config.WriteRetryDelay > 0 {
				m.logger.Warn("database write failed, retrying",
					slog.String("error", err.Error()),
					slog.Duration("retry_delay", m.config.WriteRetryDelay),
				)
				select {
				case <-time.After(m.config.WriteRetryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error("database write failed after retry", slog.String("error", err.Error()))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return errors.New("write operation timeout")
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return errors.New("write operation timeout")
	}
}

// Revoke records tokenID as revoked until expiresAt; revoking twice keeps the later expiry
func (m *Manager) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO revoked_tokens (token_id, expires_at, revoked_at)
			VALUES (?, ?, ?)
			ON CONFLICT(token_id) DO UPDATE SET expires_at = MAX(expires_at, excluded.expires_at)
		`, tokenID, expiresAt.Unix(), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
		return nil
	})
}

// IsRevoked reports whether tokenID is on the revocation list
func (m *Manager) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	// ARCHITECTURAL DISCOVERY: Reads go straight to the pool, only writes are serialized
	var exists int
	err := m.db.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_tokens WHERE token_id = ?", tokenID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query revocation: %w", err)
	}
	return true, nil
}

// PurgeExpired deletes revocations whose tokens expired before now
func (m *Manager) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE expires_at < ?", now.Unix())
		if err != nil {
			return fmt.Errorf("failed to purge revocations: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Count returns the number of stored revocations
func (m *Manager) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM revoked_tokens").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count revocations: %w", err)
	}
	return n, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.Count(ctx); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection pool
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool; safe to call twice
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
