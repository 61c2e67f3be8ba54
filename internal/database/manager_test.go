package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"medrelay/internal/logger"
	dbconfig "medrelay/pkg/database"
	"medrelay/pkg/interfaces"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "nested", "medrelay.db")
	config.WriteRetryDelay = 0

	m, err := NewManager(config, logger.Discard())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_ImplementsRevocationStore(t *testing.T) {
	var _ interfaces.RevocationStore = (*Manager)(nil)
}

func TestManager_MigratesSchema(t *testing.T) {
	m := newTestManager(t)

	if err := dbconfig.NewSchemaValidator(m.GetDB()).Validate(); err != nil {
		t.Fatalf("schema should be valid after migrations: %v", err)
	}
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestManager_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medrelay.db")
	if err := RunMigrations(path); err != nil {
		t.Fatalf("first migration run failed: %v", err)
	}
	if err := RunMigrations(path); err != nil {
		t.Fatalf("second migration run should be a no-op, got %v", err)
	}
}

func TestManager_RevokeAndCheck(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	revoked, err := m.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatal(err)
	}
	if revoked {
		t.Fatal("unknown token should not be revoked")
	}

	if err := m.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	// Revoking again is not an error
	if err := m.Revoke(ctx, "jti-1", time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}

	revoked, err = m.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatal(err)
	}
	if !revoked {
		t.Error("token should be revoked")
	}

	n, _ := m.Count(ctx)
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestManager_PurgeExpired(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	now := time.Now()

	_ = m.Revoke(ctx, "expired", now.Add(-time.Hour))
	_ = m.Revoke(ctx, "live", now.Add(time.Hour))

	deleted, err := m.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if revoked, _ := m.IsRevoked(ctx, "live"); !revoked {
		t.Error("live revocation should survive the purge")
	}
	if revoked, _ := m.IsRevoked(ctx, "expired"); revoked {
		t.Error("expired revocation should be purged")
	}
}

func TestManager_CloseRejectsWrites(t *testing.T) {
	m := newTestManager(t)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	err := m.Revoke(context.Background(), "jti", time.Now())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Revoke after Close = %v, want ErrClosed", err)
	}
}

func TestManager_WriteHonoursContext(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Revoke(ctx, "jti", time.Now())
	if err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = ""
	if _, err := NewManager(config, nil); err == nil {
		t.Error("NewManager should reject an invalid config")
	}
}
