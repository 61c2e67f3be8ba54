package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards the log buffer shared with the running application
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MEDRELAY_CONFIG_FILE", "")
	t.Setenv("MEDRELAY_AUTH_SECRET", "test-secret")
	t.Setenv("MEDRELAY_HTTP_HOST", "127.0.0.1")
	t.Setenv("MEDRELAY_HTTP_PORT", "0")
	t.Setenv("MEDRELAY_DATABASE_PATH", filepath.Join(t.TempDir(), "medrelay.db"))
}

// FUNCTIONAL VALIDATION TEST: Startup refuses to run without a signing secret
func TestRun_RequiresSecret(t *testing.T) {
	setTestEnv(t)
	t.Setenv("MEDRELAY_AUTH_SECRET", "")

	err := run(context.Background(), nil, &syncBuffer{})
	if err == nil || !strings.Contains(err.Error(), "configuration") {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	setTestEnv(t)

	err := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "nope.json")}, &syncBuffer{})
	if err == nil {
		t.Error("Expected error for unreadable config file")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	setTestEnv(t)

	if err := run(context.Background(), []string{"-bogus"}, &syncBuffer{}); err == nil {
		t.Error("Expected error for unknown flag")
	}
}

// TECHNICAL VALIDATION TEST: Cancellation triggers graceful shutdown
func TestRun_StartsAndStops(t *testing.T) {
	setTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- run(ctx, nil, out) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "medrelay started") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("Application did not start: %s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	if !strings.Contains(out.String(), "medrelay shutdown complete") {
		t.Error("Expected shutdown to be logged")
	}
}
