package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	l.Info("presence changed", slog.String("user_id", "D1"), slog.Int("online_doctors", 2))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}
	if entry["msg"] != "presence changed" {
		t.Errorf("msg = %q, want %q", entry["msg"], "presence changed")
	}
	if entry["user_id"] != "D1" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "D1")
	}
	if entry["service"] != "medrelay" {
		t.Errorf("service = %q, want %q", entry["service"], "medrelay")
	}
	if entry["online_doctors"] != float64(2) {
		t.Errorf("online_doctors = %v, want 2", entry["online_doctors"])
	}
}

func TestSetup_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "warn")

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}

	l.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn should be written at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	SetupDefault(&buf, "info")
	slog.Info("global")

	if buf.Len() == 0 {
		t.Fatal("expected default logger to write to the buffer")
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != slog.Default() {
		t.Error("OrDefault(nil) should return the slog default")
	}
	l := Discard()
	if OrDefault(l) != l {
		t.Error("OrDefault should pass through a non-nil logger")
	}
}
