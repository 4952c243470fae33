package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/robogauge/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "run", "robogauge.log")
	logger, closeLog, err := logging.New(logging.Config{Level: "info", Console: &console, File: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.With("cell", "seed0").Info("cell finished", "duration", 1.5)
	logger.Debug("hidden")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "cell finished") || strings.Contains(console.String(), "hidden") {
		t.Errorf("console output: %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file record is not one JSON line: %v\n%s", err, data)
	}
	if rec["msg"] != "cell finished" || rec["cell"] != "seed0" {
		t.Errorf("file record: %v", rec)
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, _, err := logging.New(logging.Config{Level: "chatty"}); err == nil {
		t.Error("expected error")
	}
}
