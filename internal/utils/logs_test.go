package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterLogsManagerFields(t *testing.T) {
	var buf bytes.Buffer
	lm := NewWriterLogsManager(&buf, "info")

	lm.Debug("hidden", "paywall")
	lm.Info("invoice created", "paywall")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line at info level, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON line: %v", err)
	}
	if entry["category"] != "paywall" || entry["msg"] != "invoice created" {
		t.Errorf("Unexpected entry %v", entry)
	}
	if file, _ := entry["file"].(string); !strings.HasPrefix(file, "logs_test.go:") {
		t.Errorf("Expected caller file logs_test.go, got %q", file)
	}

	if err := lm.SetLogLevel("debug"); err != nil {
		t.Fatalf("SetLogLevel failed: %v", err)
	}
	lm.Debug("now visible", "paywall")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("Expected debug line after level change")
	}
	if err := lm.SetLogLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestRotatingFileRotatesBySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arcade.log")
	rf, err := openRotatingFile(path, rotationPolicy{enabled: true, maxBytes: 10, maxBackups: 2})
	if err != nil {
		t.Fatalf("openRotatingFile failed: %v", err)
	}
	defer rf.Close()

	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rf.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for i := 0; i < 4; i++ {
		if _, err := rf.Write([]byte("12345678\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	backups, _ := filepath.Glob(path + ".*.bak")
	if len(backups) != 2 {
		t.Errorf("Expected 2 backups kept, got %d", len(backups))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "12345678\n" {
		t.Errorf("Expected only the latest line in the active file, got %q", data)
	}
}

func TestRotatingFileDailyDue(t *testing.T) {
	rf := &rotatingFile{
		policy:   rotationPolicy{enabled: true, interval: "daily"},
		openedAt: time.Date(2026, 3, 10, 23, 59, 0, 0, time.Local),
	}

	rf.now = func() time.Time { return time.Date(2026, 3, 10, 23, 59, 30, 0, time.Local) }
	if rf.due(1) {
		t.Error("Expected no rotation within the same day")
	}
	rf.now = func() time.Time { return time.Date(2026, 3, 11, 0, 0, 1, 0, time.Local) }
	if !rf.due(1) {
		t.Error("Expected rotation after midnight")
	}
}

func TestRotatingFileWritesAfterCloseAreDropped(t *testing.T) {
	rf, err := openRotatingFile(filepath.Join(t.TempDir(), "a.log"), rotationPolicy{})
	if err != nil {
		t.Fatalf("openRotatingFile failed: %v", err)
	}
	rf.Close()
	if n, err := rf.Write([]byte("late")); err != nil || n != 4 {
		t.Errorf("Expected silent drop after close, got n=%d err=%v", n, err)
	}
}
