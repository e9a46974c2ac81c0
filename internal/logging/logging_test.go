package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestNewStdoutLogger(t *testing.T) {
	logger, closeFn, err := New("stdout", "debug")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeFn()

	if logger.Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, _, err := New("stdout", "verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWritesToFile(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.log")

	logger, closeFn, err := New("file:"+path, "info")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", "client", "abc")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(string(data), "client=abc") {
		t.Errorf("log file missing expected content: %s", data)
	}
}
