package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestApplyRejectsInvalidLevel(t *testing.T) {
	t.Parallel()

	c := &Config{Level: "verbose"}
	if _, err := c.Apply(); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestApplyRejectsInvalidFormat(t *testing.T) {
	t.Parallel()

	c := &Config{Format: "xml"}
	if _, err := c.Apply(); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestApplyWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.log")
	c := &Config{Level: "info", Format: "text", FilePath: path}

	closer, err := c.Apply()
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	defer closer.Close()

	slog.Info("hello")

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected log file at %s: %v", path, err)
	}
}
