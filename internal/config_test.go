package internal

import (
	"log/slog"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Port)
	}
	if !cfg.ForceOverwrite {
		t.Error("overwrite should default on")
	}
}

func TestConfig_InvalidPort(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("port 70000 should fail validation")
	}
}

func TestConfig_InvalidConcurrency(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Concurrency = -2
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative concurrency should fail validation")
	}
}

func TestConfig_ApplyJekyll(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Inputs = []string{"docs"}
	cfg.ApplyJekyll()

	if len(cfg.Inputs) != 1 || cfg.Inputs[0] != "." {
		t.Errorf("inputs = %v, want [.]", cfg.Inputs)
	}
	if cfg.OutputDir != "_site" {
		t.Errorf("output dir = %q, want _site", cfg.OutputDir)
	}
	if !cfg.Recursive {
		t.Error("jekyll mode should force recursive")
	}
}

func TestConfig_ResolvedOutputPrecedence(t *testing.T) {
	cfg := &Config{Output: "out.html", OutputDir: "site"}
	if got := cfg.ResolvedOutput(); got != "site" {
		t.Errorf("resolved output = %q, want site", got)
	}
	cfg.OutputDir = ""
	if got := cfg.ResolvedOutput(); got != "out.html" {
		t.Errorf("resolved output = %q, want out.html", got)
	}
}

func TestConfig_LogLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("level = %v, want info", cfg.LogLevel())
	}
	cfg.Verbose = true
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", cfg.LogLevel())
	}
}
