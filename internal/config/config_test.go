package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrel-run/kestrel/internal/config"
)

func TestLoad_DefaultsWhenConfigMissing(t *testing.T) {
	t.Setenv("KESTREL_HOME", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerCount != 16 {
		t.Errorf("WorkerCount = %d, want 16", cfg.WorkerCount)
	}
	if cfg.KeyRotation.CooldownSeconds != 60 {
		t.Errorf("CooldownSeconds = %d, want 60", cfg.KeyRotation.CooldownSeconds)
	}
	if cfg.Retrieval.ConfidenceThreshold != 0.8 {
		t.Errorf("ConfidenceThreshold = %v, want 0.8", cfg.Retrieval.ConfidenceThreshold)
	}
	if cfg.SSE.HeartbeatSeconds != 15 {
		t.Errorf("HeartbeatSeconds = %d, want 15", cfg.SSE.HeartbeatSeconds)
	}
}

func TestLoad_ReadsYAMLOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("KESTREL_HOME", home)

	yamlBody := `
bind_addr: "0.0.0.0:9000"
worker_count: 4
key_rotation:
  cooldown_seconds: 30
retrieval:
  stage1_top_k: 12
  confidence_threshold: 0.65
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" {
		t.Errorf("BindAddr = %q, want 0.0.0.0:9000", cfg.BindAddr)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", cfg.WorkerCount)
	}
	if cfg.KeyRotation.CooldownSeconds != 30 {
		t.Errorf("CooldownSeconds = %d, want 30", cfg.KeyRotation.CooldownSeconds)
	}
	if cfg.Retrieval.Stage1TopK != 12 {
		t.Errorf("Stage1TopK = %d, want 12", cfg.Retrieval.Stage1TopK)
	}
	// Unset fields still fall back to defaults.
	if cfg.Retrieval.Stage2TopK != 20 {
		t.Errorf("Stage2TopK = %d, want default 20", cfg.Retrieval.Stage2TopK)
	}
}

func TestLoad_EnvOverridesWinOverYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("KESTREL_HOME", home)
	t.Setenv("KESTREL_BIND_ADDR", "127.0.0.1:7000")

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("bind_addr: \"0.0.0.0:9000\"\n"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:7000" {
		t.Errorf("BindAddr = %q, want env override 127.0.0.1:7000", cfg.BindAddr)
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	a := config.Config{BindAddr: "a", WorkerCount: 1}
	b := config.Config{BindAddr: "b", WorkerCount: 1}
	if a.Fingerprint() == b.Fingerprint() {
		t.Errorf("expected distinct fingerprints for distinct configs")
	}
}
