package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRIDGEMEM_DB", "")
	t.Setenv("BRIDGEMEM_FILES", "")
	t.Setenv("BRIDGEMEM_HEARTBEAT", "")
	t.Setenv("BRIDGEMEM_CONFIG", filepath.Join(t.TempDir(), "missing-on-purpose.yml"))

	// config path is set but missing: that is an error, not a silent default
	if _, err := Load(); err == nil {
		t.Error("expected error for missing explicit config file")
	}

	t.Setenv("BRIDGEMEM_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "bridgemem.db" || cfg.FilesRoot != "memory" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.HeartbeatSchedule != "30 3 * * *" {
		t.Errorf("unexpected heartbeat schedule %q", cfg.HeartbeatSchedule)
	}
	if cfg.Engine != DefaultEngine() {
		t.Errorf("engine defaults not applied: %+v", cfg.Engine)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridgemem.yml")
	raw := "max_injection_tokens: 300\nconfidence_threshold: 0.7\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BRIDGEMEM_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxInjectionTokens != 300 {
		t.Errorf("overlay not applied: %d", cfg.Engine.MaxInjectionTokens)
	}
	if cfg.Engine.ConfidenceThreshold != 0.7 {
		t.Errorf("overlay not applied: %v", cfg.Engine.ConfidenceThreshold)
	}
	// untouched keys keep their defaults
	if cfg.Engine.FactsTopK != DefaultEngine().FactsTopK {
		t.Errorf("default clobbered: %d", cfg.Engine.FactsTopK)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridgemem.yml")
	if err := os.WriteFile(path, []byte("max_injection_tokens: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BRIDGEMEM_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}
