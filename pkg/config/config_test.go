package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigFrom with missing file: %v", err)
	}

	if cfg.Tool != "kubectl" {
		t.Errorf("Tool = %q, want kubectl", cfg.Tool)
	}
	if cfg.ConfidenceThreshold != DefaultConfidenceThreshold {
		t.Errorf("ConfidenceThreshold = %d, want %d", cfg.ConfidenceThreshold, DefaultConfidenceThreshold)
	}
	if cfg.LLM.LocalEndpoint != DefaultLocalEndpoint {
		t.Errorf("LocalEndpoint = %q, want %q", cfg.LLM.LocalEndpoint, DefaultLocalEndpoint)
	}
	if cfg.LLM.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("TimeoutSeconds = %d, want %d", cfg.LLM.TimeoutSeconds, DefaultTimeoutSeconds)
	}
	if cfg.Storage.DBType != "sqlite" {
		t.Errorf("DBType = %q, want sqlite", cfg.Storage.DBType)
	}
	if cfg.Storage.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", cfg.Storage.RetentionDays, DefaultRetentionDays)
	}
	if cfg.Storage.OutputCapBytes != DefaultOutputCapBytes {
		t.Errorf("OutputCapBytes = %d, want %d", cfg.Storage.OutputCapBytes, DefaultOutputCapBytes)
	}
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  local_endpoint: http://10.0.0.5:11434
  timeout_seconds: 5
storage:
  retention_days: 14
confidence_threshold: 80
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}

	if cfg.LLM.LocalEndpoint != "http://10.0.0.5:11434" {
		t.Errorf("LocalEndpoint = %q, override not applied", cfg.LLM.LocalEndpoint)
	}
	if cfg.LLM.TimeoutSeconds != 5 {
		t.Errorf("TimeoutSeconds = %d, want 5", cfg.LLM.TimeoutSeconds)
	}
	if cfg.Storage.RetentionDays != 14 {
		t.Errorf("RetentionDays = %d, want 14", cfg.Storage.RetentionDays)
	}
	if cfg.ConfidenceThreshold != 80 {
		t.Errorf("ConfidenceThreshold = %d, want 80", cfg.ConfidenceThreshold)
	}
	// Unset fields keep defaults.
	if cfg.LLM.RemoteEndpoint != DefaultRemoteEndpoint {
		t.Errorf("RemoteEndpoint = %q, want default", cfg.LLM.RemoteEndpoint)
	}
	if cfg.Tool != "kubectl" {
		t.Errorf("Tool = %q, want kubectl", cfg.Tool)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm: [not a map"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfigFrom(path); err == nil {
		t.Error("expected error for malformed config, got nil")
	}
}
