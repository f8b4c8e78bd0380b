package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 3001 {
		t.Errorf("Port = %d, want 3001", cfg.Server.Port)
	}
	if cfg.Observer.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.Observer.ConfidenceThreshold)
	}
	if cfg.Observer.FlowStateThreshold != 10 {
		t.Errorf("FlowStateThreshold = %d, want 10", cfg.Observer.FlowStateThreshold)
	}
	if cfg.Observer.BufferUpdateTriggerCount != 5 {
		t.Errorf("BufferUpdateTriggerCount = %d, want 5", cfg.Observer.BufferUpdateTriggerCount)
	}
}

func TestValidate(t *testing.T) {
	projectDir := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing project dir",
			mutate:  func(c *Config) { c.Server.ProjectDir = "" },
			wantErr: true,
		},
		{
			name:    "relative project dir",
			mutate:  func(c *Config) { c.Server.ProjectDir = "relative/path" },
			wantErr: true,
		},
		{
			name:    "nonexistent project dir",
			mutate:  func(c *Config) { c.Server.ProjectDir = filepath.Join(projectDir, "missing") },
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Observer.ConfidenceThreshold = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.ProjectDir = projectDir
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("PORT", "4545")
	t.Setenv("PROJECT_DIR", projectDir)
	t.Setenv("DATA_DIR", filepath.Join(projectDir, "data"))
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4545 {
		t.Errorf("Port = %d, want 4545", cfg.Server.Port)
	}
	if cfg.Server.ProjectDir != projectDir {
		t.Errorf("ProjectDir = %q, want %q", cfg.Server.ProjectDir, projectDir)
	}
	if !cfg.ModelEnabled() {
		t.Error("ModelEnabled() = false, want true")
	}
}

func TestUnparseablePortRejected(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("PORT", "not-a-number")
	t.Setenv("PROJECT_DIR", projectDir)

	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted an unparseable PORT")
	}

	// An out-of-range numeric PORT is caught by validation.
	t.Setenv("PORT", "70000")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted PORT 70000")
	}
}

func TestLoadYAML(t *testing.T) {
	projectDir := t.TempDir()
	path := filepath.Join(projectDir, "paige.yaml")
	content := "server:\n  port: 8080\n  project_dir: " + projectDir + "\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}
