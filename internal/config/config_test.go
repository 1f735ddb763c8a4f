package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "huntrelay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadFileExpandsVariablesWithDefault(t *testing.T) {
	t.Setenv("HUNTRELAY_ROOT", "")
	path := writeConfig(t, t.TempDir(), "environment: development\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.Path != "./huntrelay.db" {
		t.Fatalf("expected default expansion, got %q", cfg.Database.Path)
	}
}

func TestLoadFileExpandsVariableFromEnvironment(t *testing.T) {
	t.Setenv("HUNTRELAY_ROOT", "/var/lib/huntrelay")
	path := writeConfig(t, t.TempDir(), "environment: development\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.Path != "/var/lib/huntrelay/huntrelay.db" {
		t.Fatalf("expected env-sourced expansion, got %q", cfg.Database.Path)
	}
}

func TestProductionDefaultsToStrictHostKeyPolicy(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "environment: production\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SSH.HostKeyPolicy != "strict" {
		t.Fatalf("expected production default of strict host key policy, got %q", cfg.SSH.HostKeyPolicy)
	}
}

func TestProductionOverrideCanKeepTOFU(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "environment: production\nproduction:\n  ssh:\n    host_key_policy: tofu\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SSH.HostKeyPolicy != "tofu" {
		t.Fatalf("expected explicit override to win, got %q", cfg.SSH.HostKeyPolicy)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("HUNTRELAY_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without HUNTRELAY_CONFIG set")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected a zero-value config to fail validation")
	}
	msg := err.Error()
	for _, want := range []string{"invalid environment", "database.path is required", "gateway.listen_address is required", "host_key_policy", "signing_key_env_var"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected Validate error to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected Default() to validate cleanly: %v", err)
	}
}
