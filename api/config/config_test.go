package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"NODESHIP_PORT", "NODESHIP_DATABASE_URL", "NODESHIP_RELEASE_BRANCH", "NODESHIP_DEPLOY_ENABLED", "NODESHIP_TEST_MODE"} {
		os.Unsetenv(k)
	}

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Port != "8800" {
		t.Errorf("Port = %q, want 8800", cfg.Port)
	}
	if cfg.NodePort != 8555 {
		t.Errorf("NodePort = %d, want 8555", cfg.NodePort)
	}
	if cfg.ReleaseBranch != "master" {
		t.Errorf("ReleaseBranch = %q, want master", cfg.ReleaseBranch)
	}
	if cfg.TestMode != "ambient" {
		t.Errorf("TestMode = %q", cfg.TestMode)
	}
	if cfg.DeployTarget().Enabled {
		t.Error("deploy target should be disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NODESHIP_PORT", "9999")
	t.Setenv("NODESHIP_DATABASE_URL", "postgres://test:test@db:5432/test_db")
	t.Setenv("NODESHIP_RELEASE_BRANCH", "main")
	t.Setenv("NODESHIP_VERIFY_WORKERS", "8")
	t.Setenv("NODESHIP_DEPLOY_ENABLED", "true")
	t.Setenv("NODESHIP_DEPLOY_HOST", "node.example.com")
	t.Setenv("NODESHIP_DEPLOY_USER", "deploy")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://test:test@db:5432/test_db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.ReleaseBranch != "main" {
		t.Errorf("ReleaseBranch = %q", cfg.ReleaseBranch)
	}
	if cfg.VerifyWorkers != 8 {
		t.Errorf("VerifyWorkers = %d", cfg.VerifyWorkers)
	}

	tgt := cfg.DeployTarget()
	if !tgt.Enabled {
		t.Error("deploy target should be enabled")
	}
	if tgt.Addr() != "node.example.com:22" {
		t.Errorf("Addr = %q", tgt.Addr())
	}
}

func TestDeployTargetRequiresHost(t *testing.T) {
	t.Setenv("NODESHIP_DEPLOY_ENABLED", "true")
	t.Setenv("NODESHIP_DEPLOY_HOST", "")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DeployTarget().Enabled {
		t.Error("target without host must not be enabled")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodeship.yaml")
	body := "release_branch: release\nscript_ref: v1.2.0\nhealth_endpoints:\n  - https://node.example.com/\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ReleaseBranch != "release" {
		t.Errorf("ReleaseBranch = %q", cfg.ReleaseBranch)
	}
	if cfg.ScriptRef != "v1.2.0" {
		t.Errorf("ScriptRef = %q", cfg.ScriptRef)
	}
	if len(cfg.HealthEndpoints) != 1 {
		t.Errorf("HealthEndpoints = %v", cfg.HealthEndpoints)
	}
}

func TestLoadRejectsUnknownTestMode(t *testing.T) {
	t.Setenv("NODESHIP_TEST_MODE", "sometimes")
	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected error for unknown test mode")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestAccessSettings(t *testing.T) {
	t.Setenv("NODESHIP_ALLOWED_ORIGINS", "https://ops.example.com https://node.example.com")
	t.Setenv("NODESHIP_API_TOKEN", "t0ken")
	t.Setenv("NODESHIP_HEALTH_INTERVAL", "1m")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://node.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.APIToken != "t0ken" {
		t.Errorf("APIToken = %q", cfg.APIToken)
	}
	if cfg.HealthInterval.Minutes() != 1 {
		t.Errorf("HealthInterval = %v", cfg.HealthInterval)
	}
}
