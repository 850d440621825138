package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
db:
  host: db.internal
  port: 5432
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DB.Host != "db.internal" {
		t.Fatalf("expected db host from file, got %q", cfg.DB.Host)
	}
	if cfg.Server.Port != ":8085" {
		t.Fatalf("expected default server port, got %q", cfg.Server.Port)
	}
	if cfg.Scan.BatchSize != 10 {
		t.Fatalf("expected default batch size 10, got %d", cfg.Scan.BatchSize)
	}
	if cfg.Scan.Budget() != 50*time.Second {
		t.Fatalf("expected default budget 50s, got %v", cfg.Scan.Budget())
	}
	if cfg.Provider.PageSize != 50 {
		t.Fatalf("expected default page size 50, got %d", cfg.Provider.PageSize)
	}
	if cfg.MQ.Exchange != "events" {
		t.Fatalf("expected default exchange, got %q", cfg.MQ.Exchange)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
db:
  host: from-file
provider:
  base_url: http://from-file
`)

	t.Setenv("DB_HOST", "from-env")
	t.Setenv("PROVIDER_BASE_URL", "http://from-env")
	t.Setenv("PROVIDER_API_TOKEN", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DB.Host != "from-env" {
		t.Fatalf("env must win over file, got %q", cfg.DB.Host)
	}
	if cfg.Provider.BaseURL != "http://from-env" {
		t.Fatalf("env must win over file, got %q", cfg.Provider.BaseURL)
	}
	if cfg.Provider.APIToken != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.Provider.APIToken)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
