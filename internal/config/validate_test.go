package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/braid/internal/usage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "braid.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "version: \"1\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %q, want :8080", cfg.Listen)
	}
	if cfg.DataDir != "data" {
		t.Errorf("data_dir = %q, want data", cfg.DataDir)
	}
	if cfg.Telemetry.ServiceName != "braid" {
		t.Errorf("service name = %q, want braid", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1"
listen: "127.0.0.1:9000"
data_dir: /var/lib/braid
default_provider: provider.openai
modules:
  store.sqlite:
    path: /var/lib/braid/braid.db
  provider.openai:
    base_url: https://api.openai.com/v1
    api_key: secret
    model: gpt-4o
context:
  system_pct: 0.10
  query_pct: 0.12
  response_pct: 0.28
  history_pct: 0.50
limits:
  enabled: true
  hourly: 10000
stream:
  retention: 30s
  timeout: 5m
maintenance:
  branch_cleanup_schedule: "@hourly"
  branch_max_age: 720h
  branch_limit: 10
  keep_active: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if len(cfg.Modules) != 2 {
		t.Errorf("modules = %d, want 2", len(cfg.Modules))
	}
	if cfg.Context.ResponsePct != 0.28 {
		t.Errorf("response pct = %v", cfg.Context.ResponsePct)
	}
	if !cfg.Limits.Enabled || cfg.Limits.Hourly != 10000 {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if cfg.Stream.Timeout != 5*time.Minute {
		t.Errorf("stream timeout = %v", cfg.Stream.Timeout)
	}
	if cfg.Maintenance.BranchMaxAge != 720*time.Hour {
		t.Errorf("branch max age = %v", cfg.Maintenance.BranchMaxAge)
	}

	ids := Resolve(cfg)
	if len(ids) != 2 || ids[0] != "provider.openai" || ids[1] != "store.sqlite" {
		t.Errorf("Resolve = %v, want sorted IDs", ids)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("BRAID_TEST_KEY", "from-env")

	out, err := expandEnv([]byte("key: ${BRAID_TEST_KEY}\nother: ${MISSING_VAR:-fallback}\n"))
	if err != nil {
		t.Fatalf("expandEnv: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "from-env") {
		t.Errorf("env var not expanded: %s", s)
	}
	if !strings.Contains(s, "fallback") {
		t.Errorf("default not applied: %s", s)
	}

	if _, err := expandEnv([]byte("key: ${DEFINITELY_NOT_SET_ANYWHERE}\n")); err == nil {
		t.Error("unresolved variable accepted")
	}
}

func TestValidate(t *testing.T) {
	good := &Config{Version: "1", Listen: ":8080"}
	if err := Validate(good); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing version", Config{}},
		{"bad version", Config{Version: "2"}},
		{"bad listen", Config{Version: "1", Listen: "no-port"}},
		{"negative limit", Config{Version: "1", Limits: usage.Limits{Hourly: -1}}},
		{"negative retention", Config{Version: "1", Stream: StreamConfig{Retention: -time.Second}}},
		{"default provider not a provider", Config{Version: "1", DefaultProvider: "store.sqlite"}},
	}
	for _, tc := range cases {
		if err := Validate(&tc.cfg); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
