package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Store.Backend != BackendMemory || cfg.NATS.MaxRetries != 3 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Postgres.MaxConnLifetime != time.Hour || !cfg.Postgres.Migrate {
		t.Fatalf("postgres defaults = %+v", cfg.Postgres)
	}
	if cfg.Qdrant.Collection != "van_damage" || cfg.Qdrant.Addr != "" {
		t.Fatalf("qdrant defaults = %+v", cfg.Qdrant)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9000"
store:
  backend: "Neo4j"
neo4j:
  url: "bolt://graph:7687"
redis:
  addr: "redis:6379"
  ttl: "24h"
`)
	t.Setenv("FLEET_HTTP_ADDR", ":9100")
	t.Setenv("NEO4J_PASSWORD", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Errorf("expected env to override addr, got %s", cfg.HTTP.Addr)
	}
	if cfg.Store.Backend != BackendNeo4j {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Neo4j.URL != "bolt://graph:7687" || cfg.Neo4j.Password != "secret" {
		t.Errorf("neo4j = %+v", cfg.Neo4j)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.TTL != 24*time.Hour || cfg.Redis.LockTTL != 30*time.Second {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown backend", "store:\n  backend: cassandra\n", "unknown store backend"},
		{"bad level", "log:\n  level: loud\n", "log level"},
		{"negative rate", "http:\n  rate_limit: -1\n", "rate_limit"},
		{"neo4j without redis", "store:\n  backend: neo4j\n", "requires redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "text"}.NewLogger(&buf).Info("hidden")
	LogConfig{Level: "warn", Format: "text"}.NewLogger(&buf).Warn("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Fatalf("text log = %q", out)
	}

	buf.Reset()
	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("d")
	if !strings.Contains(buf.String(), `"msg":"d"`) {
		t.Fatalf("json log = %q", buf.String())
	}
}

func TestUsage(t *testing.T) {
	if u := Usage(); !strings.Contains(u, "FLEET_STORE") {
		t.Fatalf("usage = %q", u)
	}
}
