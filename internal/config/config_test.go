package config_test

import (
	"testing"

	"taskline/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Errorf("base path = %q", cfg.Server.BasePath)
	}
	if cfg.MaxDepth() != config.DefaultMaxDepth {
		t.Errorf("max depth = %d", cfg.MaxDepth())
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
server:
  addr: ":9999"
  jwt_secret: sekrit
  allow_legacy_actor_header: true
hierarchy:
  max_depth: 12
webhooks:
  - url: https://example.com/hook
    secret: s1
    events: [task.update, task.delete]
    timeout_seconds: 3
`)
	cfg, err := config.FromYAML(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Server.JWTSecret != "sekrit" || !cfg.Server.AllowLegacyActorHeader {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.MaxDepth() != 12 {
		t.Errorf("max depth = %d, want 12", cfg.MaxDepth())
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://example.com/hook" || len(cfg.Webhooks[0].Events) != 2 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
	// unset fields keep their defaults
	if cfg.Server.BasePath != "/v0" {
		t.Errorf("base path = %q, want default", cfg.Server.BasePath)
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	if _, err := config.FromYAML([]byte("webhooks:\n  - secret: only\n")); err == nil {
		t.Fatal("expected error for webhook without url")
	}
	if _, err := config.FromYAML([]byte("hierarchy:\n  max_depth: -1\n")); err == nil {
		t.Fatal("expected error for negative max_depth")
	}
	if _, err := config.FromYAML([]byte("server: [not a map]\n")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
