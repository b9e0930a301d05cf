package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseSubstitutesEnv(t *testing.T) {
	t.Setenv("LB_TEST_KEY", "sk-123")
	cfg, err := Parse([]byte(`{
		"providers": [{"id": "oa", "type": "openai", "api_key": "${LB_TEST_KEY}", "endpoint": "${LB_TEST_UNSET:http://localhost:1234}"}],
		"bindings": {"classify": "oa"},
		"fallbacks": {"compose": ["oa"]}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := cfg.Providers[0]
	if p.APIKey != "sk-123" {
		t.Errorf("api_key = %q", p.APIKey)
	}
	if p.Endpoint != "http://localhost:1234" {
		t.Errorf("endpoint = %q", p.Endpoint)
	}
	if p.Name != "oa" {
		t.Errorf("name default = %q", p.Name)
	}
	if cfg.Bindings["classify"] != "oa" || len(cfg.Fallbacks["compose"]) != 1 {
		t.Errorf("bindings %v fallbacks %v", cfg.Bindings, cfg.Fallbacks)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"executor": {"reason_retries": 5}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Executor.ReasonRetries != 5 {
		t.Errorf("explicit value overwritten: %d", cfg.Executor.ReasonRetries)
	}
	if cfg.Executor.ReasonTimeout() != 20*time.Second || cfg.Executor.DispatchTimeout() != 2*time.Minute {
		t.Errorf("executor timeouts %v %v", cfg.Executor.ReasonTimeout(), cfg.Executor.DispatchTimeout())
	}
	if cfg.Session.Store != "memory" || cfg.Session.ImageCacheSize != 64 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Database.Qdrant.Port != 6334 {
		t.Errorf("qdrant port = %d", cfg.Database.Qdrant.Port)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Providers) == 0 {
		t.Error("expected at least one provider")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	os.Unsetenv("CONFIG_PATH")
	if Path() != DefaultPath {
		t.Errorf("path = %q", Path())
	}
	t.Setenv("CONFIG_PATH", "/etc/lb.json")
	if Path() != "/etc/lb.json" {
		t.Errorf("path = %q", Path())
	}
}
