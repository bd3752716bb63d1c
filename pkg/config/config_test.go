package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultServerConfigPath(t *testing.T) {
	if got := filepath.Base(DefaultServerConfigPath()); got != defaultConfigFileName {
		t.Fatalf("expected default config file %q, got %q", defaultConfigFileName, got)
	}
}

func TestLoadServerConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "none.toml"), nil)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:5000" || cfg.DefaultModel != "openai/gpt-5-mini" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CacheTTL() != 6*time.Hour {
		t.Fatalf("unexpected cache ttl: %v", cfg.CacheTTL())
	}
	if cfg.Models.Source != SourcePage {
		t.Fatalf("unexpected source: %q", cfg.Models.Source)
	}
}

func TestLoadServerConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kagi-proxy.toml")
	body := `
listen_addr = "127.0.0.1:8080"
session_key = "from-file"
log_level = "DEBUG"

[upstream]
base_url = "http://localhost:9999/"
cleanup_timeout_seconds = 3

[models]
source = "profile_list"
cache_ttl_minutes = 10
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadServerConfig(path, envMap(map[string]string{
		EnvSessionKey: "from-env",
		EnvPort:       "7000",
	}))
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.SessionKey != "from-env" {
		t.Fatalf("env session key must win, got %q", cfg.SessionKey)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("PORT must replace the port only, got %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if cfg.Upstream.BaseURL != "http://localhost:9999" {
		t.Fatalf("unexpected base url: %q", cfg.Upstream.BaseURL)
	}
	if cfg.CleanupTimeout() != 3*time.Second || cfg.DialTimeout() != 15*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.CleanupTimeout(), cfg.DialTimeout())
	}
	if cfg.Models.Source != SourceProfileList || cfg.CacheTTL() != 10*time.Minute {
		t.Fatalf("unexpected models config: %+v", cfg.Models)
	}
}

func TestLoadServerConfigRejectsBadPort(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "none.toml"), envMap(map[string]string{EnvPort: "http"}))
	if err == nil || !strings.Contains(err.Error(), "PORT") {
		t.Fatalf("expected PORT error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*ServerConfig){
		"bad listen":   func(c *ServerConfig) { c.ListenAddr = "nope" },
		"bad level":    func(c *ServerConfig) { c.LogLevel = "loud" },
		"bad base url": func(c *ServerConfig) { c.Upstream.BaseURL = "kagi.com" },
		"bad source":   func(c *ServerConfig) { c.Models.Source = "scrape" },
		"tls domain":   func(c *ServerConfig) { c.TLS.Enabled = true },
		"tls pem":      func(c *ServerConfig) { c.TLS.Enabled = true; c.TLS.Mode = TLSModePEM },
	}
	for name, mutate := range cases {
		cfg := NewDefaultServerConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := NewDefaultServerConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestSaveOmitsEmptySessionKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "kagi-proxy.toml")
	cfg := NewDefaultServerConfig()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if strings.Contains(s, "session_key") {
		t.Fatalf("empty session key must be omitted:\n%s", s)
	}
	if !strings.Contains(s, "[upstream]") || !strings.Contains(s, "[models]") {
		t.Fatalf("expected tables in saved config:\n%s", s)
	}
	var back ServerConfig
	if err := toml.Unmarshal(b, &back); err != nil {
		t.Fatalf("saved config does not parse: %v", err)
	}
	if back.Upstream.BaseURL != cfg.Upstream.BaseURL {
		t.Fatalf("unexpected base url after save: %q", back.Upstream.BaseURL)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("KAGI_PROXY_TEST_DOTENV=hello\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KAGI_PROXY_TEST_DOTENV", "")
	os.Unsetenv("KAGI_PROXY_TEST_DOTENV")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("KAGI_PROXY_TEST_DOTENV"); got != "hello" {
		t.Fatalf("unexpected env value: %q", got)
	}
}

func TestClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.ServerURL != "http://127.0.0.1:5000/v1" {
		t.Fatalf("unexpected server url: %q", cfg.ServerURL)
	}
}
