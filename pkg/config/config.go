package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName = "kagi-proxy.toml"
	appDirName            = "kagi-proxy"

	EnvSessionKey = "KAGI_SESSION_KEY"
	EnvPort       = "PORT"

	SourcePage        = "page"
	SourceProfileList = "profile_list"

	TLSModeLetsEncrypt = "letsencrypt"
	TLSModePEM         = "pem"
)

type UpstreamConfig struct {
	BaseURL                      string `toml:"base_url"`
	DialTimeoutSeconds           int    `toml:"dial_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int    `toml:"response_header_timeout_seconds"`
	CleanupTimeoutSeconds        int    `toml:"cleanup_timeout_seconds"`
}

type ModelsConfig struct {
	Source          string `toml:"source"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	CachePath       string `toml:"cache_path"`
}

type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`
	Domain     string `toml:"domain"`
	Email      string `toml:"email"`
	CacheDir   string `toml:"cache_dir"`
	CertPEM    string `toml:"cert_pem,omitempty"`
	KeyPEM     string `toml:"key_pem,omitempty"`
}

type ServerConfig struct {
	ListenAddr   string         `toml:"listen_addr"`
	SessionKey   string         `toml:"session_key,omitempty"`
	DefaultModel string         `toml:"default_model"`
	LogLevel     string         `toml:"log_level"`
	Upstream     UpstreamConfig `toml:"upstream"`
	Models       ModelsConfig   `toml:"models"`
	TLS          TLSConfig      `toml:"tls"`
}

type ClientConfig struct {
	ServerURL string `toml:"server_url"`
	Model     string `toml:"model,omitempty"`
}

func DefaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", appDirName, defaultConfigFileName)
}

func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kagi-chat.toml"
	}
	return filepath.Join(home, ".config", appDirName, "kagi-chat.toml")
}

func DefaultModelsCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models-cache.json"
	}
	return filepath.Join(home, ".cache", appDirName, "models-cache.json")
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", appDirName, "tls-autocert")
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:   "0.0.0.0:5000",
		DefaultModel: "openai/gpt-5-mini",
		LogLevel:     "info",
		Upstream: UpstreamConfig{
			BaseURL:                      "https://kagi.com",
			DialTimeoutSeconds:           15,
			ResponseHeaderTimeoutSeconds: 60,
			CleanupTimeoutSeconds:        15,
		},
		Models: ModelsConfig{
			Source:          SourcePage,
			CacheTTLMinutes: 360,
			CachePath:       DefaultModelsCachePath(),
		},
		TLS: TLSConfig{
			Enabled:    false,
			Mode:       TLSModeLetsEncrypt,
			ListenAddr: ":443",
			CacheDir:   DefaultTLSCacheDir(),
		},
	}
}

func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL: "http://127.0.0.1:5000/v1",
	}
}

// LoadDotEnv reads KEY=value pairs from path into the process environment.
// Variables that are already set win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LoadServerConfig reads path, applies environment overrides from getenv and
// validates the result. A missing file yields the defaults.
func LoadServerConfig(path string, getenv func(string) string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	}
	if getenv != nil {
		if err := cfg.ApplyEnv(getenv); err != nil {
			return nil, err
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := NewDefaultClientConfig()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the session key and listen port from the environment.
func (c *ServerConfig) ApplyEnv(getenv func(string) string) error {
	if key := strings.TrimSpace(getenv(EnvSessionKey)); key != "" {
		c.SessionKey = key
	}
	if port := strings.TrimSpace(getenv(EnvPort)); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid %s %q", EnvPort, port)
		}
		host := "0.0.0.0"
		if h, _, err := net.SplitHostPort(c.ListenAddr); err == nil {
			host = h
		}
		c.ListenAddr = net.JoinHostPort(host, port)
	}
	return nil
}

func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(path, v)
}

func writeAtomic(path string, v any) error {
	b, err := marshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func Marshal(v any) ([]byte, error) {
	return marshalTOML(v)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetArraysMultiline(true)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	enc.SetTablesInline(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func (c *ServerConfig) Normalize() {
	def := NewDefaultServerConfig()
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	c.SessionKey = strings.TrimSpace(c.SessionKey)
	c.DefaultModel = strings.TrimSpace(c.DefaultModel)
	if c.DefaultModel == "" {
		c.DefaultModel = def.DefaultModel
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	c.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(c.Upstream.BaseURL), "/")
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = def.Upstream.BaseURL
	}
	if c.Upstream.DialTimeoutSeconds <= 0 {
		c.Upstream.DialTimeoutSeconds = def.Upstream.DialTimeoutSeconds
	}
	if c.Upstream.ResponseHeaderTimeoutSeconds <= 0 {
		c.Upstream.ResponseHeaderTimeoutSeconds = def.Upstream.ResponseHeaderTimeoutSeconds
	}
	if c.Upstream.CleanupTimeoutSeconds <= 0 {
		c.Upstream.CleanupTimeoutSeconds = def.Upstream.CleanupTimeoutSeconds
	}

	c.Models.Source = strings.ToLower(strings.TrimSpace(c.Models.Source))
	if c.Models.Source == "" {
		c.Models.Source = def.Models.Source
	}
	if c.Models.CacheTTLMinutes <= 0 {
		c.Models.CacheTTLMinutes = def.Models.CacheTTLMinutes
	}
	c.Models.CachePath = strings.TrimSpace(c.Models.CachePath)

	c.TLS.Mode = strings.ToLower(strings.TrimSpace(c.TLS.Mode))
	if c.TLS.Mode == "" {
		c.TLS.Mode = TLSModeLetsEncrypt
	}
	c.TLS.ListenAddr = strings.TrimSpace(c.TLS.ListenAddr)
	if c.TLS.ListenAddr == "" {
		c.TLS.ListenAddr = def.TLS.ListenAddr
	}
	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = def.TLS.CacheDir
	}
	c.TLS.CertPEM = strings.TrimSpace(c.TLS.CertPEM)
	c.TLS.KeyPEM = strings.TrimSpace(c.TLS.KeyPEM)
}

func (c *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q: %w", c.ListenAddr, err)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of trace, debug, info, warn, error (got %q)", c.LogLevel)
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q must be an absolute http(s) url", c.Upstream.BaseURL)
	}
	if c.Models.Source != SourcePage && c.Models.Source != SourceProfileList {
		return fmt.Errorf("models.source must be %q or %q", SourcePage, SourceProfileList)
	}
	if c.TLS.Enabled {
		switch c.TLS.Mode {
		case TLSModeLetsEncrypt:
			if c.TLS.Domain == "" {
				return errors.New("tls.domain is required when tls.enabled=true and tls.mode=letsencrypt")
			}
		case TLSModePEM:
			if c.TLS.CertPEM == "" || c.TLS.KeyPEM == "" {
				return errors.New("tls.cert_pem and tls.key_pem are required when tls.enabled=true and tls.mode=pem")
			}
		default:
			return errors.New("tls.mode must be one of letsencrypt, pem")
		}
	}
	return nil
}

func (c *ServerConfig) DialTimeout() time.Duration {
	return time.Duration(c.Upstream.DialTimeoutSeconds) * time.Second
}

func (c *ServerConfig) ResponseHeaderTimeout() time.Duration {
	return time.Duration(c.Upstream.ResponseHeaderTimeoutSeconds) * time.Second
}

func (c *ServerConfig) CleanupTimeout() time.Duration {
	return time.Duration(c.Upstream.CleanupTimeoutSeconds) * time.Second
}

func (c *ServerConfig) CacheTTL() time.Duration {
	return time.Duration(c.Models.CacheTTLMinutes) * time.Minute
}

func (c *ClientConfig) Normalize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	c.Model = strings.TrimSpace(c.Model)
	if c.ServerURL == "" {
		c.ServerURL = NewDefaultClientConfig().ServerURL
	}
}

func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server_url cannot be empty")
	}
	return nil
}
