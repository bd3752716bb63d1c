package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lkarlslund/kagi-proxy/pkg/catalog"
	"github.com/lkarlslund/kagi-proxy/pkg/config"
	"github.com/lkarlslund/kagi-proxy/pkg/kagi"
	"github.com/lkarlslund/kagi-proxy/pkg/logutil"
	"github.com/lkarlslund/kagi-proxy/pkg/metrics"
	"github.com/lkarlslund/kagi-proxy/pkg/proxy"
	"github.com/lkarlslund/kagi-proxy/pkg/session"
	"github.com/lkarlslund/kagi-proxy/pkg/version"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath         string
	serveEnvFile            string
	serveListenAddrOverride string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(cmd, serveConfigPath, serveEnvFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			b := newBackend(cfg, metrics.NewCollector(nil))
			if err := b.catalog.LoadCache(); err != nil {
				slog.Warn("ignoring unreadable models cache", "path", cfg.Models.CachePath, "error", err)
			}
			if b.store.Configured() {
				slog.Info("session key loaded", "key", logutil.Redact(cfg.SessionKey))
			} else {
				slog.Warn("no session key configured; chat requests will fail until " + config.EnvSessionKey + " or session_key is set")
			}

			srv, err := proxy.NewServer(cfg, proxy.Deps{
				Store:   b.store,
				Client:  b.client,
				Catalog: b.catalog,
				Metrics: b.metrics,
			})
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("starting", "version", version.String(), "upstream", cfg.Upstream.BaseURL, "default_model", cfg.DefaultModel)
			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Environment file loaded before the config")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:8080)")
	rootCmd.AddCommand(serveCmd)
}

// loadServerConfig reads the env file and the config, then applies the
// config log level unless --loglevel was given.
func loadServerConfig(cmd *cobra.Command, path, envFile string) (*config.ServerConfig, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadServerConfig(path, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if !cmd.Flags().Changed("loglevel") {
		if err := logutil.Configure(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

type backend struct {
	store   *session.Store
	client  *kagi.Client
	catalog *catalog.Catalog
	metrics *metrics.Collector
}

func newBackend(cfg *config.ServerConfig, m *metrics.Collector) backend {
	store := session.NewStoreWithToken(cfg.SessionKey)
	client := kagi.NewClient(store, kagi.Options{
		BaseURL: cfg.Upstream.BaseURL,
		HTTPClient: kagi.NewHTTPClient(cfg.Upstream.BaseURL, kagi.TransportOptions{
			DialTimeout:           cfg.DialTimeout(),
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout(),
		}),
		CleanupTimeout: cfg.CleanupTimeout(),
		Metrics:        m,
	})
	cat := catalog.New(client, catalog.Options{
		Source:       kagi.ProfileSource(cfg.Models.Source),
		TTL:          cfg.CacheTTL(),
		CachePath:    cfg.Models.CachePath,
		DefaultModel: cfg.DefaultModel,
		Metrics:      m,
	})
	return backend{store: store, client: client, catalog: cat, metrics: m}
}
