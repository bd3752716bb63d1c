package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lkarlslund/kagi-proxy/pkg/config"
	"github.com/lkarlslund/kagi-proxy/pkg/logutil"
	"github.com/spf13/cobra"
)

var (
	configServerPath string
	configForce      bool
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the server config",
	}
	configCmd.PersistentFlags().StringVar(&configServerPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with defaults, asking for the session key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, configServerPath, configForce)
		},
	}
	initCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with the session key redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(configServerPath, os.Getenv)
			if err != nil {
				return fmt.Errorf("load server config: %w", err)
			}
			shown := *cfg
			shown.SessionKey = logutil.Redact(cfg.SessionKey)
			b, err := config.Marshal(&shown)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	cfg := config.NewDefaultServerConfig()
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "kagi-proxy config: %s\n", path)
	fmt.Fprintln(out, "Press Enter to keep the default. Leave the session key empty to use "+config.EnvSessionKey+".")

	key, err := promptLine(reader, out, "Kagi session key (kagi_session cookie) [not set]: ")
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	cfg.SessionKey = strings.TrimSpace(key)

	listen, err := promptLine(reader, out, fmt.Sprintf("Listen address [%s]: ", cfg.ListenAddr))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if listen = strings.TrimSpace(listen); listen != "" {
		cfg.ListenAddr = listen
	}

	model, err := promptLine(reader, out, fmt.Sprintf("Default model [%s]: ", cfg.DefaultModel))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if model = strings.TrimSpace(model); model != "" {
		cfg.DefaultModel = model
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save server config: %w", err)
	}
	fmt.Fprintln(out, "Saved.")
	return nil
}

func promptLine(reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		if len(line) == 0 {
			return "", err
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}
