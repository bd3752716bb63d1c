package cmd

import (
	"fmt"
	"os"

	"github.com/lkarlslund/kagi-proxy/pkg/logutil"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "kagi-proxy",
	Short: "OpenAI-compatible proxy for the Kagi Assistant",
	Long:  "kagi-proxy exposes the Kagi Assistant as an OpenAI-compatible chat completion API, reusing one rotating browser session.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "", "Log level (trace, debug, info, warn, error); defaults to the config log_level")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: running as root")
		}
		return logutil.Configure(logLevel)
	}
}
