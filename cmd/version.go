package cmd

import (
	"fmt"

	"github.com/lkarlslund/kagi-proxy/pkg/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print kagi-proxy version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("kagi-proxy"))
		},
	})
}
