package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/lkarlslund/kagi-proxy/pkg/catalog"
	"github.com/lkarlslund/kagi-proxy/pkg/config"
	"github.com/lkarlslund/kagi-proxy/pkg/kagi"
	"github.com/spf13/cobra"
)

var (
	modelsConfigPath string
	modelsEnvFile    string
	modelsSource     string
	modelsAll        bool
)

func init() {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Fetch the upstream model list and print the id mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(cmd, modelsConfigPath, modelsEnvFile)
			if err != nil {
				return err
			}
			source := kagi.ProfileSource(cfg.Models.Source)
			if cmd.Flags().Changed("source") {
				source = kagi.ProfileSource(modelsSource)
			}
			b := newBackend(cfg, nil)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			profiles, err := b.client.Profiles(ctx, source)
			if err != nil {
				return fmt.Errorf("fetch models: %w", err)
			}
			return printProfiles(cmd, profiles, modelsAll)
		},
	}
	modelsCmd.Flags().StringVar(&modelsConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	modelsCmd.Flags().StringVar(&modelsEnvFile, "env-file", ".env", "Environment file loaded before the config")
	modelsCmd.Flags().StringVar(&modelsSource, "source", config.SourcePage, "Model list source (page, profile_list)")
	modelsCmd.Flags().BoolVar(&modelsAll, "all", false, "Include profiles the account cannot use")
	rootCmd.AddCommand(modelsCmd)
}

func printProfiles(cmd *cobra.Command, profiles []kagi.Profile, all bool) error {
	type row struct {
		id, upstream, name string
		accessible         bool
	}
	rows := make([]row, 0, len(profiles))
	for _, p := range profiles {
		if !p.Accessible && !all {
			continue
		}
		usable := p
		usable.Accessible = true
		id, ok := catalog.ModelID(usable)
		if !ok {
			continue
		}
		rows = append(rows, row{id: id, upstream: p.Model, name: p.ModelName, accessible: p.Accessible})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tUPSTREAM\tNAME\tACCESSIBLE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", r.id, r.upstream, r.name, r.accessible)
	}
	return tw.Flush()
}
