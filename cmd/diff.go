package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/netopsworks/upgradeagent/internal/config"
	"github.com/netopsworks/upgradeagent/pkg/precheck"
)

func newDiffCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "diff <file1> <file2>",
		Short: "Render a side-by-side HTML diff of two precheck snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			store, err := precheck.NewStore(cfg.PrecheckDir)
			if err != nil {
				return err
			}
			html, err := precheck.Diff(store, args[0], args[1])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = os.Stdout.Write(html)
				return err
			}
			if err := os.WriteFile(output, html, 0o644); err != nil {
				return errors.Wrap(err, "write diff output")
			}
			log.Info().Str("output", output).Msg("diff written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the HTML report to a file instead of stdout")
	return cmd
}
