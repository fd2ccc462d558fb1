package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netopsworks/upgradeagent/internal/config"
	"github.com/netopsworks/upgradeagent/pkg/precheck"
)

func newPrechecksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prechecks [device]",
		Short: "List precheck snapshot devices, or the snapshots of one device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			store, err := precheck.NewStore(cfg.PrecheckDir)
			if err != nil {
				return err
			}
			var names []string
			if len(args) == 1 {
				names, err = store.ListFiles(args[0])
			} else {
				names, err = store.ListDevices()
			}
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	return cmd
}
