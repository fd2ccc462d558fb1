package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/netopsworks/upgradeagent/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "upgradeagent",
	Short: "Fleet firmware upgrade and maintenance engine",
	Long: `upgradeagent runs firmware upgrades, device refreshes and schedule
cancellations against a fleet of network switches, with a durable task
queue, bounded worker pool and per-device exclusion. Intake and dashboards
live in the HTTP layer; this CLI drives the engine directly.`,
}

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.AddCommand(
		newRunCmd(),
		newDiffCmd(),
		newPrechecksCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("upgradeagent command failed")
	}
}
