package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/victorivanov/rolesync/internal/app"
	"github.com/victorivanov/rolesync/internal/config"
)

// Set via -ldflags at build time.
var version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "rolesync-cli",
	Short: "Operator tooling for rolesync",
	Long: `rolesync-cli runs migrations, forces permission recomputes, inspects
presence and mints access tokens against a rolesync deployment.

Settings come from the same config file and ROLESYNC_* environment
variables the server reads.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rolesync-cli %s\n", version)
	},
}

func init() { //nolint: gochecknoinits
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
	rootCmd.AddCommand(versionCmd)
}

func readConfig() (*config.Config, error) {
	return config.Read(configPath)
}

// openInfra connects the configured store, Redis and NATS.
func openInfra(ctx context.Context) (*config.Config, *app.Infra, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, nil, err
	}
	infra, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, infra, nil
}
