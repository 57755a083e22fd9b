package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/database"
)

var (
	recomputeServer string
	recomputeMember string
	recomputeAll    bool
	recomputeJSON   bool
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute cached permissions",
	Long: `Recompute one member (--server and --member), every member of one
server (--server) or every server (--all, the repair sweep; it takes the
Redis sweep lock when Redis is configured).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if recomputeAll == (recomputeServer != "") {
			return errors.New("pass exactly one of --server or --all")
		}
		if recomputeMember != "" && recomputeServer == "" {
			return errors.New("--member needs --server")
		}

		ctx := cmd.Context()
		cfg, infra, err := openInfra(ctx)
		if err != nil {
			return err
		}
		defer infra.Close()

		repos := database.NewRepositories(infra.Store)
		ctrl := cascade.NewController(repos, infra.Dispatcher, cascade.Config{BatchSize: cfg.Cascade.BatchSize})

		var res *cascade.Result
		switch {
		case recomputeAll:
			report, err := cascade.NewSweeper(ctrl, repos.Servers, infra.Locker(), cfg.Cascade.LockTTL).Sweep(ctx)
			if err != nil {
				return err
			}
			if report.Skipped {
				return errors.New("a repair sweep is already running")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "servers: %d, failed: %d\n", report.Servers, report.Failed)
			res = &report.Result
		case recomputeMember != "":
			res, err = ctrl.RecomputeForMember(ctx, recomputeServer, recomputeMember)
		default:
			res, err = ctrl.RecomputeAll(ctx, recomputeServer)
		}
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res, recomputeJSON)
	},
}

func printResult(out io.Writer, res *cascade.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "run %s: considered %d, updated %d, unchanged %d, missing %d, batches %d (%s)\n",
		res.RunID, res.Considered, res.Updated, res.Unchanged, res.Missing, res.Batches, res.Duration)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if !res.OK() {
		return fmt.Errorf("%d warnings", len(res.Warnings))
	}
	return nil
}

func init() { //nolint: gochecknoinits
	recomputeCmd.Flags().StringVar(&recomputeServer, "server", "", "server id")
	recomputeCmd.Flags().StringVar(&recomputeMember, "member", "", "member uid (needs --server)")
	recomputeCmd.Flags().BoolVar(&recomputeAll, "all", false, "recompute every server")
	recomputeCmd.Flags().BoolVar(&recomputeJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(recomputeCmd)
}
