package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/presence"
)

var presenceCmd = &cobra.Command{
	Use:   "presence UID",
	Short: "Classify a user's presence and show the signals behind it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, infra, err := openInfra(ctx)
		if err != nil {
			return err
		}
		defer infra.Close()

		repos := database.NewRepositories(infra.Store)
		sources := []presence.Source{presence.NewProfileSource(repos.Profiles)}
		if infra.Redis != nil {
			sources = append(sources, presence.NewGatewaySource(infra.Redis))
		}
		svc := presence.NewService(presence.NewClassifier(cfg.Presence.Classifier()), infra.Redis, sources...)

		uid := args[0]
		signals := svc.Signals(ctx, uid)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s\n", uid, svc.Classifier().Classify(signals))
		for _, s := range signals {
			fmt.Fprintf(out, "  %-8s %s\n", s.Source, describe(s))
		}
		return nil
	},
}

func describe(s presence.Signal) string {
	var out string
	add := func(k, v string) {
		if out != "" {
			out += " "
		}
		out += k + "=" + v
	}
	if s.Online != nil {
		add("online", fmt.Sprint(*s.Online))
	}
	if s.Away != nil {
		add("away", fmt.Sprint(*s.Away))
	}
	if s.Status != nil {
		add("status", *s.Status)
	}
	if s.ManualState != nil {
		add("override", *s.ManualState)
	}
	if s.ManualExpiry != nil {
		add("until", s.ManualExpiry.Format(time.RFC3339))
	}
	stamps := []struct {
		name string
		at   *time.Time
	}{{"lastActive", s.LastActive}, {"lastSeen", s.LastSeen}, {"updatedAt", s.UpdatedAt}}
	for _, ts := range stamps {
		if ts.at != nil {
			add(ts.name, ts.at.Format(time.RFC3339))
		}
	}
	if out == "" {
		return "(no data)"
	}
	return out
}

func init() { //nolint: gochecknoinits
	rootCmd.AddCommand(presenceCmd)
}
