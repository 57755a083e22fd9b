package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down N|version]",
	Short: "Run document store migrations (postgres driver)",
	Long: `Apply the SQL migrations in the migrations/ directory to the database
named by store.postgres_url (ROLESYNC_STORE_POSTGRES_URL).`,
	Args:      cobra.RangeArgs(0, 2),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Store.PostgresURL == "" {
			return errors.New("store.postgres_url is not set")
		}

		out := cmd.OutOrStdout()
		m, err := migrate.New("file://"+migrationsDir, cfg.Store.PostgresURL)
		if err != nil {
			return fmt.Errorf("migration init failed: %w", err)
		}
		defer m.Close()

		action := "up"
		if len(args) > 0 {
			action = args[0]
		}
		switch action {
		case "up":
			err = m.Up()
		case "down":
			steps := 1
			if len(args) > 1 {
				if steps, err = strconv.Atoi(args[1]); err != nil || steps < 1 {
					return fmt.Errorf("invalid step count %q", args[1])
				}
			}
			err = m.Steps(-steps)
		case "version":
			v, dirty, verr := m.Version()
			if errors.Is(verr, migrate.ErrNilVersion) {
				fmt.Fprintln(out, "no migrations applied")
				return nil
			}
			if verr != nil {
				return verr
			}
			fmt.Fprintf(out, "version: %d, dirty: %v\n", v, dirty)
			return nil
		default:
			return fmt.Errorf("unknown migrate action %q", action)
		}

		if errors.Is(err, migrate.ErrNoChange) {
			v, _, _ := m.Version()
			fmt.Fprintf(out, "no new migrations (current version: %d)\n", v)
			return nil
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		v, dirty, _ := m.Version()
		fmt.Fprintf(out, "migrations applied (version: %d, dirty: %v)\n", v, dirty)
		return nil
	},
}

func init() { //nolint: gochecknoinits
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "migrations directory")
	rootCmd.AddCommand(migrateCmd)
}
