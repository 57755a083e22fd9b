package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victorivanov/rolesync/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token UID",
	Short: "Mint an access token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is not set")
		}
		ts := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
		token, err := ts.GenerateAccessToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() { //nolint: gochecknoinits
	rootCmd.AddCommand(tokenCmd)
}
