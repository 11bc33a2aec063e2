package main

import (
	"fmt"

	"github.com/phrazzld/meetscribe/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a component",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			scopes, _ := cmd.Flags().GetStringSlice("scope")

			tokens, err := auth.NewTokenService(cfg.Auth, nil)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(cmd.Context(), subject, ttl, scopes...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String("subject", "", "Component the token is issued to")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (default auth.token_lifetime)")
	cmd.Flags().StringSlice("scope", nil, "Granted scopes: jobs, storage, conflicts (default all)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
