package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/cadence/internal/auth"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var subject, tenantID string
	var scopes []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			token, err := auth.Issue(auth.Config{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}, subject, tenantID, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cadencectl", "token subject")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id claim")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeCadenceRead, auth.ScopeCadenceWrite}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
