package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/cadence/db/postgres/migrations"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				names, err := migrations.Names()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			e, err := root.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			applied, err := migrations.Apply(cmd.Context(), e.pool)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			if len(applied) == 0 {
				e.logger.Info("schema up to date")
				return nil
			}
			for _, name := range applied {
				e.logger.WithField("migration", name).Info("applied")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print embedded migrations without connecting")
	return cmd
}
