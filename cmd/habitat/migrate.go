package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Strob0t/Habitat/internal/adapter/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the event journal schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				dsn, err := journalDSN(cmd)
				if err != nil {
					return err
				}
				if err := postgres.RunMigrations(cmd.Context(), dsn); err != nil {
					return err
				}
				return printVersion(cmd, dsn)
			},
		},
		newMigrateDownCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				dsn, err := journalDSN(cmd)
				if err != nil {
					return err
				}
				return printVersion(cmd, dsn)
			},
		},
	)
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := journalDSN(cmd)
			if err != nil {
				return err
			}
			steps, _ := cmd.Flags().GetInt("steps")
			if err := postgres.RollbackMigrations(cmd.Context(), dsn, steps); err != nil {
				return err
			}
			return printVersion(cmd, dsn)
		},
	}
	cmd.Flags().Int("steps", 1, "Number of migrations to roll back")
	return cmd
}

func journalDSN(cmd *cobra.Command) (string, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Postgres.DSN == "" {
		return "", errors.New("no journal database configured (set --dsn or DATABASE_URL)")
	}
	return cfg.Postgres.DSN, nil
}

func printVersion(cmd *cobra.Command, dsn string) error {
	v, err := postgres.MigrationVersion(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
