package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"paygate/internal/db"
)

func databaseURL(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}
	return "", errors.New("database url required: pass --database-url or set DATABASE_URL")
}

func migrateCmd(c *cli) *cobra.Command {
	var dbURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dbURL, "database-url", "", "PostgreSQL URL (default $DATABASE_URL)")

	open := func() (*db.Migrator, error) {
		url, err := databaseURL(dbURL)
		if err != nil {
			return nil, err
		}
		return db.NewMigrator(url, c.logger())
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mg, err := open()
			if err != nil {
				return err
			}
			defer mg.Close()
			if err := mg.Up(); err != nil {
				return err
			}
			return printVersion(cmd, mg)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mg, err := open()
			if err != nil {
				return err
			}
			defer mg.Close()
			if err := mg.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, mg)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mg, err := open()
			if err != nil {
				return err
			}
			defer mg.Close()
			return printVersion(cmd, mg)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func printVersion(cmd *cobra.Command, mg *db.Migrator) error {
	v, dirty, err := mg.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
