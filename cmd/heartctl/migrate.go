package main

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heartline/server/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(e *env, m *database.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, e, m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration (destroys all data)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			prompt := promptui.Prompt{
				Label:     "Drop every Heartline table",
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
				return err
			}
		}
		return withMigrator(cmd, func(e *env, m *database.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			e.logger.Warn("schema rolled back")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(e *env, m *database.Migrator) error {
			return printVersion(cmd, e, m)
		})
	},
}

func init() {
	migrateDownCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(cmd *cobra.Command, fn func(*env, *database.Migrator) error) error {
	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	m, err := database.NewMigrator(e.db)
	if err != nil {
		return err
	}
	return fn(e, m)
}

func printVersion(cmd *cobra.Command, e *env, m *database.Migrator) error {
	version, dirty, ok, err := m.Version()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	e.logger.Debug("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", version)
	return nil
}
