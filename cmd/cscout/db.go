package main

import (
	"time"

	"github.com/spf13/cobra"
)

var dbMigrateCmd = &cobra.Command{
	Use:   "db:migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		// Open already migrates; report the resulting state.
		applied, pending, err := store.MigrationStatus()
		if err != nil {
			return err
		}
		emitJSON(map[string]any{
			"db_path": store.Path(),
			"applied": applied,
			"pending": pending,
		})
		return nil
	},
}

var dbVacuumCmd = &cobra.Command{
	Use:   "db:vacuum",
	Short: "Reclaim unused database space",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Vacuum(cmd.Context()); err != nil {
			return err
		}
		emitJSON(map[string]any{"db_path": store.Path(), "vacuumed": true})
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "cache:prune",
	Short: "Delete HTTP cache entries older than N days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		cutoff := time.Now().AddDate(0, 0, -days).UTC()
		n, err := store.PruneHTTPCache(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		emitJSON(map[string]any{"pruned": n, "cutoff": cutoff})
		return nil
	},
}

var logsPruneCmd = &cobra.Command{
	Use:   "logs:prune",
	Short: "Delete audit log rows older than N days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		cutoff := time.Now().AddDate(0, 0, -days).UTC()
		n, err := store.PruneAuditLog(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		emitJSON(map[string]any{"pruned": n, "cutoff": cutoff})
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().Int("days", 30, "Prune entries older than this many days")
	logsPruneCmd.Flags().Int("days", 90, "Prune rows older than this many days")

	rootCmd.AddCommand(dbMigrateCmd)
	rootCmd.AddCommand(dbVacuumCmd)
	rootCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(logsPruneCmd)
}
