package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the semantic research cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.cache.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read cache stats: %w", err)
		}
		fmt.Printf("Database: %s\n", cfg.Cache.DatabasePath)
		fmt.Printf("Entries:  %d\n", stats["total_entries"])
		fmt.Printf("Sessions: %d\n", stats["sessions"])
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached research for the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		deleted, err := a.cache.DeleteSession(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		a.sessions.Delete(sessionID)
		fmt.Printf("Deleted %d cached entries for session %q\n", deleted, sessionID)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
