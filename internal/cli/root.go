package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "plexdb",
	Short: "Repair and merge Plex library databases",
	Long: `plexdb reconciles two snapshots of a Plex library database: it keeps
the structural integrity of an old known-good backup while absorbing
watch history, item settings, and optionally new library items from a
newer (possibly corrupt) database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("sqlite3", "", "Path to the sqlite3 executable used for recovery (overrides PLEXDB_SQLITE3_BIN)")
	rootCmd.PersistentFlags().String("log", "", "Path to the persisted log file (overrides PLEXDB_LOG_PATH)")
}
