package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TRU5T/plexdb/internal/engine"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what a merge would change, without writing",
	Long: `Count the watch-history rows, settings rows, and (with
--merge-new-items) new library items a merge would add. Nothing is
written; temp files from recovery are removed afterwards.`,
	RunE: runPreview,
}

var (
	previewOld      string
	previewNew      string
	previewRecover  bool
	previewNewItems bool
)

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().StringVar(&previewOld, "old", "", "Path to the older known-good backup")
	previewCmd.Flags().StringVar(&previewNew, "new", "", "Path to the newer (possibly corrupt) database")
	previewCmd.Flags().BoolVar(&previewRecover, "recover", false, "Salvage an unreadable database with sqlite3 .recover first")
	previewCmd.Flags().BoolVar(&previewNewItems, "merge-new-items", false, "Also count new library items")
	previewCmd.MarkFlagRequired("old")
	previewCmd.MarkFlagRequired("new")
}

func runPreview(cmd *cobra.Command, args []string) error {
	eng, cfg, sink, cleanup, err := setupEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := engine.Options{Recover: previewRecover, MergeNewItems: previewNewItems}
	stats, err := eng.Preview(cmd.Context(), previewOld, previewNew, opts, sink)
	if err != nil {
		return fatal(cfg, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "would add: %d views, %d settings, %d new items\n",
		stats.ViewsToAdd, stats.SettingsToAdd, stats.NewItemsToAdd)
	return nil
}
