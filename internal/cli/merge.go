package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TRU5T/plexdb/internal/engine"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a newer database into a copy of an old backup",
	Long: `Merge watch history and per-item settings (and optionally new library
items) from a newer database into a copy of an old known-good backup.

The inputs are never modified; the merged database is written to --output,
overwriting it if it exists.

Examples:
  plexdb merge --old backup.db --new corrupt.db --output merged.db
  plexdb merge --old old.db --new new.db --output merged.db --recover --merge-new-items`,
	RunE: runMerge,
}

var (
	mergeOld      string
	mergeNew      string
	mergeOutput   string
	mergeRecover  bool
	mergeNewItems bool
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeOld, "old", "", "Path to the older known-good backup")
	mergeCmd.Flags().StringVar(&mergeNew, "new", "", "Path to the newer (possibly corrupt) database")
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "", "Path for the merged output database (will overwrite)")
	mergeCmd.Flags().BoolVar(&mergeRecover, "recover", false, "Salvage an unreadable database with sqlite3 .recover first")
	mergeCmd.Flags().BoolVar(&mergeNewItems, "merge-new-items", false, "Also copy new library items with ID remapping")
	mergeCmd.MarkFlagRequired("old")
	mergeCmd.MarkFlagRequired("new")
	mergeCmd.MarkFlagRequired("output")
}

func runMerge(cmd *cobra.Command, args []string) error {
	eng, cfg, sink, cleanup, err := setupEngine(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := engine.Options{Recover: mergeRecover, MergeNewItems: mergeNewItems}
	res, err := eng.FullMerge(cmd.Context(), mergeOld, mergeNew, mergeOutput, opts, sink)
	if err != nil {
		return fatal(cfg, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "merged: %d views, %d settings, %d new items -> %s\n",
		res.ViewsAdded, res.SettingsAdded, res.ItemsAdded, res.OutputPath)
	return nil
}
