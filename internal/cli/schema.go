package cli

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/TRU5T/plexdb/internal/db"
	"github.com/TRU5T/plexdb/internal/paths"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Diff the schema of two databases",
	Long: `Compare the CREATE statements of two databases and print a unified
diff. Useful for checking that a merged output or a recovered database
still matches the shape of the original backup.`,
	RunE: runSchema,
}

var (
	schemaOld string
	schemaNew string
)

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().StringVar(&schemaOld, "old", "", "First database")
	schemaCmd.Flags().StringVar(&schemaNew, "new", "", "Second database")
	schemaCmd.MarkFlagRequired("old")
	schemaCmd.MarkFlagRequired("new")
}

func runSchema(cmd *cobra.Command, args []string) error {
	oldDB, err := db.Open(paths.Normalize(schemaOld))
	if err != nil {
		return err
	}
	defer oldDB.Close()

	newDB, err := db.Open(paths.Normalize(schemaNew))
	if err != nil {
		return err
	}
	defer newDB.Close()

	oldSQL, err := oldDB.SchemaSQL()
	if err != nil {
		return err
	}
	newSQL, err := newDB.SchemaSQL()
	if err != nil {
		return err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldSQL),
		B:        difflib.SplitLines(newSQL),
		FromFile: schemaOld,
		ToFile:   schemaNew,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Errorf("failed to build diff: %w", err)
	}

	if text == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "schemas are identical")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}
