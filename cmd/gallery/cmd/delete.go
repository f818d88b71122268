package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete images",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) (err error) {
	g, err := openGallery(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, id := range args {
		if err := g.DeleteEntry(cmd.Context(), id); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Deleted %s\n", id)
	}
	return nil
}
