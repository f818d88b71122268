package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aweris/gallery"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List images",
	Long:  "List every image in the store. Images whose payload cannot be fetched are reported on stderr.",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) (err error) {
	g, err := openGallery(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	entries, err := g.ListEntries(cmd.Context())
	if err != nil {
		return err
	}

	var partial *gallery.PartialFetchError
	if errors.As(g.State().LastError, &partial) {
		for _, f := range partial.Failures {
			fmt.Fprintf(os.Stderr, "skipped %s: %v\n", f.ID, f.Err)
		}
	}

	if len(entries) == 0 {
		fmt.Println("(no images)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.Filename, e.ContentType, e.Size, e.UploadedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
