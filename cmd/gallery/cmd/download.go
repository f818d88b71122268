package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download <id> [output]",
	Short: "Download an image",
	Long:  "Download an image to a file, or to stdout when output is \"-\". The default output is the stored filename.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) (err error) {
	id := args[0]

	g, err := openGallery(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if len(args) > 1 && args[1] == "-" {
		_, err := g.Download(cmd.Context(), id, os.Stdout)
		return err
	}

	entries, err := g.ListEntries(cmd.Context())
	if err != nil {
		return err
	}
	output := id
	if len(args) > 1 {
		output = args[1]
	} else {
		for _, e := range entries {
			if e.ID == id && e.Filename != "" {
				output = filepath.Base(e.Filename)
			}
		}
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := g.Download(cmd.Context(), id, f); err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("download failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Saved %s\n", output)
	return nil
}
