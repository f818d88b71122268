package cmd

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an image",
	Long:  "Upload an image file. The content type is taken from --type, the file extension or the file contents, in that order.",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	uploadCmd.Flags().String("type", "", "content type (default: detected)")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) (err error) {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	contentType, _ := cmd.Flags().GetString("type")
	if contentType == "" {
		contentType = detectContentType(path, data)
	}

	g, err := openGallery(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id, err := g.UploadFile(cmd.Context(), data, filepath.Base(path), contentType, func(p int) {
		fmt.Fprintf(os.Stderr, "\rUploading %s... %3d%%", filepath.Base(path), p)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Println(id)
	return nil
}

func detectContentType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		t, _, _ = mime.ParseMediaType(t)
		return t
	}
	return http.DetectContentType(data)
}
