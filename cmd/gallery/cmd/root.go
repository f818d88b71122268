package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/gallery"
)

var rootCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Image gallery CLI",
	Long:  "CLI for listing, uploading, deleting and downloading images held by a gallery storage service.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(viper.GetString("log_level"))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		logrus.SetOutput(os.Stderr)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/gallery/config.yaml)")
	flags.String("store", "", "store URL (file://, redis://, s3://, oci://)")
	flags.String("cache-dir", "", "cache directory (default: ~/.cache/gallery)")
	flags.String("log-level", "warning", "log level")
	flags.Int("retry-count", 2, "retries for transient store failures")
	flags.Duration("retry-delay", 0, "base delay between retries (default: 1s)")
	flags.Int("concurrency", 0, "parallel payload fetches (default: 4)")
	flags.String("handle-backend", gallery.HandleBackendMemory, "handle backend (memory, file)")

	viper.BindPFlag("store", flags.Lookup("store"))
	viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("retry_count", flags.Lookup("retry-count"))
	viper.BindPFlag("retry_delay", flags.Lookup("retry-delay"))
	viper.BindPFlag("concurrency", flags.Lookup("concurrency"))
	viper.BindPFlag("handle_backend", flags.Lookup("handle-backend"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GALLERY")
	viper.AutomaticEnv()
	viper.SetDefault("cache_dir", gallery.DefaultCacheDir())
	viper.SetDefault("retry_delay", "1s")
	viper.SetDefault("max_upload_size", gallery.DefaultMaxUploadSize)
	viper.SetDefault("allowed_types", gallery.DefaultAllowedContentTypes)

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gallery")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "gallery")
	}
	return ".gallery"
}

func options() []gallery.Option {
	opts := []gallery.Option{
		gallery.WithCacheDir(viper.GetString("cache_dir")),
		gallery.WithRetry(viper.GetInt("retry_count"), viper.GetDuration("retry_delay")),
		gallery.WithConcurrency(viper.GetInt("concurrency")),
		gallery.WithHandleBackend(viper.GetString("handle_backend")),
		gallery.WithMaxUploadSize(viper.GetInt64("max_upload_size")),
		gallery.WithAllowedContentTypes(viper.GetStringSlice("allowed_types")...),
		gallery.WithLogger(logrus.StandardLogger()),
	}
	if d := viper.GetDuration("refresh_debounce"); d > 0 {
		opts = append(opts, gallery.WithRefreshDebounce(d))
	}
	return opts
}

func openGallery(ctx context.Context) (*gallery.Gallery, error) {
	store := viper.GetString("store")
	if store == "" {
		store = filepath.Join(viper.GetString("cache_dir"), "store")
	}
	return gallery.Open(ctx, store, options()...)
}
