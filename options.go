package gallery

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aweris/gallery/internal/remote"
)

// Handle backends.
const (
	HandleBackendMemory = "memory"
	HandleBackendFile   = "file"
)

const (
	// DefaultMaxUploadSize is the largest payload Upload accepts (5 MiB).
	DefaultMaxUploadSize = 5 << 20

	// DefaultContentType is recorded when an upload carries no content type.
	DefaultContentType = "application/octet-stream"
)

// DefaultAllowedContentTypes are the image formats Upload accepts.
var DefaultAllowedContentTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Options configures a Gallery and its parts.
type Options struct {
	MaxUploadSize       int64
	AllowedContentTypes []string
	RetryCount          int
	RetryDelay          time.Duration
	RefreshDebounce     time.Duration
	Concurrency         int
	HandleBackend       string
	MaxHandleBytes      int64
	MaxHandles          int
	CacheDir            string
	PayloadCacheSize    int
	Auth                Authenticator
	Logger              logrus.FieldLogger
}

// Option is a functional option for configuring a Gallery.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxUploadSize:       DefaultMaxUploadSize,
		AllowedContentTypes: DefaultAllowedContentTypes,
		RetryCount:          2,
		RetryDelay:          time.Second,
		RefreshDebounce:     250 * time.Millisecond,
		Concurrency:         remote.DefaultConcurrency,
		HandleBackend:       HandleBackendMemory,
		CacheDir:            DefaultCacheDir(),
		Logger:              logrus.StandardLogger(),
	}
}

func newOptions(opts []Option) *Options {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithMaxUploadSize caps the upload payload size in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxUploadSize = n
		}
	}
}

// WithAllowedContentTypes replaces the accepted upload content types.
func WithAllowedContentTypes(types ...string) Option {
	return func(o *Options) {
		if len(types) > 0 {
			o.AllowedContentTypes = types
		}
	}
}

// WithRetry sets how many times a transient store failure is retried and
// the base delay between attempts. A zero count disables retries.
func WithRetry(count int, delay time.Duration) Option {
	return func(o *Options) {
		if count >= 0 {
			o.RetryCount = count
		}
		if delay >= 0 {
			o.RetryDelay = delay
		}
	}
}

// WithRefreshDebounce sets how long Invalidate waits for further
// invalidations before refreshing.
func WithRefreshDebounce(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.RefreshDebounce = d
		}
	}
}

// WithConcurrency sets the number of parallel payload fetches.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithHandleBackend selects where handle payloads live: "memory" or "file".
func WithHandleBackend(backend string) Option {
	return func(o *Options) { o.HandleBackend = backend }
}

// WithHandleLimits bounds the live handles. Zero means unlimited.
func WithHandleLimits(maxHandles int, maxBytes int64) Option {
	return func(o *Options) {
		o.MaxHandles = maxHandles
		o.MaxHandleBytes = maxBytes
	}
}

// WithCacheDir sets the local directory used by the file handle backend.
func WithCacheDir(dir string) Option {
	return func(o *Options) { o.CacheDir = dir }
}

// WithPayloadCacheSize keeps up to n fetched payloads between refreshes so
// unchanged ids are not downloaded again. A memoised payload is trusted
// until its id leaves the listing. Disabled (zero) by default.
func WithPayloadCacheSize(n int) Option {
	return func(o *Options) { o.PayloadCacheSize = n }
}

// WithAuth sets credentials for registry-backed stores.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// DefaultCacheDir returns $XDG_CACHE_HOME/gallery, falling back to
// ~/.cache/gallery.
func DefaultCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "gallery")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "gallery")
	}
	return ".gallery"
}
