package remote

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"

	"github.com/aweris/gallery/internal/compression"
)

// Schemes lists the store URL schemes Open understands.
var Schemes = []string{"file", "redis", "rediss", "s3", "oci"}

// OpenOptions configures Open.
type OpenOptions struct {
	Concurrency int
	Auth        Authenticator
	Logger      logrus.FieldLogger
}

// Open returns the store addressed by rawURL:
//
//	file:///var/lib/gallery          local directory (a bare path works too)
//	redis://localhost:6379/0?prefix=gallery
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000
//	oci://ghcr.io/acme/gallery?insecure=true
//
// Stores that hold connections implement io.Closer.
func Open(ctx context.Context, rawURL string, opts OpenOptions) (Store, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("store is not configured")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "", "file":
		dir := u.Path
		if u.Scheme == "" {
			dir = rawURL
		}
		store, err := NewLocalStore(filepath.Clean(dir), compression.LevelDefault, true)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "redis", "rediss":
		q := u.Query()
		prefix := q.Get("prefix")
		q.Del("prefix")
		u.RawQuery = q.Encode()

		compressor, err := compression.NewCompressor(compression.LevelFastest, true)
		if err != nil {
			return nil, err
		}
		store, err := OpenRedis(ctx, u.String(), prefix, compressor)
		if err != nil {
			_ = compressor.Close()
			return nil, err
		}
		return store, nil

	case "s3":
		q := u.Query()
		cfg := &aws.Config{}
		if region := q.Get("region"); region != "" {
			cfg.Region = aws.String(region)
		}
		if endpoint := q.Get("endpoint"); endpoint != "" {
			cfg.Endpoint = aws.String(endpoint)
			cfg.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSession(cfg)
		if err != nil {
			return nil, fmt.Errorf("create aws session: %w", err)
		}
		store, err := NewS3Store(sess, u.Host, strings.Trim(u.Path, "/"), opts.Concurrency)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "oci":
		var nameOpts []name.Option
		if insecure, _ := strconv.ParseBool(u.Query().Get("insecure")); insecure {
			nameOpts = append(nameOpts, name.Insecure)
		}
		store, err := NewOCIStore(u.Host+u.Path, opts.Auth, opts.Logger, nameOpts...)
		if err != nil {
			return nil, err
		}
		store.SetConcurrency(opts.Concurrency)
		return store, nil
	}

	return nil, fmt.Errorf("unknown store scheme %q (supported: %s)", u.Scheme, strings.Join(Schemes, ", "))
}
