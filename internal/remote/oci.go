package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

const DefaultConcurrency = 4

const (
	labelID          = "dev.gallery.id"
	labelFilename    = "dev.gallery.filename"
	labelContentType = "dev.gallery.content-type"
	labelSize        = "dev.gallery.size"
	labelUploadedAt  = "dev.gallery.uploaded-at"
)

// OCIStore implements Store on an OCI registry repository. Every blob is an
// image tagged with its id: one zstd layer holding the payload and config
// labels holding the metadata.
type OCIStore struct {
	repo        name.Repository
	auth        Authenticator
	concurrency int
	logger      logrus.FieldLogger
}

// NewOCIStore creates a store for a repository reference such as
// "ghcr.io/acme/gallery".
func NewOCIStore(repository string, auth Authenticator, logger logrus.FieldLogger, opts ...name.Option) (*OCIStore, error) {
	repo, err := name.NewRepository(repository, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", repository, err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OCIStore{
		repo:        repo,
		auth:        auth,
		concurrency: DefaultConcurrency,
		logger:      logger.WithField("repository", repo.String()),
	}, nil
}

// SetConcurrency sets the number of parallel metadata fetches in List.
func (r *OCIStore) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

func (r *OCIStore) String() string   { return r.repo.String() }
func (r *OCIStore) Registry() string { return r.repo.RegistryStr() }

// blobLayer implements v1.Layer with zstd compression for remote transfer
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   zstdEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// List returns the metadata of every tagged blob ordered by upload time.
// A repository that has never been pushed to is empty, not missing.
func (r *OCIStore) List(ctx context.Context) ([]Metadata, error) {
	tags, err := remote.List(r.repo, r.remoteOptions(ctx)...)
	if err != nil {
		if isNameUnknown(err) {
			return nil, nil
		}
		return nil, r.wrap("list tags", err)
	}

	r.logger.WithField("tags", len(tags)).Debug("fetching blob metadata")

	metas := make([]*Metadata, len(tags))
	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx)
	for i, tag := range tags {
		p.Go(func(ctx context.Context) error {
			meta, err := r.metadata(ctx, tag)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			metas[i] = meta
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	out := make([]Metadata, 0, len(metas))
	for _, m := range metas {
		if m != nil {
			out = append(out, *m)
		}
	}
	sortByUpload(out)
	return out, nil
}

// Get downloads the payload layer of a blob.
func (r *OCIStore) Get(ctx context.Context, id string) ([]byte, error) {
	tag, err := r.tag(id)
	if err != nil {
		return nil, err
	}
	img, err := remote.Image(tag, r.remoteOptions(ctx)...)
	if err != nil {
		return nil, r.wrap("fetch image "+id, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, r.wrap("get layers "+id, err)
	}
	if len(layers) != 1 {
		return nil, fmt.Errorf("blob %q: expected 1 layer, got %d", id, len(layers))
	}

	rc, err := layers[0].Uncompressed()
	if err != nil {
		return nil, r.wrap("read layer "+id, err)
	}
	data, err := io.ReadAll(rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, r.wrap("read layer "+id, err)
	}
	return data, nil
}

// Put pushes a single-layer image tagged with a new id.
func (r *OCIStore) Put(ctx context.Context, data []byte, req PutRequest) (string, error) {
	id := uuid.NewString()
	tag, err := r.tag(id)
	if err != nil {
		return "", err
	}

	layer := newBlobLayer(data)
	img, err := r.buildImage(layer, Metadata{
		ID:          id,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        int64(len(data)),
		UploadedAt:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("build image: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"id":         id,
		"raw":        len(data),
		"compressed": len(layer.compressed),
	}).Debug("pushing blob")

	options := append(r.remoteOptions(ctx), remote.WithJobs(r.concurrency))
	if err := remote.Write(tag, img, options...); err != nil {
		return "", r.wrap("push image", err)
	}
	return id, nil
}

// Delete removes the tag of a blob. Unknown ids report false.
func (r *OCIStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.tag(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if _, err := remote.Head(tag, r.remoteOptions(ctx)...); err != nil {
		werr := r.wrap("head "+id, err)
		if errors.Is(werr, ErrNotFound) {
			return false, nil
		}
		return false, werr
	}

	if err := remote.Delete(tag, r.remoteOptions(ctx)...); err != nil {
		werr := r.wrap("delete "+id, err)
		if errors.Is(werr, ErrNotFound) {
			return false, nil
		}
		return false, werr
	}
	return true, nil
}

func (r *OCIStore) metadata(ctx context.Context, tag string) (*Metadata, error) {
	ref, err := r.tag(tag)
	if err != nil {
		return nil, err
	}
	img, err := remote.Image(ref, r.remoteOptions(ctx)...)
	if err != nil {
		return nil, r.wrap("fetch image "+tag, err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, r.wrap("get config "+tag, err)
	}

	labels := cfg.Config.Labels
	if labels[labelID] == "" {
		r.logger.WithField("tag", tag).Debug("skipping tag without gallery labels")
		return nil, fmt.Errorf("tag %q: %w", tag, ErrNotFound)
	}

	meta := &Metadata{
		ID:          labels[labelID],
		Filename:    labels[labelFilename],
		ContentType: labels[labelContentType],
	}
	meta.Size, _ = strconv.ParseInt(labels[labelSize], 10, 64)
	meta.UploadedAt, _ = time.Parse(time.RFC3339Nano, labels[labelUploadedAt])
	return meta, nil
}

func (r *OCIStore) buildImage(layer v1.Layer, meta Metadata) (v1.Image, error) {
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return nil, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	cfg.Config.Labels = map[string]string{
		labelID:          meta.ID,
		labelFilename:    meta.Filename,
		labelContentType: meta.ContentType,
		labelSize:        strconv.FormatInt(meta.Size, 10),
		labelUploadedAt:  meta.UploadedAt.Format(time.RFC3339Nano),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIStore) tag(id string) (name.Tag, error) {
	tag, err := name.NewTag(r.repo.String()+":"+id, name.StrictValidation)
	if err != nil {
		return name.Tag{}, fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	return tag, nil
}

func (r *OCIStore) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if r.auth != nil {
		username, password, err := r.auth.Authenticate(r.Registry())
		if err == nil && username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			}))
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func (r *OCIStore) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func isNameUnknown(err error) bool {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return false
	}
	for _, d := range terr.Errors {
		if d.Code == transport.NameUnknownErrorCode {
			return true
		}
	}
	return false
}
