package gallery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Upload progress checkpoints.
const (
	ProgressNone     = 0
	ProgressPrepared = 25
	ProgressDone     = 100
)

// ProgressFunc receives upload progress in percent.
type ProgressFunc func(percent int)

// Coordinator runs uploads and deletes against the store and keeps the
// cache in step with them.
type Coordinator struct {
	store  RemoteStore
	cache  *Cache
	opts   *Options
	logger logrus.FieldLogger
}

func NewCoordinator(s RemoteStore, cache *Cache, opts ...Option) *Coordinator {
	options := newOptions(opts)
	return &Coordinator{
		store:  s,
		cache:  cache,
		opts:   options,
		logger: options.Logger,
	}
}

// Validate checks an upload without contacting the store.
func (m *Coordinator) Validate(data []byte, filename, contentType string) error {
	if len(data) == 0 {
		return &ValidationError{Field: "data", Reason: "payload is empty"}
	}
	if int64(len(data)) > m.opts.MaxUploadSize {
		return &ValidationError{
			Field:  "data",
			Reason: fmt.Sprintf("%d bytes exceeds the %d byte limit", len(data), m.opts.MaxUploadSize),
		}
	}
	if strings.TrimSpace(filename) == "" {
		return &ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if filepath.Base(filename) != filename || strings.ContainsAny(filename, `/\`) {
		return &ValidationError{Field: "filename", Reason: "must not contain a path"}
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	if !slices.Contains(m.opts.AllowedContentTypes, contentType) {
		return &ValidationError{
			Field:  "contentType",
			Reason: fmt.Sprintf("%q is not one of %s", contentType, strings.Join(m.opts.AllowedContentTypes, ", ")),
		}
	}
	return nil
}

// Upload validates and stores a new blob, then refreshes the cache before
// returning its id. onProgress may be nil; it sees 25 once the payload is
// prepared and 100 exactly once when the store confirms. Any failure
// reports 0.
//
// A failed post-upload refresh does not fail the upload: the blob is
// stored, and the failure is logged and recorded in the cache state.
func (m *Coordinator) Upload(ctx context.Context, data []byte, filename, contentType string, onProgress ProgressFunc) (id string, err error) {
	progress := newProgress(onProgress)
	defer func() {
		if err != nil {
			progress.reset()
		}
	}()

	if err := m.Validate(data, filename, contentType); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	req := PutRequest{Filename: filename, ContentType: contentType}
	progress.report(ProgressPrepared)

	log := m.logger.WithFields(logrus.Fields{
		"filename": filename,
		"size":     len(data),
	})

	id, err = retry(ctx, m.logger, "put", m.opts.RetryCount, m.opts.RetryDelay, func() (string, error) {
		id, err := m.store.Put(ctx, data, req)
		return id, classify("put "+filename, err)
	})
	if err != nil {
		log.WithError(err).Error("upload failed")
		return "", err
	}
	progress.report(ProgressDone)
	log.WithField("id", id).Info("uploaded")

	if _, rerr := m.cache.Refresh(ctx); rerr != nil && !errors.Is(rerr, ErrClosed) {
		log.WithError(rerr).Warn("refresh after upload failed")
	}
	return id, nil
}

// Delete removes a blob from the store, drops it from the cache and
// refreshes. A store that declines the delete yields ErrDeleteRejected and
// leaves the cache untouched.
func (m *Coordinator) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}

	log := m.logger.WithField("id", id)

	ok, err := retry(ctx, m.logger, "delete", m.opts.RetryCount, m.opts.RetryDelay, func() (bool, error) {
		ok, err := m.store.Delete(ctx, id)
		return ok, classify("delete "+id, err)
	})
	if err != nil {
		log.WithError(err).Error("delete failed")
		return err
	}
	if !ok {
		log.Warn("store declined delete")
		return fmt.Errorf("delete %q: %w", id, ErrDeleteRejected)
	}

	m.cache.ApplyRemove(id)
	log.Info("deleted")

	if _, rerr := m.cache.Refresh(ctx); rerr != nil && !errors.Is(rerr, ErrClosed) {
		log.WithError(rerr).Warn("refresh after delete failed")
	}
	return nil
}

// progress forwards checkpoints to a ProgressFunc, dropping any that would
// move backwards or repeat completion.
type progress struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int
	done bool
}

func newProgress(fn ProgressFunc) *progress {
	return &progress{fn: fn}
}

func (p *progress) report(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fn == nil || p.done || percent < p.last {
		return
	}
	p.last = percent
	p.done = percent >= ProgressDone
	p.fn(percent)
}

func (p *progress) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fn == nil {
		return
	}
	p.last = ProgressNone
	p.fn(ProgressNone)
}
