package gallery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handle is a short-lived reference to a payload that a renderer can load
// by URI. It stays readable until released through its Registry.
type Handle struct {
	uri         string
	blobID      string
	contentType string
	size        int64

	mu       sync.RWMutex
	data     []byte
	path     string
	released bool
}

// URI returns the address a consumer loads the payload from: "blob:<uuid>"
// for memory handles, a file:// URL for file handles.
func (h *Handle) URI() string { return h.uri }

// BlobID returns the id of the blob the handle renders.
func (h *Handle) BlobID() string { return h.blobID }

func (h *Handle) ContentType() string { return h.contentType }
func (h *Handle) Size() int64         { return h.size }

// Live reports whether the handle has not been released.
func (h *Handle) Live() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.released
}

// Open returns a reader over the payload. The reader borrows the handle;
// releasing the handle while reading a file-backed payload may cut the
// read short.
func (h *Handle) Open() (io.ReadCloser, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, ErrReleased
	}
	if h.path == "" {
		return io.NopCloser(bytes.NewReader(h.data)), nil
	}
	f, err := os.Open(h.path)
	if err != nil {
		return nil, fmt.Errorf("open handle %s: %w", h.uri, err)
	}
	return f, nil
}

// Bytes returns a copy of the payload.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, ErrReleased
	}
	if h.path == "" {
		return bytes.Clone(h.data), nil
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, fmt.Errorf("read handle %s: %w", h.uri, err)
	}
	return data, nil
}

// RegistryStats is a snapshot of handle accounting.
type RegistryStats struct {
	LiveHandles int
	LiveBytes   int64
	Acquired    uint64
	Released    uint64
}

// Registry allocates and releases handles. It does not pair acquires with
// releases; whoever acquires a handle owns its release.
type Registry struct {
	backend    string
	dir        string
	maxHandles int
	maxBytes   int64
	logger     logrus.FieldLogger

	mu        sync.Mutex
	live      map[string]*Handle
	pending   int
	liveBytes int64
	acquired  uint64
	released  uint64
}

// NewRegistry creates a handle registry. The file backend writes payloads
// under <cache-dir>/handles.
func NewRegistry(opts ...Option) (*Registry, error) {
	options := newOptions(opts)

	r := &Registry{
		backend:    options.HandleBackend,
		maxHandles: options.MaxHandles,
		maxBytes:   options.MaxHandleBytes,
		logger:     options.Logger,
		live:       make(map[string]*Handle),
	}

	switch r.backend {
	case HandleBackendMemory:
	case HandleBackendFile:
		r.dir = filepath.Join(options.CacheDir, "handles")
		if err := os.MkdirAll(r.dir, 0755); err != nil {
			return nil, fmt.Errorf("create handle dir: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown handle backend %q", r.backend)
	}
	return r, nil
}

// Acquire allocates a handle for data. The registry keeps a reference to
// data (memory backend) so callers must not modify it afterwards.
func (r *Registry) Acquire(ctx context.Context, blobID string, data []byte, contentType string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := int64(len(data))
	r.mu.Lock()
	if r.maxHandles > 0 && len(r.live)+r.pending >= r.maxHandles {
		r.mu.Unlock()
		return nil, fmt.Errorf("acquire %s: %d live handles: %w", blobID, r.maxHandles, ErrOutOfResources)
	}
	if r.maxBytes > 0 && r.liveBytes+size > r.maxBytes {
		r.mu.Unlock()
		return nil, fmt.Errorf("acquire %s: %d bytes over budget: %w", blobID, r.liveBytes+size-r.maxBytes, ErrOutOfResources)
	}
	// Reserve before allocating so concurrent acquires respect the limits.
	r.pending++
	r.liveBytes += size
	r.mu.Unlock()

	h, err := r.allocate(blobID, data, contentType)

	r.mu.Lock()
	r.pending--
	if err != nil {
		r.liveBytes -= size
		r.mu.Unlock()
		return nil, err
	}
	r.live[h.uri] = h
	r.acquired++
	r.mu.Unlock()
	return h, nil
}

func (r *Registry) allocate(blobID string, data []byte, contentType string) (*Handle, error) {
	id := uuid.NewString()
	h := &Handle{
		blobID:      blobID,
		contentType: contentType,
		size:        int64(len(data)),
	}

	if r.backend == HandleBackendMemory {
		h.uri = "blob:" + id
		h.data = data
		return h, nil
	}

	h.path = filepath.Join(r.dir, id)
	if err := os.WriteFile(h.path, data, 0600); err != nil {
		_ = os.Remove(h.path)
		return nil, fmt.Errorf("acquire %s: %w: %w", blobID, ErrOutOfResources, err)
	}
	h.uri = (&url.URL{Scheme: "file", Path: h.path}).String()
	return h, nil
}

// Release frees h. Releasing nil or an already released handle is a no-op.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.data = nil
	path := h.path
	h.mu.Unlock()

	r.mu.Lock()
	if _, ok := r.live[h.uri]; ok {
		delete(r.live, h.uri)
		r.liveBytes -= h.size
		r.released++
	}
	r.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.WithError(err).WithField("uri", h.uri).Warn("remove released handle")
		}
	}
}

// Lookup returns the live handle addressed by uri.
func (r *Registry) Lookup(uri string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[uri]
	return h, ok
}

func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistryStats{
		LiveHandles: len(r.live),
		LiveBytes:   r.liveBytes,
		Acquired:    r.acquired,
		Released:    r.released,
	}
}

// Close releases every live handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.live))
	for _, h := range r.live {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.Release(h)
	}
	return nil
}
