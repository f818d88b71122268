package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Gallery ties a store, a handle registry, a cache and a mutation
// coordinator together behind the operations a UI needs.
type Gallery struct {
	store       RemoteStore
	registry    *Registry
	cache       *Cache
	coordinator *Coordinator
	ownsStore   bool
}

// New creates a gallery over s. The caller keeps ownership of s.
func New(s RemoteStore, opts ...Option) (*Gallery, error) {
	if s == nil {
		return nil, fmt.Errorf("new gallery: %w", ErrServiceNotDeployed)
	}

	registry, err := NewRegistry(opts...)
	if err != nil {
		return nil, err
	}
	cache, err := NewCache(s, registry, opts...)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	return &Gallery{
		store:       s,
		registry:    registry,
		cache:       cache,
		coordinator: NewCoordinator(s, cache, opts...),
	}, nil
}

// Open dials the store at storeURL and creates a gallery that closes the
// store on Close.
func Open(ctx context.Context, storeURL string, opts ...Option) (*Gallery, error) {
	s, err := Dial(ctx, storeURL, opts...)
	if err != nil {
		return nil, err
	}

	g, err := New(s, opts...)
	if err != nil {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	g.ownsStore = true
	return g, nil
}

// ListEntries returns the cached entries, loading them on first use.
// Entries dropped by a partial fetch are reported through State.
func (g *Gallery) ListEntries(ctx context.Context) ([]Entry, error) {
	if !g.cache.Loaded() {
		state, err := g.cache.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		return state.Entries, nil
	}
	return g.cache.Entries(), nil
}

// Refresh reloads every entry from the store.
func (g *Gallery) Refresh(ctx context.Context) (State, error) {
	return g.cache.Refresh(ctx)
}

// Invalidate schedules a debounced background refresh.
func (g *Gallery) Invalidate() { g.cache.Invalidate() }

// UploadFile validates and stores a blob, returning its id once the
// refreshed list includes it.
func (g *Gallery) UploadFile(ctx context.Context, data []byte, filename, contentType string, onProgress ProgressFunc) (string, error) {
	return g.coordinator.Upload(ctx, data, filename, contentType, onProgress)
}

func (g *Gallery) DeleteEntry(ctx context.Context, id string) error {
	return g.coordinator.Delete(ctx, id)
}

// Entry returns the cached entry for id.
func (g *Gallery) Entry(id string) (Entry, error) {
	return g.cache.Get(id)
}

// Download copies the payload of id to w. A cached entry is served from its
// handle; otherwise the payload is fetched from the store.
func (g *Gallery) Download(ctx context.Context, id string, w io.Writer) (Metadata, error) {
	if entry, err := g.cache.Get(id); err == nil {
		meta, err := g.copyHandle(entry, w)
		if !errors.Is(err, ErrReleased) {
			return meta, err
		}
	}

	if !g.cache.Loaded() {
		if _, err := g.cache.Refresh(ctx); err != nil {
			return Metadata{}, err
		}
		if entry, err := g.cache.Get(id); err == nil {
			if meta, err := g.copyHandle(entry, w); !errors.Is(err, ErrReleased) {
				return meta, err
			}
		}
	}

	data, err := retry(ctx, g.cache.logger, "get", g.cache.opts.RetryCount, g.cache.opts.RetryDelay, func() ([]byte, error) {
		data, err := g.store.Get(ctx, id)
		return data, classify("download "+id, err)
	})
	if err != nil {
		return Metadata{}, err
	}
	if _, err := w.Write(data); err != nil {
		return Metadata{}, fmt.Errorf("write %s: %w", id, err)
	}
	return Metadata{ID: id, Size: int64(len(data))}, nil
}

func (g *Gallery) copyHandle(entry Entry, w io.Writer) (Metadata, error) {
	r, err := entry.Handle.Open()
	if err != nil {
		return Metadata{}, err
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return Metadata{}, fmt.Errorf("write %s: %w", entry.ID, err)
	}
	return entry.Metadata, nil
}

// State returns the current cache snapshot.
func (g *Gallery) State() State { return g.cache.State() }

// Subscribe streams cache snapshots until the returned cancel is called.
func (g *Gallery) Subscribe() (<-chan State, func()) { return g.cache.Subscribe() }

// Stats reports handle accounting.
func (g *Gallery) Stats() RegistryStats { return g.registry.Stats() }

// Registry exposes the handle registry so renderers can resolve URIs.
func (g *Gallery) Registry() *Registry { return g.registry }

// Close releases every handle and, for galleries created by Open, closes
// the store.
func (g *Gallery) Close() (err error) {
	defer func() {
		if !g.ownsStore {
			return
		}
		if c, ok := g.store.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	if err := g.cache.Close(); err != nil {
		return err
	}
	return g.registry.Close()
}
