package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aweris/gallery/internal/compression"
)

// LocalStore implements Store on the local filesystem.
//
// Storage layout:
//
//	basePath/
//	  objects/
//	    ab/cd123...       (payload, zstd when it pays off)
//	  meta/
//	    ab/cd123....json  (Metadata)
//
// Metadata is written last on Put and removed first on Delete, so a blob is
// listed only while its payload exists.
type LocalStore struct {
	basePath   string
	compressor *compression.Compressor

	mu   sync.Mutex
	last time.Time
}

func NewLocalStore(basePath string, compressionLevel compression.Level, compressionEnabled bool) (*LocalStore, error) {
	for _, dir := range []string{"objects", "meta", "tmp"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	compressor, err := compression.NewCompressor(compressionLevel, compressionEnabled)
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	return &LocalStore{
		basePath:   basePath,
		compressor: compressor,
	}, nil
}

// List returns every blob ordered by upload time.
func (s *LocalStore) List(ctx context.Context) ([]Metadata, error) {
	metaDir := filepath.Join(s.basePath, "meta")
	if _, err := os.Stat(metaDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("local store %s: %w", s.basePath, ErrServiceNotDeployed)
		}
		return nil, fmt.Errorf("stat %s: %w: %w", metaDir, ErrUnavailable, err)
	}

	var out []Metadata
	err := filepath.WalkDir(metaDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		meta, err := readMeta(path)
		if err != nil {
			// A concurrent Delete may remove the file between walk and read.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		out = append(out, *meta)
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("list %s: %w: %w", s.basePath, ErrUnavailable, err)
	}

	sortByUpload(out)
	return out, nil
}

// Get retrieves the payload of a blob.
func (s *LocalStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	stored, err := os.ReadFile(s.objectPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %q: %w: %w", id, ErrUnavailable, err)
	}

	data, err := s.compressor.Decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("blob %q: %w", id, err)
	}
	return data, nil
}

// Put stores a blob under a freshly assigned id.
func (s *LocalStore) Put(ctx context.Context, data []byte, req PutRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	meta := Metadata{
		ID:          id,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        int64(len(data)),
		UploadedAt:  s.now(),
	}

	if err := s.writeAtomic(s.objectPath(id), s.compressor.Compress(data)); err != nil {
		return "", fmt.Errorf("write blob: %w: %w", ErrUnavailable, err)
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := s.writeAtomic(s.metaPath(id), metaData); err != nil {
		_ = os.Remove(s.objectPath(id))
		return "", fmt.Errorf("write metadata: %w: %w", ErrUnavailable, err)
	}

	return id, nil
}

// Delete removes a blob. It reports false when the blob does not exist.
func (s *LocalStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	if err := os.Remove(s.metaPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete metadata %q: %w: %w", id, ErrUnavailable, err)
	}
	if err := os.Remove(s.objectPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("delete blob %q: %w: %w", id, ErrUnavailable, err)
	}
	return true, nil
}

func (s *LocalStore) Close() error {
	return s.compressor.Close()
}

// now returns a strictly increasing timestamp so list order follows put
// order even on coarse clocks.
func (s *LocalStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *LocalStore) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Join(s.basePath, "tmp"), "put-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// objectPath returns the filesystem path for a payload.
// Git-style sharding: objects/ab/cd123...
func (s *LocalStore) objectPath(id string) string {
	return filepath.Join(s.basePath, "objects", shard(id))
}

func (s *LocalStore) metaPath(id string) string {
	return filepath.Join(s.basePath, "meta", shard(id)+".json")
}

func shard(id string) string {
	if len(id) < 3 {
		return id
	}
	return filepath.Join(id[:2], id[2:])
}

func readMeta(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return &meta, nil
}

// validateID rejects ids that could escape the store layout.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	return nil
}

func sortByUpload(metas []Metadata) {
	sort.SliceStable(metas, func(i, j int) bool {
		if !metas[i].UploadedAt.Equal(metas[j].UploadedAt) {
			return metas[i].UploadedAt.Before(metas[j].UploadedAt)
		}
		return metas[i].ID < metas[j].ID
	})
}
