package gallery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeBlob struct {
	meta Metadata
	data []byte
}

// fakeStore is an in-memory RemoteStore with failure injection.
type fakeStore struct {
	mu      sync.Mutex
	blobs   map[string]fakeBlob
	order   []string
	nextID  int
	clock   time.Time
	calls   map[string]int
	listErr []error
	putErr  []error
	delErr  []error
	getErr  map[string]error
	decline map[string]bool

	// listHook runs after List has taken its snapshot, with the 1-based
	// call number.
	listHook func(n int)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blobs:   make(map[string]fakeBlob),
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		calls:   make(map[string]int),
		getErr:  make(map[string]error),
		decline: make(map[string]bool),
	}
}

func (s *fakeStore) seed(t *testing.T, names ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(names))
	for _, n := range names {
		s.mu.Lock()
		id := s.add([]byte("payload:"+n), PutRequest{Filename: n, ContentType: "image/png"})
		s.mu.Unlock()
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *fakeStore) List(ctx context.Context) ([]Metadata, error) {
	s.mu.Lock()
	s.calls["list"]++
	n := s.calls["list"]
	if err := pop(&s.listErr); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	out := make([]Metadata, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.blobs[id].meta)
	}
	hook := s.listHook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get"]++
	if err := s.getErr[id]; err != nil {
		return nil, err
	}
	b, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", id, ErrNotFound)
	}
	return b.data, nil
}

func (s *fakeStore) Put(ctx context.Context, data []byte, req PutRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["put"]++
	if err := pop(&s.putErr); err != nil {
		return "", err
	}
	return s.add(data, req), nil
}

func (s *fakeStore) add(data []byte, req PutRequest) string {
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	id := fmt.Sprintf("blob-%03d", s.nextID)
	s.blobs[id] = fakeBlob{
		meta: Metadata{
			ID:          id,
			Filename:    req.Filename,
			ContentType: req.ContentType,
			Size:        int64(len(data)),
			UploadedAt:  s.clock,
		},
		data: data,
	}
	s.order = append(s.order, id)
	return id
}

func (s *fakeStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["delete"]++
	if err := pop(&s.delErr); err != nil {
		return false, err
	}
	if s.decline[id] {
		return false, nil
	}
	if _, ok := s.blobs[id]; !ok {
		return false, nil
	}
	delete(s.blobs, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

// testOptions disables retry delays and debounce so tests run fast.
func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithLogger(testLogger()),
		WithRetry(2, time.Millisecond),
		WithRefreshDebounce(10 * time.Millisecond),
	}, extra...)
}

func newTestCache(t *testing.T, s RemoteStore, opts ...Option) (*Cache, *Registry) {
	t.Helper()
	opts = testOptions(opts...)
	registry, err := NewRegistry(opts...)
	require.NoError(t, err)
	cache, err := NewCache(s, registry, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cache.Close()
		_ = registry.Close()
	})
	return cache, registry
}

func entryIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func unavailable(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrUnavailable)
}
