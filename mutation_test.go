package gallery

import (
	"bytes"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressRecorder struct {
	mu     sync.Mutex
	values []int
}

func (r *progressRecorder) report(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, p)
}

func (r *progressRecorder) got() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.values...)
}

func newTestCoordinator(t *testing.T, s RemoteStore, opts ...Option) (*Coordinator, *Cache, *Registry) {
	t.Helper()
	cache, registry := newTestCache(t, s, opts...)
	return NewCoordinator(s, cache, testOptions(opts...)...), cache, registry
}

func TestUploadRefreshesBeforeReturning(t *testing.T) {
	s := newFakeStore()
	m, cache, _ := newTestCoordinator(t, s)

	var progress progressRecorder
	id, err := m.Upload(t.Context(), []byte("png bytes"), "cat.png", "image/png", progress.report)
	require.NoError(t, err)

	if diff := cmp.Diff([]int{25, 100}, progress.got()); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}

	entry, err := cache.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", entry.Filename)
	assert.Equal(t, "image/png", entry.ContentType)
	assert.Equal(t, int64(9), entry.Size)
	assert.Equal(t, 1, s.count("put"))
	assert.Equal(t, 1, s.count("list"))
}

func TestUploadValidation(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		filename    string
		contentType string
		field       string
	}{
		{"empty payload", nil, "a.png", "image/png", "data"},
		{"too large", bytes.Repeat([]byte{1}, DefaultMaxUploadSize+1), "a.png", "image/png", "data"},
		{"wrong type", []byte("%PDF"), "a.pdf", "application/pdf", "contentType"},
		{"missing type", []byte("x"), "a.bin", "", "contentType"},
		{"blank filename", []byte("x"), "  ", "image/png", "filename"},
		{"path in filename", []byte("x"), "../a.png", "image/png", "filename"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeStore()
			m, _, _ := newTestCoordinator(t, s)

			var progress progressRecorder
			_, err := m.Upload(t.Context(), tt.data, tt.filename, tt.contentType, progress.report)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.False(t, Transient(err))

			assert.Zero(t, s.count("put"), "store must not be called")
			assert.Equal(t, []int{0}, progress.got())
		})
	}
}

func TestUploadAcceptsExactLimit(t *testing.T) {
	s := newFakeStore()
	m, _, _ := newTestCoordinator(t, s, WithMaxUploadSize(16))

	_, err := m.Upload(t.Context(), bytes.Repeat([]byte{1}, 16), "a.png", "image/png", nil)
	require.NoError(t, err)
	_, err = m.Upload(t.Context(), bytes.Repeat([]byte{1}, 17), "a.png", "image/png", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUploadDefaultsContentType(t *testing.T) {
	s := newFakeStore()
	m, cache, _ := newTestCoordinator(t, s, WithAllowedContentTypes("image/png", DefaultContentType))

	id, err := m.Upload(t.Context(), []byte("raw"), "raw.bin", "", nil)
	require.NoError(t, err)

	entry, err := cache.Get(id)
	require.NoError(t, err)
	assert.Equal(t, DefaultContentType, entry.ContentType)
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	s := newFakeStore()
	s.putErr = []error{unavailable("503")}
	m, _, _ := newTestCoordinator(t, s)

	var progress progressRecorder
	_, err := m.Upload(t.Context(), []byte("x"), "a.png", "image/png", progress.report)
	require.NoError(t, err)
	assert.Equal(t, 2, s.count("put"))
	assert.Equal(t, []int{25, 100}, progress.got())
}

func TestUploadFailureResetsProgress(t *testing.T) {
	s := newFakeStore()
	s.putErr = []error{unavailable("503"), unavailable("503"), unavailable("503")}
	m, cache, registry := newTestCoordinator(t, s)

	var progress progressRecorder
	id, err := m.Upload(t.Context(), []byte("x"), "a.png", "image/png", progress.report)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, id)
	assert.Equal(t, 3, s.count("put"))
	assert.Equal(t, []int{25, 0}, progress.got())

	assert.Zero(t, s.count("list"))
	assert.Empty(t, cache.Entries())
	assert.Zero(t, registry.Stats().LiveHandles)
}

func TestUploadServiceNotDeployedIsNotRetried(t *testing.T) {
	s := newFakeStore()
	s.putErr = []error{ErrServiceNotDeployed}
	m, _, _ := newTestCoordinator(t, s)

	_, err := m.Upload(t.Context(), []byte("x"), "a.png", "image/png", nil)
	require.ErrorIs(t, err, ErrServiceNotDeployed)
	assert.Equal(t, 1, s.count("put"))
}

func TestUploadSucceedsWhenRefreshFails(t *testing.T) {
	s := newFakeStore()
	s.listErr = []error{unavailable("down")}
	m, cache, _ := newTestCoordinator(t, s, WithRetry(0, 0))

	id, err := m.Upload(t.Context(), []byte("x"), "a.png", "image/png", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	state := cache.State()
	assert.Equal(t, StatusError, state.Status)
	assert.ErrorIs(t, state.LastError, ErrUnavailable)
}

func TestConcurrentUploadsReportMonotonicProgress(t *testing.T) {
	s := newFakeStore()
	m, cache, _ := newTestCoordinator(t, s)

	const n = 8
	recorders := make([]progressRecorder, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Upload(t.Context(), []byte{byte(i)}, "a.png", "image/png", recorders[i].report)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i := range recorders {
		assert.Equal(t, []int{25, 100}, recorders[i].got())
	}

	state, err := cache.Refresh(t.Context())
	require.NoError(t, err)
	assert.Len(t, state.Entries, n)
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	var rec progressRecorder
	p := newProgress(rec.report)

	p.report(25)
	p.report(10)
	p.report(100)
	p.report(100)
	p.report(50)

	assert.Equal(t, []int{25, 100}, rec.got())
}

func TestDeleteRemovesEntry(t *testing.T) {
	s := newFakeStore()
	ids := s.seed(t, "a.png", "b.png")
	m, cache, registry := newTestCoordinator(t, s)

	before, err := cache.Refresh(t.Context())
	require.NoError(t, err)

	require.NoError(t, m.Delete(t.Context(), ids[0]))

	assert.Equal(t, []string{ids[1]}, entryIDs(cache.Entries()))
	assert.False(t, before.Entries[0].Handle.Live())
	assert.Equal(t, 1, registry.Stats().LiveHandles)
	assert.Equal(t, 2, s.count("list"))
}

func TestDeleteRejected(t *testing.T) {
	s := newFakeStore()
	ids := s.seed(t, "a.png")
	s.decline[ids[0]] = true
	m, cache, _ := newTestCoordinator(t, s)

	before, err := cache.Refresh(t.Context())
	require.NoError(t, err)

	err = m.Delete(t.Context(), ids[0])
	require.ErrorIs(t, err, ErrDeleteRejected)
	assert.False(t, Transient(err))
	assert.Equal(t, 1, s.count("delete"), "rejection is not retried")

	entry, err := cache.Get(ids[0])
	require.NoError(t, err)
	assert.True(t, entry.Handle.Live())
	assert.Same(t, before.Entries[0].Handle, entry.Handle)
}

func TestDeleteRetriesTransientFailure(t *testing.T) {
	s := newFakeStore()
	ids := s.seed(t, "a.png")
	s.delErr = []error{unavailable("reset")}
	m, _, _ := newTestCoordinator(t, s)

	require.NoError(t, m.Delete(t.Context(), ids[0]))
	assert.Equal(t, 2, s.count("delete"))
}

func TestDeleteEmptyID(t *testing.T) {
	s := newFakeStore()
	m, _, _ := newTestCoordinator(t, s)

	err := m.Delete(t.Context(), "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, s.count("delete"))
}
