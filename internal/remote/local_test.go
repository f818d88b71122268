package remote

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/gallery/internal/compression"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), compression.LevelDefault, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLocalStoreRoundTrip(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := t.Context()

	data := bytes.Repeat([]byte("pixel"), 100)
	id, err := s.Put(ctx, data, PutRequest{Filename: "cat.png", ContentType: "image/png"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, id, metas[0].ID)
	assert.Equal(t, "cat.png", metas[0].Filename)
	assert.Equal(t, "image/png", metas[0].ContentType)
	assert.Equal(t, int64(len(data)), metas[0].Size)
	assert.False(t, metas[0].UploadedAt.IsZero())
}

func TestLocalStoreListOrder(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := t.Context()

	var ids []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		id, err := s.Put(ctx, []byte(name), PutRequest{Filename: name, ContentType: "image/png"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	for i, m := range metas {
		assert.Equal(t, ids[i], m.ID)
	}
}

func TestLocalStoreDelete(t *testing.T) {
	s := newTestLocalStore(t)
	ctx := t.Context()

	id, err := s.Put(ctx, []byte("x"), PutRequest{Filename: "x.gif", ContentType: "image/gif"})
	require.NoError(t, err)

	ok, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second delete should be declined")

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	metas, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := newTestLocalStore(t)

	_, err := s.Get(t.Context(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Delete(t.Context(), "../x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreMissingRoot(t *testing.T) {
	s := newTestLocalStore(t)
	require.NoError(t, os.RemoveAll(filepath.Join(s.basePath, "meta")))

	_, err := s.List(t.Context())
	assert.ErrorIs(t, err, ErrServiceNotDeployed)
}
