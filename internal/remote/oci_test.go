package remote

import (
	"bytes"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOCIStore(t *testing.T) *OCIStore {
	t.Helper()
	srv := httptest.NewServer(registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	host := strings.TrimPrefix(srv.URL, "http://")
	s, err := NewOCIStore(host+"/gallery/images", StaticAuthenticator{}, logger)
	require.NoError(t, err)
	s.SetConcurrency(2)
	return s
}

func TestOCIStoreEmptyRepository(t *testing.T) {
	s := newTestOCIStore(t)

	metas, err := s.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestOCIStoreRoundTrip(t *testing.T) {
	s := newTestOCIStore(t)
	ctx := t.Context()

	data := bytes.Repeat([]byte("GIF89a"), 64)
	id, err := s.Put(ctx, data, PutRequest{Filename: "spin.gif", ContentType: "image/gif"})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	second, err := s.Put(ctx, []byte("tiny"), PutRequest{Filename: "b.png", ContentType: "image/png"})
	require.NoError(t, err)

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, id, metas[0].ID)
	assert.Equal(t, "spin.gif", metas[0].Filename)
	assert.Equal(t, "image/gif", metas[0].ContentType)
	assert.Equal(t, int64(len(data)), metas[0].Size)
	assert.Equal(t, second, metas[1].ID)
}

func TestOCIStoreDelete(t *testing.T) {
	s := newTestOCIStore(t)
	ctx := t.Context()

	id, err := s.Put(ctx, []byte("x"), PutRequest{Filename: "x.png", ContentType: "image/png"})
	require.NoError(t, err)

	ok, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	metas, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestOCIStoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	s, err := NewOCIStore(host+"/gallery", nil, nil)
	require.NoError(t, err)

	_, err = s.List(t.Context())
	assert.ErrorIs(t, err, ErrUnavailable)
}
