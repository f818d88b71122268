package gallery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCacheDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "gallery"), DefaultCacheDir())

	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", dir)
	assert.Equal(t, filepath.Join(dir, ".cache", "gallery"), DefaultCacheDir())
}

func TestDefaultOptionsDisablePayloadCache(t *testing.T) {
	opts := newOptions(nil)
	assert.Zero(t, opts.PayloadCacheSize)
	assert.Equal(t, DefaultCacheDir(), opts.CacheDir)
}
