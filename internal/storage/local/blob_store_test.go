package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archive")
		store, err := New(Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "writability probe should be removed")
	})

	t.Run("rejects empty base dir", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{BaseDir: "  "})
		require.Error(t, err)
	})

	t.Run("rejects file path", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := New(Config{BaseDir: file})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/company-1/abc.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)

	want := filepath.Join(dir, "pages", "company-1", "abc.html")
	assert.Equal(t, "file://"+filepath.ToSlash(want), uri)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(got))

	_, err = store.PutObject(context.Background(), "pages/company-1/abc.html", "text/html", []byte("v2"))
	require.NoError(t, err)
	got, err = os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	leftovers, err := filepath.Glob(filepath.Join(dir, "pages", "company-1", ".put-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPutObject_RejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "text/html", nil)
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "../outside.html", "text/html", []byte("x"))
	require.ErrorIs(t, err, ErrPathEscapes)
}
