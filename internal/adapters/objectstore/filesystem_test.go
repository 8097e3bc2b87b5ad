package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(FileStoreOptions{
		Root:       t.TempDir(),
		BaseURL:    "https://cdn.example.com/",
		PublicPath: "/files/",
	})
	require.NoError(t, err)
	return s
}

func TestNewFileStore_RequiresRoot(t *testing.T) {
	_, err := NewFileStore(FileStoreOptions{Root: "  "})
	require.Error(t, err)
}

func TestFileStore_PutGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ref, err := s.Put(ctx, "/masters/owner-1/job-1.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "masters/owner-1/job-1.png", ref)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), got)

	// Overwrite replaces the content.
	_, err = s.Put(ctx, ref, []byte("v2"), "image/png")
	require.NoError(t, err)
	got, err = s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "masters", "owner-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_GetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "outputs/none.jpg")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "../etc/passwd", "a/../../b", ".", "..\\win"} {
		_, err := s.Put(ctx, key, []byte("x"), "")
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}
	_, err := s.Get(ctx, "../secret")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestFileStore_CanceledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Put(ctx, "a.png", []byte("x"), "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileStore_PublicURL(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, "https://cdn.example.com/files/outputs/j/instagram_story.jpg", s.PublicURL("outputs/j/instagram_story.jpg"))
	assert.Empty(t, s.PublicURL(""))

	bare, err := NewFileStore(FileStoreOptions{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "/a.png", bare.PublicURL("a.png"))
}

func TestFileStore_Handler(t *testing.T) {
	s := newStore(t)
	_, err := s.Put(context.Background(), "outputs/j/a.txt", []byte("hello"), "text/plain")
	require.NoError(t, err)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/outputs/j/a.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/outputs/j/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/outputs/j/missing.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
