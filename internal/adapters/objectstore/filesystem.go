// Package objectstore keeps master images and rendered outputs on the local filesystem.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/target/smart-resizer/internal/core"
)

var (
	// ErrInvalidKey is returned for empty keys and keys that escape the root.
	ErrInvalidKey = errors.New("objectstore: invalid key")
	// ErrNotFound is returned by Get when nothing is stored under the ref.
	ErrNotFound = errors.New("objectstore: object not found")
)

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	// Root is the directory objects are written under. It is created when missing.
	Root string
	// BaseURL is the externally visible origin, e.g. "https://resizer.example.com".
	// Empty yields root-relative URLs.
	BaseURL string
	// PublicPath is the URL path the Handler is mounted on.
	PublicPath string
}

// FileStore persists objects as files. Refs are the cleaned, slash-separated keys.
type FileStore struct {
	root       string
	baseURL    string
	publicPath string
}

var _ core.ObjectStore = (*FileStore)(nil)

// NewFileStore initializes a FileStore rooted at opts.Root.
func NewFileStore(opts FileStoreOptions) (*FileStore, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, errors.New("objectstore: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: ensure root: %w", err)
	}
	publicPath := "/" + strings.Trim(strings.TrimSpace(opts.PublicPath), "/")
	if publicPath == "/" {
		publicPath = ""
	}
	return &FileStore{
		root:       root,
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		publicPath: publicPath,
	}, nil
}

// Root returns the configured directory.
func (s *FileStore) Root() string { return s.root }

// Put writes data under key. The file is renamed into place so readers never observe a
// partial write.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	full := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("objectstore: ensure directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return "", fmt.Errorf("objectstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("objectstore: write %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("objectstore: close %s: %w", ref, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("objectstore: chmod %s: %w", ref, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("objectstore: rename %s: %w", ref, err)
	}
	return ref, nil
}

// Get reads the object stored under ref.
func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := sanitizeKey(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return nil, fmt.Errorf("objectstore: read %s: %w", clean, err)
	}
	return data, nil
}

// PublicURL returns where the Handler serves ref.
func (s *FileStore) PublicURL(ref string) string {
	if ref == "" {
		return ""
	}
	return s.baseURL + s.publicPath + "/" + strings.TrimLeft(ref, "/")
}

// Handler serves stored objects below the public path. Directory listings are refused.
func (s *FileStore) Handler() http.Handler {
	files := http.FileServerFS(os.DirFS(s.root))
	return http.StripPrefix(s.publicPath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		if _, err := sanitizeKey(r.URL.Path); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, r)
	}))
}

func (s *FileStore) path(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	key = strings.ReplaceAll(key, "\\", "/")
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	key = strings.TrimLeft(strings.TrimPrefix(key, "./"), "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == "" || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
