package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when a media object does not exist.
var ErrObjectNotFound = errors.New("media object not found")

// ErrInvalidPath is returned for names that escape the media root.
var ErrInvalidPath = errors.New("invalid media path")

// MediaObject is an open playlist, segment or other media file.
type MediaObject struct {
	io.ReadSeekCloser
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// MediaStore reads converted media and, for remote backends, receives the
// finished output of a job.
type MediaStore interface {
	// Open returns the object at name, a slash-separated path relative to the
	// media root such as "Lecture1_1000/720p_003.ts".
	Open(ctx context.Context, name string) (*MediaObject, error)
	// Publish makes every file under dir available below prefix.
	Publish(ctx context.Context, dir, prefix string) error
}

// CleanMediaPath normalises a request path and rejects anything that is not a
// plain relative file path below the media root.
func CleanMediaPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "\\") || strings.ContainsRune(name, 0) {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// ContentTypeFor picks the response type from the file extension.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".m4s", ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// LocalStore serves media straight from the output directory tree.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) Open(_ context.Context, name string) (*MediaObject, error) {
	cleaned, err := CleanMediaPath(name)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.root, filepath.FromSlash(cleaned))
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", cleaned, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", cleaned, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrObjectNotFound
	}
	return &MediaObject{
		ReadSeekCloser: f,
		Name:           cleaned,
		Size:           info.Size(),
		ModTime:        info.ModTime(),
		ContentType:    ContentTypeFor(cleaned),
	}, nil
}

// Publish is a no-op: jobs already write into the local media root.
func (s *LocalStore) Publish(context.Context, string, string) error {
	return nil
}
