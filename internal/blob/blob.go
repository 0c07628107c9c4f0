// Package blob stores uploaded image bytes under caller-chosen keys and maps
// keys to public URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidKey reports a key that is empty or escapes the store root.
var ErrInvalidKey = errors.New("blob: invalid key")

// Object is one listed blob.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the object storage collaborator.
type Store interface {
	// Put writes data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
	// KeyFromURL reverses URL for URLs this store produced.
	KeyFromURL(url string) (string, bool)
	// List returns blobs under prefix last modified before olderThan. A zero
	// olderThan lists everything.
	List(ctx context.Context, prefix string, olderThan time.Time) ([]Object, error)
}

// CleanKey validates a relative object key.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if strings.ContainsAny(key, "\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

func keyFromURL(base, url string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key, err := CleanKey(strings.TrimPrefix(url, prefix))
	if err != nil {
		return "", false
	}
	return key, true
}
