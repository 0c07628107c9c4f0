package blob

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps blobs in process. Used by tests and the default local setup.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	base    string
	now     func() time.Time
}

type memObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// NewMemory returns an empty store whose URLs start with base.
func NewMemory(base string) *Memory {
	if base == "" {
		base = "memory://blobs"
	}
	return &Memory{
		objects: make(map[string]memObject),
		base:    base,
		now:     time.Now,
	}
}

// SetClock overrides the modification time source.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), contentType: contentType, modTime: m.now()}
	return joinURL(m.base, key), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Get returns the stored bytes and content type.
func (m *Memory) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// ServeHTTP serves a blob by key; mount it behind http.StripPrefix.
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := m.Get(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	_, _ = w.Write(data)
}

// Len reports the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *Memory) URL(key string) string { return joinURL(m.base, key) }

func (m *Memory) KeyFromURL(url string) (string, bool) { return keyFromURL(m.base, url) }

func (m *Memory) List(ctx context.Context, prefix string, olderThan time.Time) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Object
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !olderThan.IsZero() && !obj.modTime.Before(olderThan) {
			continue
		}
		out = append(out, Object{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
