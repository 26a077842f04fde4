package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryGateway stores objects in process memory. It backs tests and
// single-process development setups.
type MemoryGateway struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

func NewMemoryGateway(baseURL string) *MemoryGateway {
	return &MemoryGateway{
		objects: make(map[string][]byte),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (g *MemoryGateway) Put(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("objectstore: empty key")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.objects[key] = data
	g.mu.Unlock()
	return g.URL(key), nil
}

func (g *MemoryGateway) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	g.mu.RLock()
	data, ok := g.objects[strings.TrimLeft(key, "/")]
	g.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (g *MemoryGateway) URL(key string) string {
	key = strings.TrimLeft(key, "/")
	if g.baseURL == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", g.baseURL, key)
}

// Keys returns the stored keys. Used by tests to assert upload layouts.
func (g *MemoryGateway) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.objects))
	for key := range g.objects {
		keys = append(keys, key)
	}
	return keys
}

var _ Gateway = (*MemoryGateway)(nil)
