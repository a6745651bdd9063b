// Package memory provides an in-memory implementation of objectstore.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable backend (objectstore/mongo or objectstore/redis).
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
)

// Store is an in-memory implementation of objectstore.Store. Safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
}

type entry struct {
	body []byte
	etag string
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]entry)}
}

// Get implements objectstore.Store.
func (s *Store) Get(_ context.Context, key string) (objectstore.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key]
	if !ok {
		return objectstore.Object{}, objectstore.ErrNotFound
	}
	return objectstore.Object{Body: cloneBytes(e.body), ETag: e.etag}, nil
}

// Put implements objectstore.Store.
func (s *Store) Put(_ context.Context, key string, body []byte, ifMatchEtag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.objects[key]
	switch ifMatchEtag {
	case "":
		// unconditional create-or-overwrite
	case objectstore.IfAbsent:
		if ok {
			return "", objectstore.Conflictf("put %q", key)
		}
	default:
		if !ok || existing.etag != ifMatchEtag {
			return "", objectstore.Conflictf("put %q", key)
		}
	}

	newEtag := computeEtag(body)
	s.objects[key] = entry{body: cloneBytes(body), etag: newEtag}
	return newEtag, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// List implements objectstore.Store.
func (s *Store) List(_ context.Context, prefix string, limit int, cursor string) (objectstore.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		for i, k := range keys {
			if k > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if limit <= 0 {
		limit = len(keys)
	}
	end := start + limit
	if end > len(keys) {
		end = len(keys)
	}
	page := objectstore.Page{Keys: append([]string(nil), keys[start:end]...)}
	if end < len(keys) {
		page.Cursor = keys[end-1]
	}
	return page, nil
}

func computeEtag(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8])
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
