// Package redis provides a Redis-backed implementation of objectstore.Store.
// Redis has no native ETag primitive, so conditional writes are emulated with
// an etag field compared inside a Lua script. The etag is the hex of the
// first 8 bytes of the body's SHA-256, not a version counter: writing the
// same body again yields the same etag.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
)

// casScript atomically compares the stored etag (hash field "etag") against
// ARGV[1] (the expected etag) before overwriting both fields. An empty
// ARGV[1] means "unconditional": it always proceeds. ARGV[1] equal to the
// literal objectstore.IfAbsent sentinel means "create only": it proceeds
// only if the key does not currently exist. Returns the new etag on
// success, or the sentinel "CONFLICT" when the precondition fails.
const casScript = `
local key = KEYS[1]
local expected = ARGV[1]
local body = ARGV[2]
local newEtag = ARGV[3]
if expected == "if-absent" then
	if redis.call("EXISTS", key) == 1 then
		return "CONFLICT"
	end
elseif expected ~= "" then
	local current = redis.call("HGET", key, "etag")
	if current ~= expected then
		return "CONFLICT"
	end
end
redis.call("HSET", key, "body", body, "etag", newEtag)
redis.call("SADD", KEYS[2], key)
return newEtag
`

// Options configures the Redis-backed object store.
type Options struct {
	Client *goredis.Client
	// IndexSet is the name of the Redis set used to track all stored keys so
	// List can enumerate them without a KEYS/SCAN sweep across the whole
	// keyspace. Defaults to "objectstore:keys".
	IndexSet string
}

// Store is a Redis-backed objectstore.Store.
type Store struct {
	client   *goredis.Client
	indexSet string
	cas      *goredis.Script
}

// New returns a Store backed by Redis.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("objectstore/redis: client is required")
	}
	indexSet := opts.IndexSet
	if indexSet == "" {
		indexSet = "objectstore:keys"
	}
	return &Store{
		client:   opts.Client,
		indexSet: indexSet,
		cas:      goredis.NewScript(casScript),
	}, nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, key string) (objectstore.Object, error) {
	vals, err := s.client.HMGet(ctx, key, "body", "etag").Result()
	if err != nil {
		return objectstore.Object{}, err
	}
	if vals[0] == nil || vals[1] == nil {
		return objectstore.Object{}, objectstore.ErrNotFound
	}
	body, _ := vals[0].(string)
	etag, _ := vals[1].(string)
	return objectstore.Object{Body: []byte(body), ETag: etag}, nil
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, key string, body []byte, ifMatchEtag string) (string, error) {
	newEtag := computeEtag(body)
	res, err := s.cas.Run(ctx, s.client, []string{key, s.indexSet}, ifMatchEtag, string(body), newEtag).Result()
	if err != nil {
		return "", err
	}
	out, _ := res.(string)
	if out == "CONFLICT" {
		return "", objectstore.Conflictf("put %q", key)
	}
	return out, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.indexSet, key)
	_, err := pipe.Exec(ctx)
	return err
}

// List implements objectstore.Store.
func (s *Store) List(ctx context.Context, prefix string, limit int, cursor string) (objectstore.Page, error) {
	all, err := s.client.SMembers(ctx, s.indexSet).Result()
	if err != nil {
		return objectstore.Page{}, err
	}
	var keys []string
	for _, k := range all {
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
