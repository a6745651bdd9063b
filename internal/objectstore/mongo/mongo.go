// Package mongo provides a MongoDB-backed implementation of
// objectstore.Store: one collection holding {key, body, etag, updatedAt}
// documents, with conditional writes expressed as a filtered update.
package mongo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
)

const defaultOpTimeout = 5 * time.Second

// Options configures the Mongo-backed object store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a MongoDB-backed objectstore.Store.
type Store struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New returns a Store backed by MongoDB, creating the unique index on `key`
// if it does not already exist.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("objectstore/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("objectstore/mongo: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = "objects"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

type document struct {
	Key       string    `bson:"key"`
	Body      []byte    `bson:"body"`
	ETag      string    `bson:"etag"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, key string) (objectstore.Object, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return objectstore.Object{}, objectstore.ErrNotFound
		}
		return objectstore.Object{}, err
	}
	return objectstore.Object{Body: doc.Body, ETag: doc.ETag}, nil
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, key string, body []byte, ifMatchEtag string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	newEtag := computeEtag(body)
	now := time.Now().UTC()

	if ifMatchEtag == "" {
		// Unconditional create-or-overwrite.
		_, err := s.coll.UpdateOne(ctx, bson.M{"key": key}, bson.M{
			"$set": bson.M{"key": key, "body": body, "etag": newEtag, "updated_at": now},
		}, options.UpdateOne().SetUpsert(true))
		if err != nil {
			return "", err
		}
		return newEtag, nil
	}

	if ifMatchEtag == objectstore.IfAbsent {
		// Create-only: the unique index on "key" (see New) rejects a
		// concurrent writer's insert for the same key as a duplicate-key
		// error, which maps onto the same ErrConflict a losing conditional
		// update reports.
		_, err := s.coll.InsertOne(ctx, document{Key: key, Body: body, ETag: newEtag, UpdatedAt: now})
		if err != nil {
			if mongodriver.IsDuplicateKeyError(err) {
				return "", objectstore.Conflictf("put %q", key)
			}
			return "", err
		}
		return newEtag, nil
	}

	// Conditional write: only matches a document whose stored etag equals
	// ifMatchEtag. No matched document (missing key, or etag mismatch) means
	// the caller must retry against a fresh read.
	res, err := s.coll.UpdateOne(ctx, bson.M{"key": key, "etag": ifMatchEtag}, bson.M{
		"$set": bson.M{"key": key, "body": body, "etag": newEtag, "updated_at": now},
	})
	if err != nil {
		return "", err
	}
	if res.MatchedCount == 0 {
		return "", objectstore.Conflictf("put %q", key)
	}
	return newEtag, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"key": key})
	return err
}

// List implements objectstore.Store.
func (s *Store) List(ctx context.Context, prefix string, limit int, cursor string) (objectstore.Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keyFilter := bson.M{"$regex": "^" + regexEscape(prefix)}
	if cursor != "" {
		keyFilter["$gt"] = cursor
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "key", Value: 1}})
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit) + 1)
	}
	cur, err := s.coll.Find(ctx, bson.M{"key": keyFilter}, findOpts)
	if err != nil {
		return objectstore.Page{}, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var keys []string
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return objectstore.Page{}, err
		}
		keys = append(keys, doc.Key)
	}
	if err := cur.Err(); err != nil {
		return objectstore.Page{}, err
	}

	page := objectstore.Page{}
	if limit > 0 && len(keys) > limit {
		page.Keys = keys[:limit]
		page.Cursor = keys[limit-1]
	} else {
		page.Keys = keys
	}
	return page, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func computeEtag(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8])
}

func regexEscape(s string) string {
	replacer := strings.NewReplacer(
		".", `\.`, "*", `\*`, "+", `\+`, "?", `\?`, "(", `\(`, ")", `\)`,
		"[", `\[`, "]", `\]`, "{", `\{`, "}", `\}`, "^", `\^`, "$", `\$`, "|", `\|`,
	)
	return replacer.Replace(s)
}
