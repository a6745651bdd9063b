// Package objectstore defines the generic object-store contract the control
// plane assumes (§4.2): get/put/delete/list with conditional writes gated by
// an opaque ETag. The store itself is an external collaborator — this
// package only fixes the interface and the error taxonomy so the rest of the
// core can be written against it, plus the backends the domain stack wires up
// (memory, mongo, redis).
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// Object is a single stored value together with its opaque concurrency token.
type Object struct {
	Body []byte
	ETag string
}

// ErrConflict is returned by Put when ifMatchEtag does not match the stored
// ETag (or the object doesn't exist but a non-empty ifMatchEtag was given).
// Callers treat this the same as Put returning a null ETag in the source
// design: retry with a freshly read ETag.
var ErrConflict = errors.New("objectstore: conditional write conflict")

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("objectstore: key not found")

// IfAbsent is a reserved ifMatchEtag sentinel meaning "create key only if it
// does not currently exist" — the create-only counterpart to the empty
// string's "create or overwrite unconditionally". It is never a value
// computeEtag can produce in any backend, so it cannot collide with a real
// ETag. Callers implementing the read-patch-conditional-put index protocol
// (§4.2) pass this on the very first write of a key that read as absent, so
// a concurrent first writer is caught as ErrConflict instead of silently
// clobbered by whichever unconditional write lands last.
const IfAbsent = "if-absent"

// Page is one page of a List call.
type Page struct {
	Keys   []string
	Cursor string // empty when there are no further pages
}

// Store is the minimal contract the core requires of the object store.
//
// Implementations must be linearizable per key: a successful Put with a
// matching ifMatchEtag must be visible to every subsequent Get on that key.
// List need not be linearizable with concurrent Put/Delete — callers that
// need a consistent view read a single index object instead of listing (§4.2
// "Listing reads the index only; never iterates the bucket").
type Store interface {
	// Get fetches the current value and ETag for key. Returns ErrNotFound if
	// the key does not exist.
	Get(ctx context.Context, key string) (Object, error)

	// Put writes body to key. If ifMatchEtag is non-empty, the write only
	// succeeds if the stored ETag currently equals ifMatchEtag; IfAbsent only
	// succeeds if the key does not currently exist; an empty ifMatchEtag
	// means "create or overwrite unconditionally". Returns the new ETag on
	// success, or ErrConflict if the precondition failed.
	Put(ctx context.Context, key string, body []byte, ifMatchEtag string) (string, error)

	// Delete removes key. Deleting a missing key is a no-op (no error).
	Delete(ctx context.Context, key string) error

	// List returns up to limit keys with the given prefix, starting after
	// cursor (empty cursor starts from the beginning).
	List(ctx context.Context, prefix string, limit int, cursor string) (Page, error)
}

// Conflictf wraps an underlying conflict with additional context, preserving
// errors.Is(err, ErrConflict).
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}
