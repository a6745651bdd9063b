// Package idxupdate implements the optimistic-concurrency index update
// protocol shared by the session and run stores (§4.2 "Index update
// protocol"): read-patch-conditional-put, retried with exponential backoff on
// conflict.
//
// Grounded on the teacher's runtime/a2a/retry package (Config/Do/backoff
// calculation shape), simplified to the spec's fixed parameters (3 additional
// attempts, base 10ms, factor 2, no jitter — the spec names exact constants,
// so this does not need retry's configurable jitter knob).
package idxupdate

import (
	"context"
	"errors"
	"time"

	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
)

// MaxRetries is the number of additional attempts after the first (§4.2: "up
// to 3 additional attempts").
const MaxRetries = 3

// BaseDelay is the first retry's backoff.
const BaseDelay = 10 * time.Millisecond

// Factor is the exponential backoff multiplier.
const Factor = 2

// Patch transforms the current decoded index contents (nil if the index
// object did not yet exist) into the next version to write.
type Patch func(current []byte, exists bool) ([]byte, error)

// Apply runs the read-patch-conditional-put loop against key, retrying on
// objectstore.ErrConflict with exponential backoff. name is used only for the
// error message on exhaustion (§4.2 "surface Storage Write Error naming
// _index"). When key reads as absent, the conditional put uses
// objectstore.IfAbsent rather than an unconditional write, so a concurrent
// writer creating the same key for the first time is caught as a conflict
// and retried instead of one writer's index silently clobbering the
// other's.
func Apply(ctx context.Context, store objectstore.Store, key, name string, patch Patch) error {
	delay := BaseDelay
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= Factor
		}

		obj, err := store.Get(ctx, key)
		exists := true
		etag := objectstore.IfAbsent
		var current []byte
		switch {
		case errors.Is(err, objectstore.ErrNotFound):
			exists = false
		case err != nil:
			return ctlerrors.StorageReadErrorf("read %s: %v", name, err)
		default:
			etag = obj.ETag
			current = obj.Body
		}

		next, err := patch(current, exists)
		if err != nil {
			return err
		}

		if _, err := store.Put(ctx, key, next, etag); err != nil {
			if errors.Is(err, objectstore.ErrConflict) {
				lastErr = err
				continue
			}
			return ctlerrors.StorageWriteErrorf("write %s: %v", name, err)
		}
		return nil
	}
	return ctlerrors.StorageWriteErrorf("%s: exhausted %d retries: %v", name, MaxRetries, lastErr)
}
