package run

import (
	"context"
	"time"

	"github.com/mattzcarey/sandbox-mcp/internal/telemetry"
)

// staleErrorMessage is stamped onto a run's Result.Error when the sweeper
// reclaims it, distinguishing a stranded run from a genuine agent failure.
const staleErrorMessage = "stranded: workflow did not reach complete-run"

// Sweeper periodically reclaims runs stuck in StatusStarted past a grace
// period (§7 / Open Questions: "the workflow step that fails before
// complete-run leaves the run in status:started; reconciliation is not
// specified in the source... an implementer may add a sweeper"). It never
// touches a run once it reaches a terminal state.
//
// Grounded on bureau-foundation-bureau's cmd/bureau-daemon pollLoop
// (ticker + ctx.Done select loop calling a reconcile method on each tick).
type Sweeper struct {
	store *Store
	logger telemetry.Logger

	// Interval is how often the sweeper scans for stranded runs.
	Interval time.Duration
	// Grace is how long a run may sit in StatusStarted before it is
	// considered stranded.
	Grace time.Duration
}

// NewSweeper returns a Sweeper over store with the given scan interval and
// grace period. logger defaults to a no-op if nil.
func NewSweeper(store *Store, interval, grace time.Duration, logger telemetry.Logger) *Sweeper {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Sweeper{store: store, logger: logger, Interval: interval, Grace: grace}
}

// Run blocks, sweeping on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Warn(ctx, "run sweeper: sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep runs one scan: any run with status=started and StartedAt older than
// Grace is transitioned to failed via CompleteRun, exactly the transition
// complete-run itself would have made had the workflow reached it.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := nowFunc() - s.Grace.Milliseconds()

	res, err := s.store.ListRuns(ctx, ListFilter{Status: StatusStarted, Limit: 0})
	if err != nil {
		return err
	}
	if res.Total > len(res.Entries) {
		// ListRuns caps at 100 entries by default; re-fetch with the true
		// count so a large backlog of stranded runs doesn't leave the oldest
		// ones (the ones most overdue for reclamation) permanently unswept.
		res, err = s.store.ListRuns(ctx, ListFilter{Status: StatusStarted, Limit: res.Total})
		if err != nil {
			return err
		}
	}

	for _, entry := range res.Entries {
		if entry.StartedAt >= cutoff {
			continue
		}
		if _, err := s.store.CompleteRun(ctx, entry.RunID, CompleteParams{
			Success: false,
			Error:   staleErrorMessage,
		}); err != nil {
			s.logger.Warn(ctx, "run sweeper: failed to reclaim stranded run", "runId", entry.RunID, "error", err.Error())
		}
	}
	return nil
}
