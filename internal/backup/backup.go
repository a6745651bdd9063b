// Package backup implements the backup-session step of the task workflow
// (§4.3 step 5, component H): archiving the agent's state directory inside
// a sandbox and persisting it to the object store so a later session on a
// fresh sandbox can restore it (internal/sandbox.EnsureSandboxReady's
// restore half of the same round trip).
//
// Backup itself returns ordinary errors rather than swallowing them —
// "backup is advisory, never causal to run success" is a property of how
// the workflow step treats this package's result, not something this
// package should hide from its own tests or callers.
package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
	"github.com/mattzcarey/sandbox-mcp/internal/storekey"
)

const (
	agentStateDir = "~/.local/share/opencode"
	archivePath   = "/tmp/opencode-storage.tar.gz"
)

// Result reports whether a backup archive was actually produced and stored.
type Result struct {
	Archived bool
}

// Backup tars the agent's storage/ directory, uploads the archive to
// sessions/{sessionID}/opencode-storage.tar.gz, and removes the temp file.
// If the storage directory doesn't exist (no agent state to back up), it
// returns Result{Archived:false} with no error.
func Backup(ctx context.Context, h sandbox.Handle, objects objectstore.Store, sessionID string) (Result, error) {
	tarCmd := []string{"sh", "-c", fmt.Sprintf("tar -czf %s -C %s storage", archivePath, agentStateDir)}
	if _, err := h.Exec(ctx, tarCmd, sandbox.ExecOptions{}); err != nil {
		return Result{}, fmt.Errorf("tar agent state: %w", err)
	}

	exists, err := h.FileExists(ctx, archivePath)
	if err != nil {
		return Result{}, fmt.Errorf("check archive: %w", err)
	}
	if !exists {
		return Result{Archived: false}, nil
	}

	rc, err := h.ReadFile(ctx, archivePath)
	if err != nil {
		return Result{}, fmt.Errorf("read archive: %w", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return Result{}, fmt.Errorf("read archive: %w", err)
	}

	if _, err := objects.Put(ctx, storekey.SessionBackup(sessionID), body, ""); err != nil {
		return Result{}, fmt.Errorf("store archive: %w", err)
	}

	if _, err := h.Exec(ctx, []string{"rm", "-f", archivePath}, sandbox.ExecOptions{}); err != nil {
		return Result{}, fmt.Errorf("remove temp archive: %w", err)
	}

	return Result{Archived: true}, nil
}
