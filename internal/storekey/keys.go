// Package storekey centralizes the canonical object-store key layout from
// §4.2, so no other package hand-builds a key string.
package storekey

import "fmt"

// SessionIndex is the single object holding the session index.
func SessionIndex() string { return "sessions/_index.json" }

// Session is the full record for a single session.
func Session(sessionID string) string { return fmt.Sprintf("sessions/%s.json", sessionID) }

// SessionBackup is the opencode-storage backup archive for a session.
func SessionBackup(sessionID string) string {
	return fmt.Sprintf("sessions/%s/opencode-storage.tar.gz", sessionID)
}

// RunIndex is the single global object holding the run index.
func RunIndex() string { return "runs/_index.json" }

// Run is the full record for a single run.
func Run(runID string) string { return fmt.Sprintf("runs/%s.json", runID) }

// SessionsPrefix is the prefix under which every session record lives,
// excluding the index object itself.
const SessionsPrefix = "sessions/"

// RunsPrefix is the prefix under which every run record lives, excluding the
// index object itself.
const RunsPrefix = "runs/"
