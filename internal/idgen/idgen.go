// Package idgen generates and validates the two identifier kinds the control
// plane hands out: session IDs and run IDs.
package idgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// sessionIDPattern enforces lowercase alphanumeric segments joined by single
// hyphens: no uppercase, no leading/trailing/consecutive hyphens.
var sessionIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// MaxSessionIDLength is the maximum length of a SessionId.
const MaxSessionIDLength = 64

// ValidateSessionID reports whether id is a well-formed SessionId per §3.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("session id %q exceeds max length %d", id, MaxSessionIDLength)
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id %q does not match %s", id, sessionIDPattern.String())
	}
	return nil
}

// NewSessionID generates a fresh session ID: eight lowercase hex characters
// sliced from a UUIDv4, matching the source's crypto.randomUUID().slice(0,8)
// convention. UUID hex digits are always lowercase and alphanumeric, so the
// result always satisfies ValidateSessionID — both constraints (the regex and
// the hex-8 generator) are preserved rather than one being relaxed in favor
// of the other.
func NewSessionID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	id := raw[:8]
	if err := ValidateSessionID(id); err != nil {
		// Unreachable for well-formed UUIDs; guards against a future change
		// to the hex slice width silently producing invalid session ids.
		panic(fmt.Sprintf("idgen: generated session id failed validation: %v", err))
	}
	return id
}

// NewRunID generates a fresh run ID of the conventional form run-{8-hex}.
func NewRunID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "run-" + raw[:8]
}
