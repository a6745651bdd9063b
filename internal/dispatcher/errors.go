package dispatcher

import "github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"

// newValidationError builds the structured error returned when a tool input
// fails schema validation (§4.4 "violations return a structured error with
// code and message matching the schema failure").
func newValidationError(message string) *ctlerrors.Error {
	return ctlerrors.New(ctlerrors.KindValidation, "INPUT_INVALID", message)
}

// sessionNotFoundError builds SessionNotFoundError(sessionId) (§4.4 run_task
// step 1).
func sessionNotFoundError(sessionID string) *ctlerrors.Error {
	return ctlerrors.Newf(ctlerrors.KindNotFound, "SessionNotFoundError", "Session %q not found", sessionID)
}

// runNotFoundError builds RunNotFoundError (§4.4 get_result).
func runNotFoundError(runID string) *ctlerrors.Error {
	return ctlerrors.Newf(ctlerrors.KindNotFound, "RunNotFoundError", "Run %q not found", runID)
}
