package analysis

import "errors"

var (
	// ErrNoAnalysis means no entry has been committed yet (first position
	// still computing). Callers should surface "please wait" rather than
	// guess an answer.
	ErrNoAnalysis = errors.New("no analysis available yet")

	// ErrStaleCommit means a computation finished after its ticket was
	// superseded; the result is discarded. Internal no-op, never user-facing.
	ErrStaleCommit = errors.New("stale commit discarded")
)
