package position

import "errors"

// ErrInvalidPosition marks a detection that failed minimal legality
// validation (wrong rank widths, missing or duplicated kings, impossible
// piece counts). Callers treat it as expected vision noise: log and drop the
// frame, never escalate.
var ErrInvalidPosition = errors.New("invalid position")
