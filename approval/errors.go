package approval

import "errors"

// Sentinel errors for the approval gate. All of them are client or
// programmer misuse, surfaced explicitly rather than silently ignored.
var (
	ErrDuplicatePending = errors.New("tool call already proposed")
	ErrAlreadyResolved  = errors.New("tool call already resolved")
	ErrUnknownPending   = errors.New("unknown pending tool call")
	ErrInvalidDecision  = errors.New("invalid approval decision")
)
