package ol

import "errors"

var (
	// ErrInvalidReplica is returned when allocating ids for a peer that is
	// not the log's active peer, has been retired, or is reserved.
	ErrInvalidReplica = errors.New("invalid replica")

	// ErrDuplicateOperation is returned when appending an op whose id is
	// already present.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrNotFound is returned when an id is not in the log.
	ErrNotFound = errors.New("not found")

	// ErrMissingDependency is returned when an op is appended before one of
	// its causal dependencies.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrInvalidOperation is returned for structurally malformed ops.
	ErrInvalidOperation = errors.New("invalid operation")
)
