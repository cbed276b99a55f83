package container

import "errors"

var (
	ErrKindMismatch     = errors.New("edit does not match container kind")
	ErrOutOfBounds      = errors.New("position out of bounds")
	ErrEmptyEdit        = errors.New("empty edit")
	ErrUnknownAnchor    = errors.New("unknown anchor element")
	ErrUnknownElement   = errors.New("unknown element")
	ErrNodeNotFound     = errors.New("tree node not found")
	ErrUnsupportedValue = errors.New("unsupported value")
	ErrInvalidState     = errors.New("invalid container state")

	// ErrCycleDetected is returned for a local move that would put a node
	// under its own subtree. Remote moves that would do so are recorded but
	// have no structural effect.
	ErrCycleDetected = errors.New("move would create a cycle")
)
