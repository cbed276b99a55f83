package doc

import (
	"errors"

	"github.com/kevinxiao27/crdoc/codec"
	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
)

// Errors returned by Document. Lower layers define most of them; they are
// repeated here so callers only need to import this package.
var (
	ErrInvalidReplica     = ol.ErrInvalidReplica
	ErrDuplicateOperation = ol.ErrDuplicateOperation
	ErrNotFound           = ol.ErrNotFound
	ErrMissingDependency  = ol.ErrMissingDependency
	ErrInvalidOperation   = ol.ErrInvalidOperation

	ErrCorruptEncoding    = codec.ErrCorruptEncoding
	ErrUnsupportedVersion = codec.ErrUnsupportedVersion

	ErrCycleDetected    = container.ErrCycleDetected
	ErrOutOfBounds      = container.ErrOutOfBounds
	ErrEmptyEdit        = container.ErrEmptyEdit
	ErrKindMismatch     = container.ErrKindMismatch
	ErrUnsupportedValue = container.ErrUnsupportedValue
	ErrNodeNotFound     = container.ErrNodeNotFound

	// ErrBufferOverflow is returned when a merge would buffer more ops than
	// the configured capacity. The whole merge is rolled back.
	ErrBufferOverflow = errors.New("pending buffer overflow")

	// ErrClosed is returned by every mutation after Close.
	ErrClosed = errors.New("document closed")

	ErrInvalidConfig = errors.New("invalid document config")
)
