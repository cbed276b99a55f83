package container

import (
	"fmt"

	"github.com/kevinxiao27/crdoc/ol"
)

// State is the merge state of one container. Text, List, Map and Tree are
// the only implementations.
type State interface {
	ID() ol.ContainerID
	// ApplyLocal turns edit into an op stamped with stamp and applies it.
	ApplyLocal(edit Edit, stamp ol.Stamp, undo *UndoLog) (*ol.Op, error)
	// ApplyRemote integrates an op whose dependencies are all applied.
	ApplyRemote(op *ol.Op, undo *UndoLog) error
	Value() any
	Export() Snapshot
}

// Compactor is implemented by containers that keep tombstones.
type Compactor interface {
	// Compact folds tombstones whose insert and delete are both in stable
	// into bare position markers and returns how many were collected.
	Compact(stable ol.VersionVector) int
}

// New returns an empty container for id.
func New(id ol.ContainerID) (State, error) {
	switch id.Kind {
	case ol.KindText:
		return NewText(id), nil
	case ol.KindList:
		return NewList(id), nil
	case ol.KindMap:
		return NewMap(id), nil
	case ol.KindTree:
		return NewTree(id), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKindMismatch, id)
}

// Restore rebuilds a container from its exported state.
func Restore(s Snapshot) (State, error) {
	switch s.ID.Kind {
	case ol.KindText:
		return restoreText(s)
	case ol.KindList:
		return restoreList(s)
	case ol.KindMap:
		return restoreMap(s)
	case ol.KindTree:
		return restoreTree(s)
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidState, s.ID)
}

// Edit is a local edit expressed against the current visible state.
type Edit interface {
	Kind() ol.ContainerKind
}

type InsertText struct {
	Pos  int
	Text string
}

type DeleteText struct {
	Pos int
	Len int
}

type InsertList struct {
	Pos    int
	Values []any
}

type DeleteList struct {
	Pos int
	Len int
}

type SetKey struct {
	Key   string
	Value any
}

type DeleteKey struct {
	Key string
}

// CreateNode creates a node under Parent (zero for the root level) at
// sibling position Index.
type CreateNode struct {
	Parent ol.ID
	Index  int
}

type MoveNode struct {
	Node   ol.ID
	Parent ol.ID
	Index  int
}

type DeleteNode struct {
	Node ol.ID
}

type SetNodeMeta struct {
	Node  ol.ID
	Key   string
	Value any
}

func (InsertText) Kind() ol.ContainerKind  { return ol.KindText }
func (DeleteText) Kind() ol.ContainerKind  { return ol.KindText }
func (InsertList) Kind() ol.ContainerKind  { return ol.KindList }
func (DeleteList) Kind() ol.ContainerKind  { return ol.KindList }
func (SetKey) Kind() ol.ContainerKind      { return ol.KindMap }
func (DeleteKey) Kind() ol.ContainerKind   { return ol.KindMap }
func (CreateNode) Kind() ol.ContainerKind  { return ol.KindTree }
func (MoveNode) Kind() ol.ContainerKind    { return ol.KindTree }
func (DeleteNode) Kind() ol.ContainerKind  { return ol.KindTree }
func (SetNodeMeta) Kind() ol.ContainerKind { return ol.KindTree }

// Snapshot is the exported merge state of a container. Exactly one of
// Seq, Map and Tree is set, matching ID.Kind.
type Snapshot struct {
	ID   ol.ContainerID
	Seq  *SeqState
	Map  *MapState
	Tree *TreeState
}

// SeqState is a sequence as runs of consecutive elements, tombstones and
// compacted position markers included.
type SeqState struct {
	Runs []SeqRun
}

// MaxRunLen caps the length of one exported run.
const MaxRunLen = 1 << 12

// SeqRun is Len elements with consecutive counters and Lamport timestamps
// from one peer, sharing a deletion state. Deleted runs carry no payload; a
// deleted run with a zero DeletedBy has been compacted.
type SeqRun struct {
	Start          ol.ID
	Lamport        ol.Lamport
	Len            int
	Deleted        bool
	DeletedBy      ol.ID
	DeletedLamport ol.Lamport
	Text           string
	Values         []any
}

type MapState struct {
	Entries []MapEntry
}

// MapEntry is the winning register of a key.
type MapEntry struct {
	Key     string
	Value   any
	Deleted bool
	ID      ol.ID
	Lamport ol.Lamport
}

type TreeState struct {
	Moves []TreeRecord
	Meta  []TreeMetaEntry
}

// TreeRecord is one entry of the tree's move log.
type TreeRecord struct {
	ID       ol.ID
	Lamport  ol.Lamport
	Action   ol.TreeAction
	Target   ol.ID
	Parent   ol.ID
	Position string
}

type TreeMetaEntry struct {
	Target  ol.ID
	Key     string
	Value   any
	Deleted bool
	ID      ol.ID
	Lamport ol.Lamport
}

func newOp(id ol.ContainerID, stamp ol.Stamp, content ol.Content) *ol.Op {
	return &ol.Op{ID: stamp.ID, Lamport: stamp.Lamport, Deps: stamp.Deps, Container: id, Content: content}
}

func kindMismatch(id ol.ContainerID, v any) error {
	return fmt.Errorf("%w: %T on %s", ErrKindMismatch, v, id)
}
