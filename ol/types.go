package ol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

// PeerID identifies one replica of a document.
type PeerID uint64

// InvalidPeer is reserved and never allocates operations.
const InvalidPeer PeerID = math.MaxUint64

// NewPeerID returns a random peer id.
func NewPeerID() PeerID {
	u := uuid.New()
	p := PeerID(binary.BigEndian.Uint64(u[:8]))
	if p == InvalidPeer {
		p--
	}
	return p
}

type Counter uint64

type Lamport uint64

// ID is a (peer, counter) pair. Counters start at 1, so the zero ID never
// names an operation and is used as "head" for sequences and "root" for trees.
type ID struct {
	Peer    PeerID
	Counter Counter
}

func (id ID) IsZero() bool {
	return id.Peer == 0 && id.Counter == 0
}

func (id ID) Inc(n int) ID {
	return ID{Peer: id.Peer, Counter: id.Counter + Counter(n)}
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Counter, id.Peer)
}

// IDSpan is the half-open counter range [Start, End) of one peer.
type IDSpan struct {
	Peer  PeerID
	Start Counter
	End   Counter
}

func (s IDSpan) Len() int {
	if s.End <= s.Start {
		return 0
	}
	return int(s.End - s.Start)
}

func (s IDSpan) Contains(id ID) bool {
	return id.Peer == s.Peer && id.Counter >= s.Start && id.Counter < s.End
}

// CompareStamp orders two atoms by (lamport, peer, counter). Every
// tie-break in the engine uses this order.
func CompareStamp(al Lamport, a ID, bl Lamport, b ID) int {
	switch {
	case al < bl:
		return -1
	case al > bl:
		return 1
	case a.Peer < b.Peer:
		return -1
	case a.Peer > b.Peer:
		return 1
	case a.Counter < b.Counter:
		return -1
	case a.Counter > b.Counter:
		return 1
	}
	return 0
}

type ContainerKind uint8

const (
	KindText ContainerKind = iota + 1
	KindList
	KindMap
	KindTree
)

func (k ContainerKind) Valid() bool {
	return k >= KindText && k <= KindTree
}

func (k ContainerKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindTree:
		return "tree"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ContainerID names a root container. Two replicas that touch the same
// (kind, name) pair address the same container.
type ContainerID struct {
	Kind ContainerKind
	Name string
}

func (c ContainerID) String() string {
	return c.Kind.String() + ":" + c.Name
}

func Text(name string) ContainerID { return ContainerID{Kind: KindText, Name: name} }
func List(name string) ContainerID { return ContainerID{Kind: KindList, Name: name} }
func Map(name string) ContainerID  { return ContainerID{Kind: KindMap, Name: name} }
func Tree(name string) ContainerID { return ContainerID{Kind: KindTree, Name: name} }

// Content is the container-specific payload of an operation. The set of
// implementations is closed.
type Content interface {
	isContent()
	// AtomLen is the number of counters the payload consumes.
	AtomLen() int
}

// SeqInsert inserts atoms after the element After (zero means the head).
// Text containers carry Text, list containers carry Values.
type SeqInsert struct {
	After  ID
	Text   string
	Values []any
}

// SeqDelete tombstones every element whose id lies in Spans.
type SeqDelete struct {
	Spans []IDSpan
}

// MapSet writes (or with Deleted, removes) a key.
type MapSet struct {
	Key     string
	Value   any
	Deleted bool
}

type TreeAction uint8

const (
	TreeCreate TreeAction = iota + 1
	TreeMoveNode
	TreeDelete
)

func (a TreeAction) String() string {
	switch a {
	case TreeCreate:
		return "create"
	case TreeMoveNode:
		return "move"
	case TreeDelete:
		return "delete"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// TreeMove creates, moves or deletes Target. Parent is the zero ID for the
// root level. Position is the fractional sibling key.
type TreeMove struct {
	Action   TreeAction
	Target   ID
	Parent   ID
	Position string
}

// TrashID is the parent of deleted tree nodes. It lives on the reserved
// peer, so no op can ever target it.
var TrashID = ID{Peer: InvalidPeer, Counter: 1}

// Check reports whether m is well formed as the content of op id: a create
// names its own op as the new node, nothing targets the root or the trash,
// and only deletes point at the trash.
func (m TreeMove) Check(id ID) error {
	switch {
	case m.Action < TreeCreate || m.Action > TreeDelete:
		return fmt.Errorf("%w: %s has tree %s", ErrInvalidOperation, id, m.Action)
	case m.Target.IsZero() || m.Target == TrashID:
		return fmt.Errorf("%w: %s %s targets reserved node %s", ErrInvalidOperation, id, m.Action, m.Target)
	case m.Action == TreeCreate && m.Target != id:
		return fmt.Errorf("%w: %s creates foreign node %s", ErrInvalidOperation, id, m.Target)
	case m.Action != TreeDelete && m.Parent == TrashID:
		return fmt.Errorf("%w: %s %s under the trash", ErrInvalidOperation, id, m.Action)
	}
	return nil
}

// TreeMeta writes one metadata key of a tree node.
type TreeMeta struct {
	Target  ID
	Key     string
	Value   any
	Deleted bool
}

func (SeqInsert) isContent() {}
func (SeqDelete) isContent() {}
func (MapSet) isContent()    {}
func (TreeMove) isContent()  {}
func (TreeMeta) isContent()  {}

func (c SeqInsert) AtomLen() int {
	if c.Values != nil {
		return len(c.Values)
	}
	return utf8.RuneCountInString(c.Text)
}

func (SeqDelete) AtomLen() int { return 1 }
func (MapSet) AtomLen() int    { return 1 }
func (TreeMove) AtomLen() int  { return 1 }
func (TreeMeta) AtomLen() int  { return 1 }

// Op is an immutable record in the log. An op covers Len() consecutive
// counters starting at ID, with Lamport timestamps starting at Lamport.
// Deps is the frontier of the causal past the op was created against.
type Op struct {
	ID        ID
	Lamport   Lamport
	Deps      Frontier
	Container ContainerID
	Content   Content
}

func (op *Op) Len() int {
	if op.Content == nil {
		return 0
	}
	return op.Content.AtomLen()
}

func (op *Op) LastID() ID {
	return op.ID.Inc(op.Len() - 1)
}

func (op *Op) LastLamport() Lamport {
	return op.Lamport + Lamport(op.Len()-1)
}

func (op *Op) Span() IDSpan {
	return IDSpan{Peer: op.ID.Peer, Start: op.ID.Counter, End: op.ID.Counter + Counter(op.Len())}
}

// LamportOf returns the Lamport timestamp of the atom id inside op.
func (op *Op) LamportOf(id ID) Lamport {
	return op.Lamport + Lamport(id.Counter-op.ID.Counter)
}

// TrimBefore returns the suffix of op starting at counter from. Only
// multi-atom inserts can be trimmed; the suffix depends on the atom before it.
func (op *Op) TrimBefore(from Counter) (*Op, bool) {
	if from <= op.ID.Counter {
		return op, true
	}
	ins, ok := op.Content.(SeqInsert)
	if !ok || from > op.LastID().Counter {
		return nil, false
	}
	off := int(from - op.ID.Counter)
	prev := ID{Peer: op.ID.Peer, Counter: from - 1}
	trimmed := SeqInsert{After: prev}
	if ins.Values != nil {
		trimmed.Values = ins.Values[off:]
	} else {
		trimmed.Text = string([]rune(ins.Text)[off:])
	}
	return &Op{
		ID:        ID{Peer: op.ID.Peer, Counter: from},
		Lamport:   op.Lamport + Lamport(off),
		Deps:      Frontier{prev},
		Container: op.Container,
		Content:   trimmed,
	}, true
}

func (op *Op) String() string {
	return fmt.Sprintf("op(%s lamport=%d %s %T)", op.ID, op.Lamport, op.Container, op.Content)
}

// Stamp is what the allocator hands to a container building a local op.
type Stamp struct {
	ID      ID
	Lamport Lamport
	Deps    Frontier
}
