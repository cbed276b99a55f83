package ol

import (
	"fmt"
	"slices"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// OpLog is the append-only history of one replica. Ops are kept in append
// order, which is always a causal order, and indexed by peer and container.
type OpLog struct {
	ops         []*Op
	byPeer      map[PeerID][]*Op
	byContainer map[ContainerID][]*Op
	version     VersionVector
	frontier    Frontier
	maxLamport  Lamport
}

func NewOpLog() *OpLog {
	return &OpLog{
		ops:         []*Op{},
		byPeer:      make(map[PeerID][]*Op),
		byContainer: make(map[ContainerID][]*Op),
		version:     NewVersionVector(),
	}
}

// Len returns the number of ops (not atoms) in the log.
func (l *OpLog) Len() int {
	return len(l.ops)
}

func (l *OpLog) VersionVector() VersionVector {
	return l.version.Clone()
}

func (l *OpLog) Frontier() Frontier {
	return l.frontier.Clone()
}

// NextLamport is the Lamport timestamp a new local op gets.
func (l *OpLog) NextLamport() Lamport {
	return l.maxLamport + 1
}

// Includes reports whether the atom id is in the log.
func (l *OpLog) Includes(id ID) bool {
	return l.version.Includes(id)
}

// Validate checks the structure of op without looking at any log: a usable
// id and Lamport timestamp, and a payload that matches the container kind.
func Validate(op *Op) error {
	switch {
	case op == nil || op.Content == nil:
		return fmt.Errorf("%w: empty op", ErrInvalidOperation)
	case op.ID.Peer == InvalidPeer:
		return fmt.Errorf("%w: reserved peer in %s", ErrInvalidOperation, op.ID)
	case op.ID.Counter == 0:
		return fmt.Errorf("%w: zero counter", ErrInvalidOperation)
	case op.Len() < 1:
		return fmt.Errorf("%w: %s has no atoms", ErrInvalidOperation, op.ID)
	case op.Lamport == 0:
		return fmt.Errorf("%w: %s has zero lamport", ErrInvalidOperation, op.ID)
	case !op.Container.Kind.Valid():
		return fmt.Errorf("%w: %s targets %s", ErrInvalidOperation, op.ID, op.Container)
	}

	kind := op.Container.Kind
	var ok bool
	switch c := op.Content.(type) {
	case SeqInsert:
		ok = (kind == KindText && c.Values == nil) || (kind == KindList && c.Values != nil)
	case SeqDelete:
		ok = kind == KindText || kind == KindList
		for _, span := range c.Spans {
			if span.Peer == InvalidPeer || span.Start == 0 || span.End <= span.Start {
				return fmt.Errorf("%w: %s deletes empty span %v", ErrInvalidOperation, op.ID, span)
			}
		}
		if len(c.Spans) == 0 {
			return fmt.Errorf("%w: %s deletes nothing", ErrInvalidOperation, op.ID)
		}
	case MapSet:
		ok = kind == KindMap
	case TreeMove:
		if ok = kind == KindTree; ok {
			if err := c.Check(op.ID); err != nil {
				return err
			}
		}
	case TreeMeta:
		if ok = kind == KindTree; ok && (c.Target.IsZero() || c.Target == TrashID) {
			return fmt.Errorf("%w: %s writes meta of reserved node %s", ErrInvalidOperation, op.ID, c.Target)
		}
	}
	if !ok {
		return fmt.Errorf("%w: %T does not fit %s", ErrInvalidOperation, op.Content, op.Container)
	}
	return nil
}

// MissingDependency returns the first atom op needs that the log lacks.
// A gap in op's own peer counters counts as a missing dependency.
func (l *OpLog) MissingDependency(op *Op) (ID, bool) {
	if have := l.version[op.ID.Peer]; op.ID.Counter > have+1 {
		return ID{Peer: op.ID.Peer, Counter: op.ID.Counter - 1}, true
	}
	for _, dep := range op.Deps {
		if !l.version.Includes(dep) {
			return dep, true
		}
	}
	return ID{}, false
}

// references lists the atoms op's content points at: an insert's anchor, the
// last atom of each deleted span, and tree nodes other than the root and the
// trash. Counters of one peer carry increasing Lamport timestamps, so the
// last atom of a span bounds the whole span.
func references(op *Op) []ID {
	var refs []ID
	switch c := op.Content.(type) {
	case SeqInsert:
		refs = append(refs, c.After)
	case SeqDelete:
		for _, span := range c.Spans {
			refs = append(refs, ID{Peer: span.Peer, Counter: span.End - 1})
		}
	case TreeMove:
		refs = append(refs, c.Parent)
		if c.Action != TreeCreate {
			refs = append(refs, c.Target)
		}
	case TreeMeta:
		refs = append(refs, c.Target)
	}
	return slices.DeleteFunc(refs, func(id ID) bool { return id.IsZero() || id == TrashID })
}

// checkOrder rejects an op whose Lamport timestamp does not follow its own
// peer's previous atom, or that points at an atom outside the log or not
// older than itself.
func (l *OpLog) checkOrder(op *Op) error {
	if op.ID.Counter > 1 {
		prev := ID{Peer: op.ID.Peer, Counter: op.ID.Counter - 1}
		if lamport, err := l.LamportOf(prev); err != nil || lamport >= op.Lamport {
			return fmt.Errorf("%w: %s lamport %d does not follow %s", ErrInvalidOperation, op.ID, op.Lamport, prev)
		}
	}
	for _, ref := range references(op) {
		lamport, err := l.LamportOf(ref)
		if err != nil {
			return fmt.Errorf("%w: %s references unknown %s", ErrInvalidOperation, op.ID, ref)
		}
		if lamport >= op.Lamport {
			return fmt.Errorf("%w: %s references %s from outside its past", ErrInvalidOperation, op.ID, ref)
		}
	}
	return nil
}

// Append stores op. Its first counter must directly follow the last one
// seen from its peer and every dependency must already be present.
func (l *OpLog) Append(op *Op) error {
	if err := Validate(op); err != nil {
		return err
	}
	if l.version.Includes(op.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, op.ID)
	}
	if dep, missing := l.MissingDependency(op); missing {
		return fmt.Errorf("%w: %s waits for %s", ErrMissingDependency, op.ID, dep)
	}
	for _, dep := range op.Deps {
		depOp, err := l.Get(dep)
		if err != nil {
			return err
		}
		if depOp.LamportOf(dep) >= op.Lamport {
			return fmt.Errorf("%w: %s lamport %d does not follow dependency %s", ErrInvalidOperation, op.ID, op.Lamport, dep)
		}
	}
	if err := l.checkOrder(op); err != nil {
		return err
	}

	l.ops = append(l.ops, op)
	l.byPeer[op.ID.Peer] = append(l.byPeer[op.ID.Peer], op)
	l.byContainer[op.Container] = append(l.byContainer[op.Container], op)
	l.version.Extend(op.LastID())
	l.frontier = advanceFrontier(l.frontier, op)
	if last := op.LastLamport(); last > l.maxLamport {
		l.maxLamport = last
	}
	return nil
}

// Get returns the op whose span contains id.
func (l *OpLog) Get(id ID) (*Op, error) {
	ops := l.byPeer[id.Peer]
	i := sort.Search(len(ops), func(i int) bool {
		return ops[i].LastID().Counter >= id.Counter
	})
	if i == len(ops) || !ops[i].Span().Contains(id) {
		return nil, fmt.Errorf("%w: op %s", ErrNotFound, id)
	}
	return ops[i], nil
}

// LamportOf returns the Lamport timestamp of the atom id.
func (l *OpLog) LamportOf(id ID) (Lamport, error) {
	op, err := l.Get(id)
	if err != nil {
		return 0, err
	}
	return op.LamportOf(id), nil
}

// Ops returns the whole history in causal order.
func (l *OpLog) Ops() []*Op {
	out := make([]*Op, len(l.ops))
	copy(out, l.ops)
	return out
}

// OpsByPeer returns the ops of peer that contain counters above after.
func (l *OpLog) OpsByPeer(peer PeerID, after Counter) []*Op {
	ops := l.byPeer[peer]
	i := sort.Search(len(ops), func(i int) bool {
		return ops[i].LastID().Counter > after
	})
	out := make([]*Op, len(ops)-i)
	copy(out, ops[i:])
	return out
}

func (l *OpLog) OpsByContainer(c ContainerID) []*Op {
	ops := l.byContainer[c]
	out := make([]*Op, len(ops))
	copy(out, ops)
	return out
}

// Containers returns every container the log has ops for.
func (l *OpLog) Containers() []ContainerID {
	out := make([]ContainerID, 0, len(l.byContainer))
	for c := range l.byContainer {
		out = append(out, c)
	}
	return out
}

// OpsSince returns every op vv does not dominate, sorted by
// (lamport, peer, counter). Lamport timestamps grow along every causal edge,
// so this order is topological. An op only partly covered by vv is
// returned whole.
func (l *OpLog) OpsSince(vv VersionVector) []*Op {
	var out []*Op
	for peer := range l.byPeer {
		out = append(out, l.OpsByPeer(peer, vv[peer])...)
	}
	SortOps(out)
	return out
}

// SortOps sorts ops into the deterministic causal order used everywhere.
func SortOps(ops []*Op) {
	sort.Slice(ops, func(i, j int) bool {
		return CompareStamp(ops[i].Lamport, ops[i].ID, ops[j].Lamport, ops[j].ID) < 0
	})
}

// VersionOf expands a frontier into its causal closure.
func (l *OpLog) VersionOf(frontier Frontier) (VersionVector, error) {
	vv := NewVersionVector()
	seen := mapset.NewThreadUnsafeSet[ID]()
	toExpand := make([]ID, len(frontier))
	copy(toExpand, frontier)

	for len(toExpand) > 0 {
		id := toExpand[len(toExpand)-1]
		toExpand = toExpand[:len(toExpand)-1]

		op, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		vv.Extend(id)
		if seen.Contains(op.ID) {
			continue
		}
		seen.Add(op.ID)
		toExpand = append(toExpand, op.Deps...)
		if op.ID.Counter > 1 {
			toExpand = append(toExpand, ID{Peer: op.ID.Peer, Counter: op.ID.Counter - 1})
		}
	}
	return vv, nil
}

// Compare reports the causal relation of a to b: Before when b's creator had
// observed a.
func (l *OpLog) Compare(a, b ID) (Relation, error) {
	if _, err := l.Get(a); err != nil {
		return Concurrent, err
	}
	if _, err := l.Get(b); err != nil {
		return Concurrent, err
	}
	if a == b {
		return Equal, nil
	}
	vb, err := l.VersionOf(Frontier{b})
	if err != nil {
		return Concurrent, err
	}
	if vb.Includes(a) {
		return Before, nil
	}
	va, err := l.VersionOf(Frontier{a})
	if err != nil {
		return Concurrent, err
	}
	if va.Includes(b) {
		return After, nil
	}
	return Concurrent, nil
}

// Mark captures the log's tip so a failed batch can be undone with Reset.
type Mark struct {
	n          int
	version    VersionVector
	frontier   Frontier
	maxLamport Lamport
}

func (l *OpLog) Mark() Mark {
	return Mark{
		n:          len(l.ops),
		version:    l.version.Clone(),
		frontier:   l.frontier.Clone(),
		maxLamport: l.maxLamport,
	}
}

// Reset drops every op appended after m.
func (l *OpLog) Reset(m Mark) {
	for i := len(l.ops) - 1; i >= m.n; i-- {
		op := l.ops[i]
		peerOps := l.byPeer[op.ID.Peer]
		if len(peerOps) == 1 {
			delete(l.byPeer, op.ID.Peer)
		} else {
			l.byPeer[op.ID.Peer] = peerOps[:len(peerOps)-1]
		}
		cOps := l.byContainer[op.Container]
		if len(cOps) == 1 {
			delete(l.byContainer, op.Container)
		} else {
			l.byContainer[op.Container] = cOps[:len(cOps)-1]
		}
		l.ops[i] = nil
	}
	l.ops = l.ops[:m.n]
	l.version = m.version.Clone()
	l.frontier = m.frontier.Clone()
	l.maxLamport = m.maxLamport
}
