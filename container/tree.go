package container

import (
	"fmt"
	"slices"
	"sort"

	"github.com/kevinxiao27/crdoc/ol"
)

// TrashID is the parent of deleted nodes.
var TrashID = ol.TrashID

// TreeNode is a live node in a materialized tree.
type TreeNode struct {
	ID       ol.ID
	Parent   ol.ID
	Index    int
	Position string
	Meta     map[string]any
	Children []TreeNode
}

type treeNode struct {
	parent   ol.ID
	position string
}

type moveRecord struct {
	TreeRecord
	effective  bool
	prevExists bool
	prev       treeNode
}

func (r *moveRecord) less(o *moveRecord) bool {
	return ol.CompareStamp(r.Lamport, r.ID, o.Lamport, o.ID) < 0
}

// Tree is a movable tree. Every create, move and delete is kept in a log
// sorted by (lamport, peer, counter); the node arena is the result of
// applying that log in order, skipping moves whose target or parent is
// missing or that would make a node its own ancestor. A remote op that sorts
// before the log's tail is applied by undoing the tail, inserting, and
// redoing.
type Tree struct {
	id    ol.ContainerID
	nodes map[ol.ID]*treeNode
	log   []*moveRecord
	meta  map[ol.ID]map[string]*register
}

func NewTree(id ol.ContainerID) *Tree {
	return &Tree{
		id:    id,
		nodes: make(map[ol.ID]*treeNode),
		meta:  make(map[ol.ID]map[string]*register),
	}
}

func (t *Tree) ID() ol.ContainerID { return t.id }

// Live reports whether id is the root or a node that is not in the trash.
func (t *Tree) Live(id ol.ID) bool {
	for x := id; !x.IsZero(); {
		n, ok := t.nodes[x]
		if !ok || n.parent == TrashID {
			return false
		}
		x = n.parent
	}
	return true
}

// Parent returns the current parent of a live node.
func (t *Tree) Parent(id ol.ID) (ol.ID, bool) {
	if id.IsZero() || !t.Live(id) {
		return ol.ID{}, false
	}
	return t.nodes[id].parent, true
}

// Rejected counts log entries that had no structural effect.
func (t *Tree) Rejected() int {
	n := 0
	for _, r := range t.log {
		if !r.effective {
			n++
		}
	}
	return n
}

func (t *Tree) isAncestor(a, of ol.ID) bool {
	for x := of; !x.IsZero() && x != TrashID; {
		if x == a {
			return true
		}
		n, ok := t.nodes[x]
		if !ok {
			return false
		}
		x = n.parent
	}
	return false
}

func (t *Tree) do(r *moveRecord) error {
	node, exists := t.nodes[r.Target]
	r.effective, r.prevExists = false, exists
	if exists {
		r.prev = *node
	}
	parentOK := r.Parent.IsZero() || r.Parent != TrashID && t.nodes[r.Parent] != nil

	switch r.Action {
	case ol.TreeCreate:
		if exists || !parentOK {
			return ErrNodeNotFound
		}
	case ol.TreeMoveNode:
		if !exists || !parentOK {
			return ErrNodeNotFound
		}
		if r.Target == r.Parent || t.isAncestor(r.Target, r.Parent) {
			return ErrCycleDetected
		}
	case ol.TreeDelete:
		if !exists {
			return ErrNodeNotFound
		}
	}
	parent := r.Parent
	if r.Action == ol.TreeDelete {
		parent = TrashID
	}
	t.nodes[r.Target] = &treeNode{parent: parent, position: r.Position}
	r.effective = true
	return nil
}

func (t *Tree) undo(r *moveRecord) {
	if !r.effective {
		return
	}
	if r.prevExists {
		prev := r.prev
		t.nodes[r.Target] = &prev
	} else {
		delete(t.nodes, r.Target)
	}
}

func (t *Tree) redoFrom(i int) {
	for ; i < len(t.log); i++ {
		_ = t.do(t.log[i])
	}
}

func (t *Tree) undoFrom(i int) {
	for j := len(t.log) - 1; j >= i; j-- {
		t.undo(t.log[j])
	}
}

func (t *Tree) applyMove(rec *moveRecord, undo *UndoLog) error {
	idx := sort.Search(len(t.log), func(i int) bool { return rec.less(t.log[i]) })
	if idx > 0 && t.log[idx-1].ID == rec.ID {
		return fmt.Errorf("%w: move %s already applied", ErrInvalidState, rec.ID)
	}
	t.undoFrom(idx)
	t.log = slices.Insert(t.log, idx, rec)
	t.redoFrom(idx)
	undo.Push(func() {
		t.undoFrom(idx)
		t.log = slices.Delete(t.log, idx, idx+1)
		t.redoFrom(idx)
	})
	return nil
}

func (t *Tree) applyMeta(op *ol.Op, m ol.TreeMeta, undo *UndoLog) {
	regs, ok := t.meta[m.Target]
	if !ok {
		regs = make(map[string]*register)
		t.meta[m.Target] = regs
		undo.Push(func() { delete(t.meta, m.Target) })
	}
	next := register{id: op.ID, lamport: op.Lamport, deleted: m.Deleted}
	if !m.Deleted {
		next.value = m.Value
	}
	lwwSet(regs, m.Key, next, undo)
}

func (t *Tree) ApplyRemote(op *ol.Op, undo *UndoLog) error {
	switch c := op.Content.(type) {
	case ol.TreeMove:
		if err := c.Check(op.ID); err != nil {
			return err
		}
		if c.Action != ol.TreeDelete && !validPosition(c.Position) {
			return fmt.Errorf("%w: %s has position %q", ErrInvalidState, op.ID, c.Position)
		}
		return t.applyMove(&moveRecord{TreeRecord: TreeRecord{
			ID:       op.ID,
			Lamport:  op.Lamport,
			Action:   c.Action,
			Target:   c.Target,
			Parent:   c.Parent,
			Position: c.Position,
		}}, undo)
	case ol.TreeMeta:
		if c.Target.IsZero() || c.Target == TrashID {
			return fmt.Errorf("%w: meta of reserved node %s", ErrNodeNotFound, c.Target)
		}
		t.applyMeta(op, c, undo)
		return nil
	}
	return fmt.Errorf("%w: %T on %s", ErrKindMismatch, op.Content, t.id)
}

// childIndex groups existing nodes by parent, each group in sibling order.
func (t *Tree) childIndex() map[ol.ID][]ol.ID {
	idx := make(map[ol.ID][]ol.ID)
	for id, n := range t.nodes {
		idx[n.parent] = append(idx[n.parent], id)
	}
	for _, kids := range idx {
		sort.Slice(kids, func(i, j int) bool {
			a, b := t.nodes[kids[i]], t.nodes[kids[j]]
			if a.position != b.position {
				return a.position < b.position
			}
			return ol.CompareStamp(0, kids[i], 0, kids[j]) < 0
		})
	}
	return idx
}

// Children returns the live children of parent in sibling order.
func (t *Tree) Children(parent ol.ID) []ol.ID {
	if !t.Live(parent) {
		return nil
	}
	return t.childIndex()[parent]
}

// positionFor returns a fractional key that places a node at index among
// parent's children, ignoring exclude.
func (t *Tree) positionFor(parent ol.ID, index int, exclude ol.ID) (string, error) {
	sibs := slices.DeleteFunc(t.Children(parent), func(id ol.ID) bool { return id == exclude })
	if index < 0 || index > len(sibs) {
		return "", fmt.Errorf("%w: index %d of %d children", ErrOutOfBounds, index, len(sibs))
	}
	left, right := "", ""
	if index > 0 {
		left = t.nodes[sibs[index-1]].position
	}
	// Concurrent creates can leave siblings sharing a key; skip past them.
	for _, id := range sibs[index:] {
		if p := t.nodes[id].position; p > left {
			right = p
			break
		}
	}
	return positionBetween(left, right)
}

func (t *Tree) ApplyLocal(edit Edit, stamp ol.Stamp, undo *UndoLog) (*ol.Op, error) {
	var content ol.Content
	switch e := edit.(type) {
	case CreateNode:
		if !t.Live(e.Parent) {
			return nil, fmt.Errorf("%w: parent %s", ErrNodeNotFound, e.Parent)
		}
		pos, err := t.positionFor(e.Parent, e.Index, ol.ID{})
		if err != nil {
			return nil, err
		}
		content = ol.TreeMove{Action: ol.TreeCreate, Target: stamp.ID, Parent: e.Parent, Position: pos}
	case MoveNode:
		if e.Node.IsZero() || !t.Live(e.Node) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, e.Node)
		}
		if !t.Live(e.Parent) {
			return nil, fmt.Errorf("%w: parent %s", ErrNodeNotFound, e.Parent)
		}
		if e.Node == e.Parent || t.isAncestor(e.Node, e.Parent) {
			return nil, fmt.Errorf("%w: %s under %s", ErrCycleDetected, e.Node, e.Parent)
		}
		pos, err := t.positionFor(e.Parent, e.Index, e.Node)
		if err != nil {
			return nil, err
		}
		content = ol.TreeMove{Action: ol.TreeMoveNode, Target: e.Node, Parent: e.Parent, Position: pos}
	case DeleteNode:
		if e.Node.IsZero() || !t.Live(e.Node) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, e.Node)
		}
		content = ol.TreeMove{Action: ol.TreeDelete, Target: e.Node, Parent: TrashID}
	case SetNodeMeta:
		if e.Node.IsZero() || !t.Live(e.Node) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, e.Node)
		}
		v, err := NormalizeValue(e.Value)
		if err != nil {
			return nil, err
		}
		content = ol.TreeMeta{Target: e.Node, Key: e.Key, Value: v}
	default:
		return nil, kindMismatch(t.id, edit)
	}
	op := newOp(t.id, stamp, content)
	if err := t.ApplyRemote(op, undo); err != nil {
		return nil, err
	}
	return op, nil
}

// Nodes returns the live forest under the root.
func (t *Tree) Nodes() []TreeNode {
	return t.build(t.childIndex(), ol.ID{})
}

func (t *Tree) build(idx map[ol.ID][]ol.ID, parent ol.ID) []TreeNode {
	var out []TreeNode
	for i, id := range idx[parent] {
		out = append(out, TreeNode{
			ID:       id,
			Parent:   parent,
			Index:    i,
			Position: t.nodes[id].position,
			Meta:     liveValues(t.meta[id]),
			Children: t.build(idx, id),
		})
	}
	return out
}

func (t *Tree) Value() any { return t.Nodes() }

func (t *Tree) Export() Snapshot {
	st := &TreeState{}
	for _, r := range t.log {
		st.Moves = append(st.Moves, r.TreeRecord)
	}
	for target, regs := range t.meta {
		for k, r := range regs {
			st.Meta = append(st.Meta, TreeMetaEntry{
				Target: target, Key: k, Value: r.value, Deleted: r.deleted, ID: r.id, Lamport: r.lamport,
			})
		}
	}
	sort.Slice(st.Meta, func(i, j int) bool {
		a, b := st.Meta[i], st.Meta[j]
		if a.Target != b.Target {
			return ol.CompareStamp(0, a.Target, 0, b.Target) < 0
		}
		return a.Key < b.Key
	})
	return Snapshot{ID: t.id, Tree: st}
}

func restoreTree(s Snapshot) (*Tree, error) {
	t := NewTree(s.ID)
	if s.Tree == nil {
		return t, nil
	}
	for _, rec := range s.Tree.Moves {
		if rec.ID.Counter == 0 || rec.ID.Peer == ol.InvalidPeer || rec.Lamport == 0 {
			return nil, fmt.Errorf("%w: move record %s", ErrInvalidState, rec.ID)
		}
		move := ol.TreeMove{Action: rec.Action, Target: rec.Target, Parent: rec.Parent}
		if err := move.Check(rec.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if rec.Action != ol.TreeDelete && !validPosition(rec.Position) {
			return nil, fmt.Errorf("%w: %s has position %q", ErrInvalidState, rec.ID, rec.Position)
		}
		r := &moveRecord{TreeRecord: rec}
		if n := len(t.log); n > 0 && !t.log[n-1].less(r) {
			return nil, fmt.Errorf("%w: move log out of order at %s", ErrInvalidState, rec.ID)
		}
		t.log = append(t.log, r)
		_ = t.do(r)
	}
	for _, m := range s.Tree.Meta {
		if m.Target.IsZero() || m.Target == TrashID {
			return nil, fmt.Errorf("%w: meta of reserved node %s", ErrInvalidState, m.Target)
		}
		regs, ok := t.meta[m.Target]
		if !ok {
			regs = make(map[string]*register)
			t.meta[m.Target] = regs
		}
		if _, dup := regs[m.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate meta %s/%q", ErrInvalidState, m.Target, m.Key)
		}
		regs[m.Key] = &register{value: m.Value, deleted: m.Deleted, id: m.ID, lamport: m.Lamport}
	}
	return t, nil
}
