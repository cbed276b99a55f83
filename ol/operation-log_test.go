package ol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendLocal(t *testing.T, log *OpLog, alloc *IDAllocator, c ContainerID, content Content) *Op {
	t.Helper()
	stamp, err := alloc.Next(alloc.Peer())
	require.NoError(t, err)
	op := &Op{ID: stamp.ID, Lamport: stamp.Lamport, Deps: stamp.Deps, Container: c, Content: content}
	require.NoError(t, log.Append(op))
	return op
}

// -----------------------------------------------------------------------------
// Version vectors
// -----------------------------------------------------------------------------

func TestVersionVector_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b VersionVector
		want Relation
	}{
		{"empty", VersionVector{}, VersionVector{}, Equal},
		{"equal", VersionVector{1: 3, 2: 1}, VersionVector{1: 3, 2: 1}, Equal},
		{"before", VersionVector{1: 2}, VersionVector{1: 3}, Before},
		{"before missing peer", VersionVector{1: 3}, VersionVector{1: 3, 2: 1}, Before},
		{"after", VersionVector{1: 4, 2: 1}, VersionVector{1: 3}, After},
		{"concurrent", VersionVector{1: 4}, VersionVector{2: 1}, Concurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestVersionVector_IncludesAndMerge(t *testing.T) {
	vv := VersionVector{1: 3}
	assert.True(t, vv.Includes(ID{Peer: 1, Counter: 3}))
	assert.False(t, vv.Includes(ID{Peer: 1, Counter: 4}))
	assert.False(t, vv.Includes(ID{}))

	vv.Merge(VersionVector{1: 2, 2: 5})
	assert.Equal(t, VersionVector{1: 3, 2: 5}, vv)
	assert.Equal(t, VersionVector{1: 1}, vv.Min(VersionVector{1: 1, 3: 9}))
	assert.Equal(t, []PeerID{1, 2}, vv.Peers())
}

// -----------------------------------------------------------------------------
// OpLog
// -----------------------------------------------------------------------------

func TestOpLog_AppendAndGet(t *testing.T) {
	log := NewOpLog()
	alloc, err := NewIDAllocator(log, 7)
	require.NoError(t, err)

	ins := appendLocal(t, log, alloc, Text("t"), SeqInsert{Text: "hey"})
	assert.Equal(t, ID{Peer: 7, Counter: 1}, ins.ID)
	assert.Equal(t, Lamport(1), ins.Lamport)
	assert.Equal(t, VersionVector{7: 3}, log.VersionVector())
	assert.Equal(t, Frontier{{Peer: 7, Counter: 3}}, log.Frontier())

	next := appendLocal(t, log, alloc, Map("m"), MapSet{Key: "k", Value: int64(1)})
	assert.Equal(t, ID{Peer: 7, Counter: 4}, next.ID)
	assert.Equal(t, Lamport(4), next.Lamport)
	assert.Equal(t, Frontier{{Peer: 7, Counter: 3}}, next.Deps)

	got, err := log.Get(ID{Peer: 7, Counter: 2})
	require.NoError(t, err)
	assert.Same(t, ins, got)

	lamport, err := log.LamportOf(ID{Peer: 7, Counter: 3})
	require.NoError(t, err)
	assert.Equal(t, Lamport(3), lamport)

	_, err = log.Get(ID{Peer: 7, Counter: 5})
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Len(t, log.OpsByContainer(Text("t")), 1)
	assert.Len(t, log.OpsByPeer(7, 3), 1)
}

func TestOpLog_AppendRejects(t *testing.T) {
	log := NewOpLog()
	first := &Op{ID: ID{Peer: 1, Counter: 1}, Lamport: 1, Container: Map("m"), Content: MapSet{Key: "a"}}
	require.NoError(t, log.Append(first))

	t.Run("duplicate", func(t *testing.T) {
		err := log.Append(first)
		assert.ErrorIs(t, err, ErrDuplicateOperation)
	})

	t.Run("counter gap", func(t *testing.T) {
		err := log.Append(&Op{ID: ID{Peer: 1, Counter: 3}, Lamport: 3, Container: Map("m"), Content: MapSet{Key: "a"}})
		assert.ErrorIs(t, err, ErrMissingDependency)
	})

	t.Run("missing dependency", func(t *testing.T) {
		err := log.Append(&Op{
			ID: ID{Peer: 2, Counter: 1}, Lamport: 5,
			Deps:      Frontier{{Peer: 3, Counter: 1}},
			Container: Map("m"), Content: MapSet{Key: "a"},
		})
		assert.ErrorIs(t, err, ErrMissingDependency)
	})

	t.Run("lamport not after dependency", func(t *testing.T) {
		err := log.Append(&Op{
			ID: ID{Peer: 2, Counter: 1}, Lamport: 1,
			Deps:      Frontier{first.ID},
			Container: Map("m"), Content: MapSet{Key: "a"},
		})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("reserved peer", func(t *testing.T) {
		err := log.Append(&Op{ID: ID{Peer: InvalidPeer, Counter: 1}, Lamport: 1, Container: Map("m"), Content: MapSet{}})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("empty insert", func(t *testing.T) {
		err := log.Append(&Op{ID: ID{Peer: 4, Counter: 1}, Lamport: 1, Container: Text("t"), Content: SeqInsert{}})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("payload does not fit container", func(t *testing.T) {
		err := log.Append(&Op{ID: ID{Peer: 5, Counter: 1}, Lamport: 1, Container: List("l"), Content: SeqInsert{Text: "x"}})
		assert.ErrorIs(t, err, ErrInvalidOperation)
		err = log.Append(&Op{ID: ID{Peer: 5, Counter: 1}, Lamport: 1, Container: Tree("t"), Content: MapSet{Key: "k"}})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("lamport not after own previous op", func(t *testing.T) {
		err := log.Append(&Op{ID: ID{Peer: 1, Counter: 2}, Lamport: 1, Container: Map("m"), Content: MapSet{Key: "b"}})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("references outside the past", func(t *testing.T) {
		id := ID{Peer: 6, Counter: 1}
		tests := []struct {
			name    string
			lamport Lamport
			c       ContainerID
			content Content
		}{
			{"unknown anchor", 5, Text("t"), SeqInsert{After: ID{Peer: 8, Counter: 1}, Text: "x"}},
			{"self anchor", 5, Text("t"), SeqInsert{After: id, Text: "x"}},
			{"delete of a newer atom", 1, Text("t"), SeqDelete{Spans: []IDSpan{{Peer: 1, Start: 1, End: 2}}}},
			{"delete past the known counter", 5, Text("t"), SeqDelete{Spans: []IDSpan{{Peer: 1, Start: 1, End: 3}}}},
			{"empty delete span", 5, Text("t"), SeqDelete{Spans: []IDSpan{{Peer: 1, Start: 2, End: 2}}}},
			{"no delete spans", 5, Text("t"), SeqDelete{}},
			{"unknown tree parent", 5, Tree("t"), TreeMove{Action: TreeCreate, Target: id, Parent: ID{Peer: 8, Counter: 8}, Position: "V"}},
			{"meta of an unknown node", 5, Tree("t"), TreeMeta{Target: ID{Peer: 8, Counter: 8}, Key: "k"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := log.Append(&Op{ID: id, Lamport: tt.lamport, Container: tt.c, Content: tt.content})
				assert.ErrorIs(t, err, ErrInvalidOperation)
			})
		}
	})

	t.Run("malformed tree moves", func(t *testing.T) {
		id := ID{Peer: 5, Counter: 1}
		node := ID{Peer: 1, Counter: 1}
		tests := []struct {
			name    string
			content Content
		}{
			{"create the root", TreeMove{Action: TreeCreate}},
			{"create a foreign node", TreeMove{Action: TreeCreate, Target: node}},
			{"create under the trash", TreeMove{Action: TreeCreate, Target: id, Parent: TrashID}},
			{"move the root", TreeMove{Action: TreeMoveNode, Parent: node}},
			{"move the trash", TreeMove{Action: TreeMoveNode, Target: TrashID}},
			{"move into the trash", TreeMove{Action: TreeMoveNode, Target: node, Parent: TrashID}},
			{"delete the root", TreeMove{Action: TreeDelete, Parent: TrashID}},
			{"unknown action", TreeMove{Action: 9, Target: node}},
			{"meta of the root", TreeMeta{Key: "k"}},
			{"meta of the trash", TreeMeta{Target: TrashID, Key: "k"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := log.Append(&Op{ID: id, Lamport: 1, Container: Tree("t"), Content: tt.content})
				assert.ErrorIs(t, err, ErrInvalidOperation)
			})
		}
		assert.NoError(t, Validate(&Op{ID: id, Lamport: 1, Container: Tree("t"),
			Content: TreeMove{Action: TreeCreate, Target: id}}))
		assert.NoError(t, Validate(&Op{ID: id, Lamport: 1, Container: Tree("t"),
			Content: TreeMove{Action: TreeDelete, Target: node, Parent: TrashID}}))
	})

	assert.Equal(t, 1, log.Len())
}

func TestOpLog_OpsSinceIsTopological(t *testing.T) {
	log := NewOpLog()
	a := &Op{ID: ID{Peer: 2, Counter: 1}, Lamport: 1, Container: Text("t"), Content: SeqInsert{Text: "ab"}}
	b := &Op{ID: ID{Peer: 1, Counter: 1}, Lamport: 1, Container: Text("t"), Content: SeqInsert{Text: "c"}}
	c := &Op{
		ID: ID{Peer: 1, Counter: 2}, Lamport: 3,
		Deps:      Frontier{{Peer: 1, Counter: 1}, {Peer: 2, Counter: 2}},
		Container: Text("t"),
		Content:   SeqDelete{Spans: []IDSpan{{Peer: 2, Start: 1, End: 2}}},
	}
	require.NoError(t, log.Append(a))
	require.NoError(t, log.Append(b))
	require.NoError(t, log.Append(c))

	assert.Equal(t, []*Op{b, a, c}, log.OpsSince(VersionVector{}))
	assert.Equal(t, []*Op{c}, log.OpsSince(VersionVector{1: 1, 2: 2}))
	assert.Equal(t, []*Op{a, c}, log.OpsSince(VersionVector{1: 1, 2: 1}), "partially covered op is returned whole")
	assert.Empty(t, log.OpsSince(log.VersionVector()))
	assert.Equal(t, Frontier{{Peer: 1, Counter: 2}}, log.Frontier())
}

func TestOpLog_Compare(t *testing.T) {
	log := NewOpLog()
	a := &Op{ID: ID{Peer: 1, Counter: 1}, Lamport: 1, Container: Map("m"), Content: MapSet{Key: "x"}}
	b := &Op{ID: ID{Peer: 2, Counter: 1}, Lamport: 1, Container: Map("m"), Content: MapSet{Key: "y"}}
	c := &Op{ID: ID{Peer: 2, Counter: 2}, Lamport: 2, Deps: Frontier{a.ID, b.ID}, Container: Map("m"), Content: MapSet{Key: "z"}}
	for _, op := range []*Op{a, b, c} {
		require.NoError(t, log.Append(op))
	}

	rel, err := log.Compare(a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, Before, rel)

	rel, err = log.Compare(c.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, After, rel)

	rel, err = log.Compare(a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, Concurrent, rel)

	rel, err = log.Compare(a.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Equal, rel)

	_, err = log.Compare(a.ID, ID{Peer: 9, Counter: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	vv, err := log.VersionOf(Frontier{c.ID})
	require.NoError(t, err)
	assert.Equal(t, VersionVector{1: 1, 2: 2}, vv)
}

func TestOpLog_MarkReset(t *testing.T) {
	log := NewOpLog()
	alloc, err := NewIDAllocator(log, 1)
	require.NoError(t, err)
	appendLocal(t, log, alloc, Text("t"), SeqInsert{Text: "a"})

	mark := log.Mark()
	appendLocal(t, log, alloc, Text("t"), SeqInsert{Text: "bc"})
	appendLocal(t, log, alloc, List("l"), SeqInsert{Values: []any{int64(1)}})
	require.Equal(t, 3, log.Len())

	log.Reset(mark)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, VersionVector{1: 1}, log.VersionVector())
	assert.Equal(t, Frontier{{Peer: 1, Counter: 1}}, log.Frontier())
	assert.Equal(t, Lamport(2), log.NextLamport())
	assert.Empty(t, log.OpsByContainer(List("l")))

	op := appendLocal(t, log, alloc, Text("t"), SeqInsert{Text: "z"})
	assert.Equal(t, ID{Peer: 1, Counter: 2}, op.ID)
}

func TestOp_TrimBefore(t *testing.T) {
	op := &Op{ID: ID{Peer: 3, Counter: 4}, Lamport: 10, Container: Text("t"), Content: SeqInsert{Text: "héllo"}}

	trimmed, ok := op.TrimBefore(6)
	require.True(t, ok)
	assert.Equal(t, ID{Peer: 3, Counter: 6}, trimmed.ID)
	assert.Equal(t, Lamport(12), trimmed.Lamport)
	assert.Equal(t, SeqInsert{After: ID{Peer: 3, Counter: 5}, Text: "llo"}, trimmed.Content)
	assert.Equal(t, op.LastID(), trimmed.LastID())

	_, ok = op.TrimBefore(9)
	assert.False(t, ok)

	set := &Op{ID: ID{Peer: 3, Counter: 1}, Lamport: 1, Container: Map("m"), Content: MapSet{Key: "k"}}
	same, ok := set.TrimBefore(1)
	assert.True(t, ok)
	assert.Same(t, set, same)
}

// -----------------------------------------------------------------------------
// IDAllocator
// -----------------------------------------------------------------------------

func TestIDAllocator(t *testing.T) {
	log := NewOpLog()

	_, err := NewIDAllocator(log, InvalidPeer)
	assert.ErrorIs(t, err, ErrInvalidReplica)

	alloc, err := NewIDAllocator(log, 1)
	require.NoError(t, err)

	_, err = alloc.Next(2)
	assert.ErrorIs(t, err, ErrInvalidReplica)

	appendLocal(t, log, alloc, Map("m"), MapSet{Key: "a"})
	require.NoError(t, alloc.SetPeer(2))

	stamp, err := alloc.Next(2)
	require.NoError(t, err)
	assert.Equal(t, ID{Peer: 2, Counter: 1}, stamp.ID)
	assert.Equal(t, Lamport(2), stamp.Lamport)
	assert.Equal(t, Frontier{{Peer: 1, Counter: 1}}, stamp.Deps)

	_, err = alloc.Next(1)
	assert.ErrorIs(t, err, ErrInvalidReplica)
	assert.ErrorIs(t, alloc.SetPeer(1), ErrInvalidReplica)
	assert.ErrorIs(t, alloc.SetPeer(InvalidPeer), ErrInvalidReplica)

	require.NoError(t, log.Append(&Op{ID: ID{Peer: 3, Counter: 1}, Lamport: 5, Container: Map("m"), Content: MapSet{Key: "b"}}))
	assert.ErrorIs(t, alloc.SetPeer(3), ErrInvalidReplica, "peer 3 belongs to another replica")
	assert.Equal(t, PeerID(2), alloc.Peer())
}

func TestNewPeerID(t *testing.T) {
	a, b := NewPeerID(), NewPeerID()
	assert.NotEqual(t, InvalidPeer, a)
	assert.NotEqual(t, a, b)
}
