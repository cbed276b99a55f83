package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/crdoc/ol"
)

// replica drives one container with hand-made stamps.
type replica struct {
	t       *testing.T
	peer    ol.PeerID
	next    ol.Counter
	lamport ol.Lamport
	state   State
}

func newReplica(t *testing.T, id ol.ContainerID, peer ol.PeerID) *replica {
	t.Helper()
	s, err := New(id)
	require.NoError(t, err)
	return &replica{t: t, peer: peer, next: 1, state: s}
}

func (r *replica) stamp() ol.Stamp {
	return ol.Stamp{ID: ol.ID{Peer: r.peer, Counter: r.next}, Lamport: r.lamport + 1}
}

func (r *replica) edit(e Edit) *ol.Op {
	r.t.Helper()
	op, err := r.state.ApplyLocal(e, r.stamp(), nil)
	require.NoError(r.t, err)
	r.next += ol.Counter(op.Len())
	r.lamport = op.LastLamport()
	return op
}

func (r *replica) receive(ops ...*ol.Op) {
	r.t.Helper()
	for _, op := range ops {
		require.NoError(r.t, r.state.ApplyRemote(op, nil))
		r.lamport = max(r.lamport, op.LastLamport())
	}
}

// -----------------------------------------------------------------------------
// Text
// -----------------------------------------------------------------------------

func TestText_ConcurrentInsertsConverge(t *testing.T) {
	a := newReplica(t, ol.Text("t"), 1)
	b := newReplica(t, ol.Text("t"), 2)

	base := a.edit(InsertText{Pos: 0, Text: "ab"})
	b.receive(base)

	x := a.edit(InsertText{Pos: 1, Text: "X"})
	y := b.edit(InsertText{Pos: 1, Text: "Y"})
	a.receive(y)
	b.receive(x)

	assert.Equal(t, "aYXb", a.state.Value())
	assert.Equal(t, a.state.Value(), b.state.Value())
	assert.Equal(t, a.state.Export(), b.state.Export())
}

func TestText_InsertAfterDeletedAnchor(t *testing.T) {
	a := newReplica(t, ol.Text("t"), 1)
	b := newReplica(t, ol.Text("t"), 2)
	b.receive(a.edit(InsertText{Pos: 0, Text: "abc"}))

	del := a.edit(DeleteText{Pos: 1, Len: 1})
	ins := b.edit(InsertText{Pos: 2, Text: "Z"})
	a.receive(ins)
	b.receive(del)

	assert.Equal(t, "aZc", a.state.Value())
	assert.Equal(t, "aZc", b.state.Value())
}

func TestText_ConcurrentDeletesKeepSmallestDeleter(t *testing.T) {
	a := newReplica(t, ol.Text("t"), 1)
	b := newReplica(t, ol.Text("t"), 2)
	b.receive(a.edit(InsertText{Pos: 0, Text: "xy"}))

	da := a.edit(DeleteText{Pos: 0, Len: 2})
	db := b.edit(DeleteText{Pos: 1, Len: 1})
	a.receive(db)
	b.receive(da)

	assert.Equal(t, "", a.state.Value())
	assert.Equal(t, a.state.Export(), b.state.Export())

	runs := a.state.Export().Seq.Runs
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Len)
	assert.Equal(t, da.ID, runs[0].DeletedBy, "equal lamport, lower peer wins")
}

func TestText_CompactKeepsPositionForLateInsert(t *testing.T) {
	a := newReplica(t, ol.Text("t"), 1)
	b := newReplica(t, ol.Text("t"), 2)
	b.receive(a.edit(InsertText{Pos: 0, Text: "abc"}))

	late := b.edit(InsertText{Pos: 2, Text: "Z"})
	del := a.edit(DeleteText{Pos: 1, Len: 1})

	compactor := a.state.(Compactor)
	assert.Equal(t, 1, compactor.Compact(ol.VersionVector{1: 4}))
	assert.Zero(t, compactor.Compact(ol.VersionVector{1: 4}), "already collected")

	runs := a.state.Export().Seq.Runs
	require.Len(t, runs, 3)
	assert.True(t, runs[1].Deleted)
	assert.True(t, runs[1].DeletedBy.IsZero())
	assert.Zero(t, runs[1].DeletedLamport)

	a.receive(late)
	b.receive(del)
	assert.Equal(t, "aZc", a.state.Value())
	assert.Equal(t, "aZc", b.state.Value())

	// A delete of an already collected element is a no-op.
	require.NoError(t, a.state.ApplyRemote(&ol.Op{
		ID: ol.ID{Peer: 3, Counter: 1}, Lamport: 9, Container: ol.Text("t"),
		Content: ol.SeqDelete{Spans: []ol.IDSpan{{Peer: 1, Start: 2, End: 3}}},
	}, nil))
	assert.Equal(t, "aZc", a.state.Value())
	assert.True(t, a.state.Export().Seq.Runs[1].DeletedBy.IsZero())
}

func TestText_CompactConcurrentInsertsAroundTombstone(t *testing.T) {
	a := newReplica(t, ol.Text("t"), 1)
	b := newReplica(t, ol.Text("t"), 2)
	c := newReplica(t, ol.Text("t"), 5)
	d := newReplica(t, ol.Text("t"), 4)
	base := a.edit(InsertText{Pos: 0, Text: "abc"})
	b.receive(base)
	c.receive(base)
	d.receive(base)

	x := c.edit(InsertText{Pos: 2, Text: "X"})
	n := d.edit(InsertText{Pos: 1, Text: "N"})
	del := b.edit(DeleteText{Pos: 1, Len: 1})
	a.receive(del)
	c.receive(del)
	d.receive(del)

	// Every replica has seen the insert and the delete of "b".
	assert.Equal(t, 1, a.state.(Compactor).Compact(ol.VersionVector{1: 3, 2: 1}))

	a.receive(x, n)
	b.receive(n, x)
	c.receive(n)
	d.receive(x)
	for _, r := range []*replica{a, b, c, d} {
		assert.Equal(t, "aNXc", r.state.Value(), "peer %d", r.peer)
	}
}

func TestText_LocalEditErrors(t *testing.T) {
	text := NewText(ol.Text("t"))
	stamp := ol.Stamp{ID: ol.ID{Peer: 1, Counter: 1}, Lamport: 1}

	_, err := text.ApplyLocal(InsertText{Pos: 1, Text: "a"}, stamp, nil)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = text.ApplyLocal(InsertText{Pos: 0}, stamp, nil)
	assert.ErrorIs(t, err, ErrEmptyEdit)

	_, err = text.ApplyLocal(DeleteText{Pos: 0, Len: 1}, stamp, nil)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = text.ApplyLocal(SetKey{Key: "k"}, stamp, nil)
	assert.ErrorIs(t, err, ErrKindMismatch)

	err = text.ApplyRemote(&ol.Op{
		ID: ol.ID{Peer: 2, Counter: 1}, Lamport: 1, Container: ol.Text("t"),
		Content: ol.SeqInsert{After: ol.ID{Peer: 9, Counter: 9}, Text: "q"},
	}, nil)
	assert.ErrorIs(t, err, ErrUnknownAnchor)
	assert.Equal(t, "", text.String())
}

func TestText_RollbackRestoresState(t *testing.T) {
	a := newReplica(t, ol.Text("t"), 1)
	a.edit(InsertText{Pos: 0, Text: "hello"})
	a.edit(DeleteText{Pos: 1, Len: 2})
	before := a.state.Export()

	undo := &UndoLog{}
	_, err := a.state.ApplyLocal(InsertText{Pos: 3, Text: "!!"}, a.stamp(), undo)
	require.NoError(t, err)
	require.NoError(t, a.state.ApplyRemote(&ol.Op{
		ID: ol.ID{Peer: 2, Counter: 1}, Lamport: 20, Container: ol.Text("t"),
		Content: ol.SeqDelete{Spans: []ol.IDSpan{{Peer: 1, Start: 1, End: 6}}},
	}, undo))
	assert.Equal(t, "!!", a.state.Value())

	undo.Rollback()
	assert.Equal(t, "hlo", a.state.Value())
	assert.Equal(t, before, a.state.Export())
	assert.Zero(t, undo.Len())
}

func TestText_ExportRestore(t *testing.T) {
	a := newReplica(t, ol.Text("t"), 1)
	b := newReplica(t, ol.Text("t"), 2)
	b.receive(a.edit(InsertText{Pos: 0, Text: "crdt"}))
	a.receive(b.edit(InsertText{Pos: 4, Text: "s!"}))
	a.edit(DeleteText{Pos: 0, Len: 1})
	a.state.(Compactor).Compact(ol.VersionVector{1: 5, 2: 2})

	restored, err := Restore(a.state.Export())
	require.NoError(t, err)
	assert.Equal(t, a.state.Value(), restored.Value())
	assert.Equal(t, a.state.Export(), restored.Export())
}

// -----------------------------------------------------------------------------
// List
// -----------------------------------------------------------------------------

func TestList_InsertDeleteAndNormalize(t *testing.T) {
	a := newReplica(t, ol.List("l"), 1)
	a.edit(InsertList{Pos: 0, Values: []any{1, "two", 3.5, []any{int32(4)}}})
	a.edit(DeleteList{Pos: 1, Len: 1})

	assert.Equal(t, []any{int64(1), 3.5, []any{int64(4)}}, a.state.Value())

	restored, err := Restore(a.state.Export())
	require.NoError(t, err)
	assert.Equal(t, a.state.Value(), restored.Value())

	_, err = a.state.ApplyLocal(InsertList{Pos: 0, Values: []any{struct{}{}}}, a.stamp(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = a.state.ApplyLocal(InsertText{Pos: 0, Text: "x"}, a.stamp(), nil)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestList_RejectsTextPayload(t *testing.T) {
	l := NewList(ol.List("l"))
	err := l.ApplyRemote(&ol.Op{
		ID: ol.ID{Peer: 1, Counter: 1}, Lamport: 1, Container: ol.List("l"),
		Content: ol.SeqInsert{Text: "x"},
	}, nil)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestRestore_RejectsBadRuns(t *testing.T) {
	_, err := Restore(Snapshot{ID: ol.Text("t"), Seq: &SeqState{Runs: []SeqRun{
		{Start: ol.ID{Peer: 1, Counter: 1}, Lamport: 1, Len: 3, Text: "ab"},
	}}})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = Restore(Snapshot{ID: ol.Text("t"), Seq: &SeqState{Runs: []SeqRun{
		{Start: ol.ID{Peer: 1, Counter: 1}, Lamport: 1, Len: 1, Text: "a"},
		{Start: ol.ID{Peer: 1, Counter: 1}, Lamport: 1, Len: 1, Text: "a"},
	}}})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNormalizeValue(t *testing.T) {
	v, err := NormalizeValue(map[string]any{"a": []any{uint8(1), float32(0.5)}, "b": []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{int64(1), float64(0.5)}, "b": []byte("x")}, v)

	_, err = NormalizeValue(uint64(1))
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	var deep any = "leaf"
	for i := 0; i <= MaxValueDepth; i++ {
		deep = []any{deep}
	}
	_, err = NormalizeValue(deep)
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}
