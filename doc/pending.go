package doc

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kevinxiao27/crdoc/ol"
)

type pendingOp struct {
	op      *ol.Op
	waitFor ol.ID
}

// pendingBuffer holds remote ops whose dependencies have not arrived,
// keyed by the peer of the atom they wait for.
type pendingBuffer struct {
	capacity int
	byPeer   map[ol.PeerID][]pendingOp
	ids      mapset.Set[ol.ID]
}

func newPendingBuffer(capacity int) *pendingBuffer {
	return &pendingBuffer{
		capacity: capacity,
		byPeer:   make(map[ol.PeerID][]pendingOp),
		ids:      mapset.NewThreadUnsafeSet[ol.ID](),
	}
}

func (b *pendingBuffer) len() int {
	return b.ids.Cardinality()
}

func (b *pendingBuffer) contains(id ol.ID) bool {
	return b.ids.Contains(id)
}

func (b *pendingBuffer) add(op *ol.Op, waitFor ol.ID) error {
	if b.len() >= b.capacity {
		return fmt.Errorf("%w: %d ops already waiting", ErrBufferOverflow, b.len())
	}
	b.byPeer[waitFor.Peer] = append(b.byPeer[waitFor.Peer], pendingOp{op: op, waitFor: waitFor})
	b.ids.Add(op.ID)
	return nil
}

// take removes and returns the ops waiting for an atom of peer at or
// below upTo.
func (b *pendingBuffer) take(peer ol.PeerID, upTo ol.Counter) []*ol.Op {
	waiting := b.byPeer[peer]
	if len(waiting) == 0 {
		return nil
	}
	var ready []*ol.Op
	kept := waiting[:0:0]
	for _, p := range waiting {
		if p.waitFor.Counter <= upTo {
			ready = append(ready, p.op)
			b.ids.Remove(p.op.ID)
		} else {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(b.byPeer, peer)
	} else {
		b.byPeer[peer] = kept
	}
	return ready
}

func (b *pendingBuffer) clone() *pendingBuffer {
	out := &pendingBuffer{
		capacity: b.capacity,
		byPeer:   make(map[ol.PeerID][]pendingOp, len(b.byPeer)),
		ids:      b.ids.Clone(),
	}
	for p, ops := range b.byPeer {
		out.byPeer[p] = append([]pendingOp(nil), ops...)
	}
	return out
}

// drain empties the buffer and returns what it held.
func (b *pendingBuffer) drain() []*ol.Op {
	var out []*ol.Op
	for _, ops := range b.byPeer {
		for _, p := range ops {
			out = append(out, p.op)
		}
	}
	ol.SortOps(out)
	b.byPeer = make(map[ol.PeerID][]pendingOp)
	b.ids.Clear()
	return out
}
