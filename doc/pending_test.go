package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/crdoc/ol"
)

func pendingTestOp(peer ol.PeerID, counter ol.Counter) *ol.Op {
	return &ol.Op{
		ID:        ol.ID{Peer: peer, Counter: counter},
		Lamport:   ol.Lamport(counter),
		Container: ol.Map("m"),
		Content:   ol.MapSet{Key: "k"},
	}
}

func TestPendingBuffer_TakeReleasesByWaitedPeer(t *testing.T) {
	b := newPendingBuffer(10)
	x := pendingTestOp(1, 3)
	y := pendingTestOp(2, 1)
	z := pendingTestOp(3, 1)
	require.NoError(t, b.add(x, ol.ID{Peer: 1, Counter: 2}))
	require.NoError(t, b.add(y, ol.ID{Peer: 1, Counter: 5}))
	require.NoError(t, b.add(z, ol.ID{Peer: 4, Counter: 1}))
	assert.Equal(t, 3, b.len())
	assert.True(t, b.contains(y.ID))

	assert.Equal(t, []*ol.Op{x}, b.take(1, 2))
	assert.Nil(t, b.take(1, 4))
	assert.Equal(t, []*ol.Op{y}, b.take(1, 5))
	assert.False(t, b.contains(y.ID))
	assert.Equal(t, 1, b.len())
}

func TestPendingBuffer_CapacityAndClone(t *testing.T) {
	b := newPendingBuffer(1)
	require.NoError(t, b.add(pendingTestOp(1, 2), ol.ID{Peer: 1, Counter: 1}))
	assert.ErrorIs(t, b.add(pendingTestOp(2, 2), ol.ID{Peer: 2, Counter: 1}), ErrBufferOverflow)

	c := b.clone()
	b.take(1, 1)
	assert.Equal(t, 0, b.len())
	assert.Equal(t, 1, c.len())

	dropped := c.drain()
	assert.Len(t, dropped, 1)
	assert.Equal(t, 0, c.len())
}
