package ol

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// IDAllocator hands out ids for the one peer allowed to author ops on a log.
type IDAllocator struct {
	log     *OpLog
	peer    PeerID
	retired mapset.Set[PeerID]
}

func NewIDAllocator(log *OpLog, peer PeerID) (*IDAllocator, error) {
	if peer == InvalidPeer {
		return nil, fmt.Errorf("%w: peer %d is reserved", ErrInvalidReplica, peer)
	}
	return &IDAllocator{log: log, peer: peer, retired: mapset.NewThreadUnsafeSet[PeerID]()}, nil
}

func (a *IDAllocator) Peer() PeerID {
	return a.peer
}

// Next allocates the next id of peer along with its Lamport timestamp and the
// log's current frontier as its dependencies. Only the counter of the first
// atom is reserved; the op must be appended before the next call.
func (a *IDAllocator) Next(peer PeerID) (Stamp, error) {
	if peer != a.peer {
		if a.retired.Contains(peer) {
			return Stamp{}, fmt.Errorf("%w: peer %d is retired", ErrInvalidReplica, peer)
		}
		return Stamp{}, fmt.Errorf("%w: peer %d is not the active peer", ErrInvalidReplica, peer)
	}
	return Stamp{
		ID:      ID{Peer: peer, Counter: a.log.version[peer] + 1},
		Lamport: a.log.NextLamport(),
		Deps:    a.log.Frontier(),
	}, nil
}

// SetPeer switches the active peer. The previous peer is retired and can
// never author ops on this log again. A peer that already has ops in the log
// belongs to another replica and is refused.
func (a *IDAllocator) SetPeer(peer PeerID) error {
	if peer == InvalidPeer || a.retired.Contains(peer) {
		return fmt.Errorf("%w: cannot switch to peer %d", ErrInvalidReplica, peer)
	}
	if peer == a.peer {
		return nil
	}
	if a.log.version.Get(peer) > 0 {
		return fmt.Errorf("%w: peer %d already authored ops", ErrInvalidReplica, peer)
	}
	a.retired.Add(a.peer)
	a.peer = peer
	return nil
}
