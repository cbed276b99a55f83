package ol

import (
	"slices"
	"sort"

	"github.com/kevinxiao27/crdoc/util"
)

// Relation is the causal relation between two versions or two operations.
type Relation int

const (
	Equal Relation = iota
	Before
	After
	Concurrent
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	}
	return "concurrent"
}

// VersionVector maps each peer to the highest counter seen from it.
type VersionVector map[PeerID]Counter

func NewVersionVector() VersionVector {
	return make(VersionVector)
}

func (vv VersionVector) Get(p PeerID) Counter {
	return vv[p]
}

func (vv VersionVector) Set(p PeerID, c Counter) {
	if c == 0 {
		delete(vv, p)
		return
	}
	vv[p] = c
}

// Includes reports whether vv dominates id.
func (vv VersionVector) Includes(id ID) bool {
	return id.Counter > 0 && id.Counter <= vv[id.Peer]
}

func (vv VersionVector) IncludesSpan(s IDSpan) bool {
	return s.Len() == 0 || s.End-1 <= vv[s.Peer]
}

// Extend raises the entry for id.Peer to id.Counter if it is lower.
func (vv VersionVector) Extend(id ID) {
	if id.Counter > vv[id.Peer] {
		vv[id.Peer] = id.Counter
	}
}

// Merge takes the entry-wise maximum of vv and other into vv.
func (vv VersionVector) Merge(other VersionVector) {
	for p, c := range other {
		if c > vv[p] {
			vv[p] = c
		}
	}
}

func (vv VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(vv))
	for p, c := range vv {
		out[p] = c
	}
	return out
}

// Min returns the entry-wise minimum of vv and other, the part of history
// both have seen.
func (vv VersionVector) Min(other VersionVector) VersionVector {
	out := make(VersionVector)
	for p, c := range vv {
		if o := other[p]; o > 0 {
			out[p] = min(c, o)
		}
	}
	return out
}

// Compare reports Before when vv is strictly dominated by other.
func (vv VersionVector) Compare(other VersionVector) Relation {
	less, greater := false, false
	for p, c := range vv {
		switch o := other[p]; {
		case c < o:
			less = true
		case c > o:
			greater = true
		}
	}
	for p, o := range other {
		if _, ok := vv[p]; !ok && o > 0 {
			less = true
		}
	}
	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	}
	return Equal
}

func (vv VersionVector) Dominates(other VersionVector) bool {
	r := vv.Compare(other)
	return r == Equal || r == After
}

func (vv VersionVector) Equal(other VersionVector) bool {
	return vv.Compare(other) == Equal
}

// Peers returns the peers of vv in ascending order.
func (vv VersionVector) Peers() []PeerID {
	out := make([]PeerID, 0, len(vv))
	for p, c := range vv {
		if c > 0 {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// Frontier is the set of maximal ids of a causal past. It is the compressed
// form of a version vector: the vector is the frontier's causal closure.
type Frontier []ID

func (f Frontier) Clone() Frontier {
	if len(f) == 0 {
		return nil
	}
	return slices.Clone(f)
}

func (f Frontier) Equal(other Frontier) bool {
	return slices.Equal(f, other)
}

func sortFrontier(f Frontier) Frontier {
	sort.Slice(f, func(i, j int) bool {
		if f[i].Peer != f[j].Peer {
			return f[i].Peer < f[j].Peer
		}
		return f[i].Counter < f[j].Counter
	})
	return f
}

// advanceFrontier drops every entry op covers (its own peer, or a dependency
// at or past the entry) and adds op's last atom.
func advanceFrontier(frontier Frontier, op *Op) Frontier {
	f := util.Filter(frontier, func(id ID) bool {
		if id.Peer == op.ID.Peer {
			return false
		}
		return !util.Reduce(op.Deps, func(dep ID, covered bool) bool {
			return covered || (dep.Peer == id.Peer && dep.Counter >= id.Counter)
		}, false)
	})
	f = append(f, op.LastID())
	return sortFrontier(f)
}
