package container

import (
	"fmt"
	"slices"

	"github.com/kevinxiao27/crdoc/ol"
)

type element[T any] struct {
	id             ol.ID
	lamport        ol.Lamport
	value          T
	deleted        bool
	deletedBy      ol.ID
	deletedLamport ol.Lamport
}

// collected reports whether compaction has folded e into a bare position
// marker. Its deleter is forgotten and later deletes no longer touch it.
func (e *element[T]) collected() bool {
	return e.deleted && e.deletedBy.IsZero()
}

func (e *element[T]) after(lamport ol.Lamport, id ol.ID) bool {
	return ol.CompareStamp(e.lamport, e.id, lamport, id) > 0
}

// sequence is a replicated growable array. Each element is anchored to the
// element that was on its left when it was inserted; concurrent inserts after
// the same anchor are ordered by descending (lamport, peer).
type sequence[T any] struct {
	elems []*element[T]
	byID  map[ol.ID]*element[T]
	live  int
}

func newSequence[T any]() *sequence[T] {
	return &sequence[T]{byID: make(map[ol.ID]*element[T])}
}

func (s *sequence[T]) indexOf(id ol.ID) int {
	for i, e := range s.elems {
		if e.id == id {
			return i
		}
	}
	return -1
}

func (s *sequence[T]) insertAt(i int, e *element[T], undo *UndoLog) {
	s.elems = slices.Insert(s.elems, i, e)
	s.byID[e.id] = e
	s.live++
	undo.Push(func() {
		if j := s.indexOf(e.id); j >= 0 {
			s.elems = slices.Delete(s.elems, j, j+1)
		}
		delete(s.byID, e.id)
		s.live--
	})
}

// integrate inserts values as consecutive atoms starting at id/lamport, the
// first anchored after anchor and each later one after its predecessor.
func (s *sequence[T]) integrate(anchor ol.ID, id ol.ID, lamport ol.Lamport, values []T, undo *UndoLog) error {
	for k, v := range values {
		pos := 0
		if !anchor.IsZero() {
			if _, ok := s.byID[anchor]; !ok {
				return fmt.Errorf("%w: %s", ErrUnknownAnchor, anchor)
			}
			pos = s.indexOf(anchor) + 1
		}
		atomID, atomLamport := id.Inc(k), lamport+ol.Lamport(k)
		if _, dup := s.byID[atomID]; dup {
			return fmt.Errorf("%w: element %s already integrated", ErrInvalidState, atomID)
		}
		for pos < len(s.elems) && s.elems[pos].after(atomLamport, atomID) {
			pos++
		}
		s.insertAt(pos, &element[T]{id: atomID, lamport: atomLamport, value: v}, undo)
		anchor = atomID
	}
	return nil
}

// remove tombstones the elements in spans on behalf of the delete op by.
// Elements already collected by compaction keep no deleter and are skipped.
func (s *sequence[T]) remove(spans []ol.IDSpan, by ol.ID, byLamport ol.Lamport, undo *UndoLog) error {
	for _, span := range spans {
		for c := span.Start; c < span.End; c++ {
			id := ol.ID{Peer: span.Peer, Counter: c}
			e, ok := s.byID[id]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownElement, id)
			}
			if e.collected() {
				continue
			}
			prev := *e
			switch {
			case !e.deleted:
				var zero T
				e.deleted, e.value = true, zero
				e.deletedBy, e.deletedLamport = by, byLamport
				s.live--
			case ol.CompareStamp(byLamport, by, e.deletedLamport, e.deletedBy) < 0:
				e.deletedBy, e.deletedLamport = by, byLamport
			default:
				continue
			}
			undo.Push(func() {
				if !prev.deleted {
					s.live++
				}
				*e = prev
			})
		}
	}
	return nil
}

// visibleIndex returns the index in elems of the pos-th visible element.
func (s *sequence[T]) visibleIndex(pos int) int {
	for i, e := range s.elems {
		if e.deleted {
			continue
		}
		if pos == 0 {
			return i
		}
		pos--
	}
	return -1
}

// anchorFor returns the id of the visible element left of pos.
func (s *sequence[T]) anchorFor(pos int) (ol.ID, error) {
	if pos < 0 || pos > s.live {
		return ol.ID{}, fmt.Errorf("%w: insert at %d of %d", ErrOutOfBounds, pos, s.live)
	}
	if pos == 0 {
		return ol.ID{}, nil
	}
	return s.elems[s.visibleIndex(pos-1)].id, nil
}

// spansFor collects the ids of n visible elements starting at pos.
func (s *sequence[T]) spansFor(pos, n int) ([]ol.IDSpan, error) {
	if n <= 0 {
		return nil, ErrEmptyEdit
	}
	if pos < 0 || pos+n > s.live {
		return nil, fmt.Errorf("%w: delete %d at %d of %d", ErrOutOfBounds, n, pos, s.live)
	}
	var spans []ol.IDSpan
	for i := s.visibleIndex(pos); n > 0; i++ {
		e := s.elems[i]
		if e.deleted {
			continue
		}
		if k := len(spans) - 1; k >= 0 && spans[k].Peer == e.id.Peer && spans[k].End == e.id.Counter {
			spans[k].End++
		} else {
			spans = append(spans, ol.IDSpan{Peer: e.id.Peer, Start: e.id.Counter, End: e.id.Counter + 1})
		}
		n--
	}
	return spans, nil
}

func (s *sequence[T]) values() []T {
	out := make([]T, 0, s.live)
	for _, e := range s.elems {
		if !e.deleted {
			out = append(out, e.value)
		}
	}
	return out
}

// compact folds tombstones whose insert and delete are both in stable into
// position markers. A marker still holds its id and stamp in place: an insert
// that arrives later, anchored at it or at a neighbour, is ordered against it
// exactly as against the tombstone. Markers shed their deleter, so adjacent
// runs deleted by different ops export as one.
func (s *sequence[T]) compact(stable ol.VersionVector) int {
	n := 0
	for _, e := range s.elems {
		if e.deleted && !e.collected() && stable.Includes(e.id) && stable.Includes(e.deletedBy) {
			e.deletedBy, e.deletedLamport = ol.ID{}, 0
			n++
		}
	}
	return n
}

// apply dispatches a sequence op. payload converts the inserted atoms.
func (s *sequence[T]) apply(op *ol.Op, undo *UndoLog, payload func(ol.SeqInsert) ([]T, error)) error {
	switch c := op.Content.(type) {
	case ol.SeqInsert:
		vals, err := payload(c)
		if err != nil {
			return err
		}
		return s.integrate(c.After, op.ID, op.Lamport, vals, undo)
	case ol.SeqDelete:
		return s.remove(c.Spans, op.ID, op.Lamport, undo)
	}
	return fmt.Errorf("%w: %T on sequence", ErrKindMismatch, op.Content)
}

func (s *sequence[T]) export(fill func(run *SeqRun, vals []T)) *SeqState {
	st := &SeqState{}
	var vals []T
	flush := func() {
		if len(st.Runs) > 0 {
			run := &st.Runs[len(st.Runs)-1]
			if !run.Deleted {
				fill(run, vals)
			}
		}
		vals = nil
	}
	for _, e := range s.elems {
		if k := len(st.Runs) - 1; k >= 0 {
			run := &st.Runs[k]
			if run.Len < MaxRunLen &&
				run.Start.Peer == e.id.Peer &&
				run.Start.Counter+ol.Counter(run.Len) == e.id.Counter &&
				run.Lamport+ol.Lamport(run.Len) == e.lamport &&
				run.Deleted == e.deleted &&
				run.DeletedBy == e.deletedBy &&
				run.DeletedLamport == e.deletedLamport {
				run.Len++
				vals = append(vals, e.value)
				continue
			}
		}
		flush()
		st.Runs = append(st.Runs, SeqRun{
			Start:          e.id,
			Lamport:        e.lamport,
			Len:            1,
			Deleted:        e.deleted,
			DeletedBy:      e.deletedBy,
			DeletedLamport: e.deletedLamport,
		})
		vals = append(vals, e.value)
	}
	flush()
	return st
}

func restoreSequence[T any](st *SeqState, expand func(run SeqRun) ([]T, error)) (*sequence[T], error) {
	s := newSequence[T]()
	if st == nil {
		return s, nil
	}
	for _, run := range st.Runs {
		if run.Len <= 0 || run.Len > MaxRunLen || run.Start.Counter == 0 || run.Lamport == 0 ||
			run.DeletedBy.IsZero() != (run.DeletedLamport == 0) || !run.Deleted && run.DeletedLamport != 0 {
			return nil, fmt.Errorf("%w: bad run at %s", ErrInvalidState, run.Start)
		}
		var vals []T
		if run.Deleted {
			vals = make([]T, run.Len)
		} else {
			var err error
			if vals, err = expand(run); err != nil {
				return nil, err
			}
			if len(vals) != run.Len {
				return nil, fmt.Errorf("%w: run %s has %d values, want %d", ErrInvalidState, run.Start, len(vals), run.Len)
			}
		}
		for k, v := range vals {
			e := &element[T]{
				id:             run.Start.Inc(k),
				lamport:        run.Lamport + ol.Lamport(k),
				value:          v,
				deleted:        run.Deleted,
				deletedBy:      run.DeletedBy,
				deletedLamport: run.DeletedLamport,
			}
			if _, dup := s.byID[e.id]; dup {
				return nil, fmt.Errorf("%w: duplicate element %s", ErrInvalidState, e.id)
			}
			s.elems = append(s.elems, e)
			s.byID[e.id] = e
			if !e.deleted {
				s.live++
			}
		}
	}
	return s, nil
}
