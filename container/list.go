package container

import (
	"fmt"

	"github.com/kevinxiao27/crdoc/ol"
)

// List is a sequence of values.
type List struct {
	id  ol.ContainerID
	seq *sequence[any]
}

func NewList(id ol.ContainerID) *List {
	return &List{id: id, seq: newSequence[any]()}
}

func (l *List) ID() ol.ContainerID { return l.id }

func (l *List) Len() int { return l.seq.live }

func (l *List) Values() []any {
	vals := l.seq.values()
	for i, v := range vals {
		vals[i] = cloneValue(v)
	}
	return vals
}

func (l *List) Value() any { return l.Values() }

func (l *List) ApplyLocal(edit Edit, stamp ol.Stamp, undo *UndoLog) (*ol.Op, error) {
	var content ol.Content
	switch e := edit.(type) {
	case InsertList:
		if len(e.Values) == 0 {
			return nil, ErrEmptyEdit
		}
		vals, err := normalizeAll(e.Values)
		if err != nil {
			return nil, err
		}
		after, err := l.seq.anchorFor(e.Pos)
		if err != nil {
			return nil, err
		}
		content = ol.SeqInsert{After: after, Values: vals}
	case DeleteList:
		spans, err := l.seq.spansFor(e.Pos, e.Len)
		if err != nil {
			return nil, err
		}
		content = ol.SeqDelete{Spans: spans}
	default:
		return nil, kindMismatch(l.id, edit)
	}
	op := newOp(l.id, stamp, content)
	if err := l.ApplyRemote(op, undo); err != nil {
		return nil, err
	}
	return op, nil
}

func (l *List) ApplyRemote(op *ol.Op, undo *UndoLog) error {
	return l.seq.apply(op, undo, func(ins ol.SeqInsert) ([]any, error) {
		if ins.Values == nil {
			return nil, fmt.Errorf("%w: text on %s", ErrKindMismatch, l.id)
		}
		return ins.Values, nil
	})
}

func (l *List) Compact(stable ol.VersionVector) int {
	return l.seq.compact(stable)
}

func (l *List) Export() Snapshot {
	return Snapshot{ID: l.id, Seq: l.seq.export(func(run *SeqRun, vals []any) {
		run.Values = vals
	})}
}

func restoreList(s Snapshot) (*List, error) {
	seq, err := restoreSequence(s.Seq, func(run SeqRun) ([]any, error) {
		return run.Values, nil
	})
	if err != nil {
		return nil, err
	}
	return &List{id: s.ID, seq: seq}, nil
}
