package container

import (
	"fmt"

	"github.com/kevinxiao27/crdoc/ol"
)

// Text is a sequence of runes.
type Text struct {
	id  ol.ContainerID
	seq *sequence[rune]
}

func NewText(id ol.ContainerID) *Text {
	return &Text{id: id, seq: newSequence[rune]()}
}

func (t *Text) ID() ol.ContainerID { return t.id }

// Len returns the number of visible runes.
func (t *Text) Len() int { return t.seq.live }

func (t *Text) String() string { return string(t.seq.values()) }

func (t *Text) Value() any { return t.String() }

func (t *Text) ApplyLocal(edit Edit, stamp ol.Stamp, undo *UndoLog) (*ol.Op, error) {
	var content ol.Content
	switch e := edit.(type) {
	case InsertText:
		if e.Text == "" {
			return nil, ErrEmptyEdit
		}
		after, err := t.seq.anchorFor(e.Pos)
		if err != nil {
			return nil, err
		}
		content = ol.SeqInsert{After: after, Text: e.Text}
	case DeleteText:
		spans, err := t.seq.spansFor(e.Pos, e.Len)
		if err != nil {
			return nil, err
		}
		content = ol.SeqDelete{Spans: spans}
	default:
		return nil, kindMismatch(t.id, edit)
	}
	op := newOp(t.id, stamp, content)
	if err := t.ApplyRemote(op, undo); err != nil {
		return nil, err
	}
	return op, nil
}

func (t *Text) ApplyRemote(op *ol.Op, undo *UndoLog) error {
	return t.seq.apply(op, undo, func(ins ol.SeqInsert) ([]rune, error) {
		if ins.Values != nil {
			return nil, fmt.Errorf("%w: list values on %s", ErrKindMismatch, t.id)
		}
		return []rune(ins.Text), nil
	})
}

func (t *Text) Compact(stable ol.VersionVector) int {
	return t.seq.compact(stable)
}

func (t *Text) Export() Snapshot {
	return Snapshot{ID: t.id, Seq: t.seq.export(func(run *SeqRun, vals []rune) {
		run.Text = string(vals)
	})}
}

func restoreText(s Snapshot) (*Text, error) {
	seq, err := restoreSequence(s.Seq, func(run SeqRun) ([]rune, error) {
		return []rune(run.Text), nil
	})
	if err != nil {
		return nil, err
	}
	return &Text{id: s.ID, seq: seq}, nil
}
