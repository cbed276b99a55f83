package container

import (
	"fmt"
	"sort"

	"github.com/kevinxiao27/crdoc/ol"
)

// Map is a set of last-writer-wins registers keyed by string.
type Map struct {
	id   ol.ContainerID
	regs map[string]*register
}

func NewMap(id ol.ContainerID) *Map {
	return &Map{id: id, regs: make(map[string]*register)}
}

func (m *Map) ID() ol.ContainerID { return m.id }

// Get returns the live value of key.
func (m *Map) Get(key string) (any, bool) {
	r, ok := m.regs[key]
	if !ok || r.deleted {
		return nil, false
	}
	return cloneValue(r.value), true
}

func (m *Map) Value() any {
	out := liveValues(m.regs)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (m *Map) ApplyLocal(edit Edit, stamp ol.Stamp, undo *UndoLog) (*ol.Op, error) {
	var content ol.MapSet
	switch e := edit.(type) {
	case SetKey:
		v, err := NormalizeValue(e.Value)
		if err != nil {
			return nil, err
		}
		content = ol.MapSet{Key: e.Key, Value: v}
	case DeleteKey:
		content = ol.MapSet{Key: e.Key, Deleted: true}
	default:
		return nil, kindMismatch(m.id, edit)
	}
	op := newOp(m.id, stamp, content)
	if err := m.ApplyRemote(op, undo); err != nil {
		return nil, err
	}
	return op, nil
}

func (m *Map) ApplyRemote(op *ol.Op, undo *UndoLog) error {
	set, ok := op.Content.(ol.MapSet)
	if !ok {
		return fmt.Errorf("%w: %T on %s", ErrKindMismatch, op.Content, m.id)
	}
	next := register{id: op.ID, lamport: op.Lamport, deleted: set.Deleted}
	if !set.Deleted {
		next.value = set.Value
	}
	lwwSet(m.regs, set.Key, next, undo)
	return nil
}

func (m *Map) Export() Snapshot {
	st := &MapState{}
	for k, r := range m.regs {
		st.Entries = append(st.Entries, MapEntry{Key: k, Value: r.value, Deleted: r.deleted, ID: r.id, Lamport: r.lamport})
	}
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Key < st.Entries[j].Key })
	return Snapshot{ID: m.id, Map: st}
}

func restoreMap(s Snapshot) (*Map, error) {
	m := NewMap(s.ID)
	if s.Map == nil {
		return m, nil
	}
	for _, e := range s.Map.Entries {
		if _, dup := m.regs[e.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidState, e.Key)
		}
		m.regs[e.Key] = &register{value: e.Value, deleted: e.Deleted, id: e.ID, lamport: e.Lamport}
	}
	return m, nil
}
