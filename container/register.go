package container

import "github.com/kevinxiao27/crdoc/ol"

// register is a last-writer-wins cell. The write with the greatest
// (lamport, peer, counter) wins; deletes are writes too.
type register struct {
	value   any
	deleted bool
	id      ol.ID
	lamport ol.Lamport
}

func (r *register) beats(lamport ol.Lamport, id ol.ID) bool {
	return ol.CompareStamp(r.lamport, r.id, lamport, id) > 0
}

// lwwSet writes into regs[key] if the write wins and records the inverse.
func lwwSet(regs map[string]*register, key string, next register, undo *UndoLog) bool {
	prev, ok := regs[key]
	if ok && prev.beats(next.lamport, next.id) {
		return false
	}
	regs[key] = &next
	undo.Push(func() {
		if ok {
			regs[key] = prev
		} else {
			delete(regs, key)
		}
	})
	return true
}

func liveValues(regs map[string]*register) map[string]any {
	var out map[string]any
	for k, r := range regs {
		if r.deleted {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = cloneValue(r.value)
	}
	return out
}
