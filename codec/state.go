package codec

import (
	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
)

func encodeState(s *container.Snapshot) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	switch s.ID.Kind {
	case ol.KindText, ol.KindList:
		if s.Seq == nil {
			return b, nil
		}
		for _, run := range s.Seq.Runs {
			var r []byte
			r = appendID(r, 1, run.Start)
			r = appendUint(r, 2, uint64(run.Lamport))
			r = appendUint(r, 3, uint64(run.Len))
			if run.Deleted {
				r = appendFlag(r, 4, true)
				r = appendID(r, 5, run.DeletedBy)
				r = appendUint(r, 6, uint64(run.DeletedLamport))
			} else if s.ID.Kind == ol.KindText {
				r = appendString(r, 7, run.Text)
			} else {
				for _, v := range run.Values {
					if r, err = appendValue(r, 8, v); err != nil {
						return nil, err
					}
				}
			}
			b = appendMessage(b, 1, r)
		}
	case ol.KindMap:
		if s.Map == nil {
			return b, nil
		}
		for _, e := range s.Map.Entries {
			var r []byte
			r = appendString(r, 1, e.Key)
			if !e.Deleted {
				if r, err = appendValue(r, 2, e.Value); err != nil {
					return nil, err
				}
			}
			r = appendFlag(r, 3, e.Deleted)
			r = appendID(r, 4, e.ID)
			r = appendUint(r, 5, uint64(e.Lamport))
			b = appendMessage(b, 1, r)
		}
	case ol.KindTree:
		if s.Tree == nil {
			return b, nil
		}
		for _, m := range s.Tree.Moves {
			var r []byte
			r = appendID(r, 1, m.ID)
			r = appendUint(r, 2, uint64(m.Lamport))
			r = appendUint(r, 3, uint64(m.Action))
			r = appendID(r, 4, m.Target)
			r = appendID(r, 5, m.Parent)
			r = appendString(r, 6, m.Position)
			b = appendMessage(b, 1, r)
		}
		for _, m := range s.Tree.Meta {
			var r []byte
			r = appendID(r, 1, m.Target)
			r = appendString(r, 2, m.Key)
			if !m.Deleted {
				if r, err = appendValue(r, 3, m.Value); err != nil {
					return nil, err
				}
			}
			r = appendFlag(r, 4, m.Deleted)
			r = appendID(r, 5, m.ID)
			r = appendUint(r, 6, uint64(m.Lamport))
			b = appendMessage(b, 2, r)
		}
	default:
		return nil, corrupt("cannot encode state of %s", s.ID)
	}
	return b, nil
}

// subMessages returns the fields of every nested message with field number
// num inside b.
func subMessages(fs []field, num int) ([][]field, error) {
	var out [][]field
	for _, f := range fs {
		if int(f.num) != num {
			continue
		}
		b, err := f.bytes()
		if err != nil {
			return nil, err
		}
		sub, err := fields(b)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func decodeState(cid ol.ContainerID, raw []byte) (container.Snapshot, error) {
	snap := container.Snapshot{ID: cid}
	fs, err := fields(raw)
	if err != nil {
		return snap, err
	}
	switch cid.Kind {
	case ol.KindText, ol.KindList:
		snap.Seq, err = decodeSeqState(cid.Kind, fs)
	case ol.KindMap:
		snap.Map, err = decodeMapState(fs)
	case ol.KindTree:
		snap.Tree, err = decodeTreeState(fs)
	default:
		err = corrupt("unknown container kind %d", cid.Kind)
	}
	return snap, err
}

func decodeSeqState(kind ol.ContainerKind, fs []field) (*container.SeqState, error) {
	st := &container.SeqState{}
	runs, err := subMessages(fs, 1)
	if err != nil {
		return nil, err
	}
	for _, rfs := range runs {
		var run container.SeqRun
		for _, f := range rfs {
			var v uint64
			switch f.num {
			case 1:
				run.Start, err = decodeID(f)
			case 2:
				v, err = f.uint()
				run.Lamport = ol.Lamport(v)
			case 3:
				v, err = f.uint()
				run.Len = int(v)
				if err == nil && (v == 0 || v > container.MaxRunLen) {
					err = corrupt("bad run length %d", v)
				}
			case 4:
				run.Deleted, err = f.flag()
			case 5:
				run.DeletedBy, err = decodeID(f)
			case 6:
				v, err = f.uint()
				run.DeletedLamport = ol.Lamport(v)
			case 7:
				if kind != ol.KindText {
					err = corrupt("text run in list state")
					break
				}
				run.Text, err = f.str()
			case 8:
				if kind != ol.KindList {
					err = corrupt("values run in text state")
					break
				}
				var val any
				if val, err = decodeValue(f); err == nil {
					run.Values = append(run.Values, val)
				}
			}
			if err != nil {
				return nil, err
			}
		}
		st.Runs = append(st.Runs, run)
	}
	return st, nil
}

func decodeMapState(fs []field) (*container.MapState, error) {
	st := &container.MapState{}
	entries, err := subMessages(fs, 1)
	if err != nil {
		return nil, err
	}
	for _, efs := range entries {
		var e container.MapEntry
		for _, f := range efs {
			var v uint64
			switch f.num {
			case 1:
				e.Key, err = f.str()
			case 2:
				e.Value, err = decodeValue(f)
			case 3:
				e.Deleted, err = f.flag()
			case 4:
				e.ID, err = decodeID(f)
			case 5:
				v, err = f.uint()
				e.Lamport = ol.Lamport(v)
			}
			if err != nil {
				return nil, err
			}
		}
		st.Entries = append(st.Entries, e)
	}
	return st, nil
}

func decodeTreeState(fs []field) (*container.TreeState, error) {
	st := &container.TreeState{}
	moves, err := subMessages(fs, 1)
	if err != nil {
		return nil, err
	}
	for _, mfs := range moves {
		var m container.TreeRecord
		for _, f := range mfs {
			var v uint64
			switch f.num {
			case 1:
				m.ID, err = decodeID(f)
			case 2:
				v, err = f.uint()
				m.Lamport = ol.Lamport(v)
			case 3:
				v, err = f.uint()
				m.Action = ol.TreeAction(v)
				if err == nil && (v < uint64(ol.TreeCreate) || v > uint64(ol.TreeDelete)) {
					err = corrupt("unknown tree action %d", v)
				}
			case 4:
				m.Target, err = decodeID(f)
			case 5:
				m.Parent, err = decodeID(f)
			case 6:
				m.Position, err = f.str()
			}
			if err != nil {
				return nil, err
			}
		}
		st.Moves = append(st.Moves, m)
	}
	metas, err := subMessages(fs, 2)
	if err != nil {
		return nil, err
	}
	for _, mfs := range metas {
		var m container.TreeMetaEntry
		for _, f := range mfs {
			var v uint64
			switch f.num {
			case 1:
				m.Target, err = decodeID(f)
			case 2:
				m.Key, err = f.str()
			case 3:
				m.Value, err = decodeValue(f)
			case 4:
				m.Deleted, err = f.flag()
			case 5:
				m.ID, err = decodeID(f)
			case 6:
				v, err = f.uint()
				m.Lamport = ol.Lamport(v)
			}
			if err != nil {
				return nil, err
			}
		}
		st.Meta = append(st.Meta, m)
	}
	return st, nil
}
