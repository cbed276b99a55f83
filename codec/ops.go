package codec

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kevinxiao27/crdoc/ol"
)

// Op fields.
const (
	opID      protowire.Number = 1
	opLamport protowire.Number = 2
	opDep     protowire.Number = 3
	opContent protowire.Number = 4
)

// Content variants, one per field.
const (
	contentSeqInsert protowire.Number = iota + 1
	contentSeqDelete
	contentMapSet
	contentTreeMove
	contentTreeMeta
)

func encodeOp(op *ol.Op) ([]byte, error) {
	var b []byte
	b = appendID(b, opID, op.ID)
	b = appendUint(b, opLamport, uint64(op.Lamport))
	for _, dep := range op.Deps {
		b = appendID(b, opDep, dep)
	}

	var (
		num protowire.Number
		msg []byte
		err error
	)
	switch c := op.Content.(type) {
	case ol.SeqInsert:
		num = contentSeqInsert
		msg = appendID(msg, 1, c.After)
		if c.Values != nil {
			for _, v := range c.Values {
				if msg, err = appendValue(msg, 3, v); err != nil {
					return nil, err
				}
			}
		} else {
			msg = appendString(msg, 2, c.Text)
		}
	case ol.SeqDelete:
		num = contentSeqDelete
		for _, s := range c.Spans {
			var span []byte
			span = protowire.AppendTag(span, 1, protowire.Fixed64Type)
			span = protowire.AppendFixed64(span, uint64(s.Peer))
			span = appendUint(span, 2, uint64(s.Start))
			span = appendUint(span, 3, uint64(s.End))
			msg = appendMessage(msg, 1, span)
		}
	case ol.MapSet:
		num = contentMapSet
		msg = appendString(msg, 1, c.Key)
		if !c.Deleted {
			if msg, err = appendValue(msg, 2, c.Value); err != nil {
				return nil, err
			}
		}
		msg = appendFlag(msg, 3, c.Deleted)
	case ol.TreeMove:
		num = contentTreeMove
		msg = appendUint(msg, 1, uint64(c.Action))
		msg = appendID(msg, 2, c.Target)
		msg = appendID(msg, 3, c.Parent)
		msg = appendString(msg, 4, c.Position)
	case ol.TreeMeta:
		num = contentTreeMeta
		msg = appendID(msg, 1, c.Target)
		msg = appendString(msg, 2, c.Key)
		if !c.Deleted {
			if msg, err = appendValue(msg, 3, c.Value); err != nil {
				return nil, err
			}
		}
		msg = appendFlag(msg, 4, c.Deleted)
	default:
		return nil, corrupt("cannot encode content %T", op.Content)
	}

	var content []byte
	content = appendMessage(content, num, msg)
	return appendMessage(b, opContent, content), nil
}

func decodeOp(cid ol.ContainerID, raw []byte) (*ol.Op, error) {
	fs, err := fields(raw)
	if err != nil {
		return nil, err
	}
	op := &ol.Op{Container: cid}
	var hasID bool
	for _, f := range fs {
		switch f.num {
		case opID:
			if op.ID, err = decodeID(f); err != nil {
				return nil, err
			}
			hasID = true
		case opLamport:
			v, err := f.uint()
			if err != nil {
				return nil, err
			}
			op.Lamport = ol.Lamport(v)
		case opDep:
			dep, err := decodeID(f)
			if err != nil {
				return nil, err
			}
			op.Deps = append(op.Deps, dep)
		case opContent:
			if op.Content != nil {
				return nil, corrupt("op with two contents")
			}
			if op.Content, err = decodeContent(cid.Kind, f); err != nil {
				return nil, err
			}
		}
	}
	switch {
	case !hasID || op.ID.Counter == 0:
		return nil, corrupt("op without id")
	case op.Content == nil:
		return nil, corrupt("op %s without content", op.ID)
	case op.Len() < 1:
		return nil, corrupt("op %s is empty", op.ID)
	}
	return op, nil
}

func decodeContent(kind ol.ContainerKind, f field) (ol.Content, error) {
	b, err := f.bytes()
	if err != nil {
		return nil, err
	}
	fs, err := fields(b)
	if err != nil {
		return nil, err
	}
	if len(fs) != 1 {
		return nil, corrupt("content has %d variants", len(fs))
	}
	v := fs[0]
	msg, err := v.bytes()
	if err != nil {
		return nil, err
	}
	inner, err := fields(msg)
	if err != nil {
		return nil, err
	}

	switch {
	case v.num == contentSeqInsert && (kind == ol.KindText || kind == ol.KindList):
		return decodeSeqInsert(kind, inner)
	case v.num == contentSeqDelete && (kind == ol.KindText || kind == ol.KindList):
		return decodeSeqDelete(inner)
	case v.num == contentMapSet && kind == ol.KindMap:
		var c ol.MapSet
		for _, f := range inner {
			switch f.num {
			case 1:
				c.Key, err = f.str()
			case 2:
				c.Value, err = decodeValue(f)
			case 3:
				c.Deleted, err = f.flag()
			}
			if err != nil {
				return nil, err
			}
		}
		return c, nil
	case v.num == contentTreeMove && kind == ol.KindTree:
		var c ol.TreeMove
		for _, f := range inner {
			switch f.num {
			case 1:
				var a uint64
				a, err = f.uint()
				c.Action = ol.TreeAction(a)
				if err == nil && (a < uint64(ol.TreeCreate) || a > uint64(ol.TreeDelete)) {
					err = corrupt("unknown tree action %d", a)
				}
			case 2:
				c.Target, err = decodeID(f)
			case 3:
				c.Parent, err = decodeID(f)
			case 4:
				c.Position, err = f.str()
			}
			if err != nil {
				return nil, err
			}
		}
		if c.Action == 0 {
			return nil, corrupt("tree move without action")
		}
		return c, nil
	case v.num == contentTreeMeta && kind == ol.KindTree:
		var c ol.TreeMeta
		for _, f := range inner {
			switch f.num {
			case 1:
				c.Target, err = decodeID(f)
			case 2:
				c.Key, err = f.str()
			case 3:
				c.Value, err = decodeValue(f)
			case 4:
				c.Deleted, err = f.flag()
			}
			if err != nil {
				return nil, err
			}
		}
		return c, nil
	}
	return nil, corrupt("content variant %d not valid for %s container", v.num, kind)
}

func decodeSeqInsert(kind ol.ContainerKind, fs []field) (ol.Content, error) {
	var c ol.SeqInsert
	if kind == ol.KindList {
		c.Values = []any{}
	}
	var err error
	for _, f := range fs {
		switch f.num {
		case 1:
			c.After, err = decodeID(f)
		case 2:
			if kind != ol.KindText {
				return nil, corrupt("text payload in list insert")
			}
			c.Text, err = f.str()
		case 3:
			if kind != ol.KindList {
				return nil, corrupt("values in text insert")
			}
			var v any
			if v, err = decodeValue(f); err == nil {
				c.Values = append(c.Values, v)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func decodeSeqDelete(fs []field) (ol.Content, error) {
	var c ol.SeqDelete
	for _, f := range fs {
		if f.num != 1 {
			continue
		}
		b, err := f.bytes()
		if err != nil {
			return nil, err
		}
		sfs, err := fields(b)
		if err != nil {
			return nil, err
		}
		var s ol.IDSpan
		for _, sf := range sfs {
			switch sf.num {
			case 1:
				if err := sf.want(protowire.Fixed64Type); err != nil {
					return nil, err
				}
				s.Peer = ol.PeerID(sf.v)
			case 2:
				v, err := sf.uint()
				if err != nil {
					return nil, err
				}
				s.Start = ol.Counter(v)
			case 3:
				v, err := sf.uint()
				if err != nil {
					return nil, err
				}
				s.End = ol.Counter(v)
			}
		}
		if s.Start == 0 || s.End <= s.Start {
			return nil, corrupt("bad delete span %d..%d", s.Start, s.End)
		}
		c.Spans = append(c.Spans, s)
	}
	if len(c.Spans) == 0 {
		return nil, corrupt("delete without spans")
	}
	return c, nil
}
