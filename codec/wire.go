package codec

import (
	"fmt"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
)

// field is one decoded protobuf field. Varint and fixed values land in v,
// length-delimited values in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

func fields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt("bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v32)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			return nil, corrupt("unsupported wire type %d in field %d", typ, num)
		}
		if n < 0 {
			return nil, corrupt("field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return corrupt("field %d has wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

func (f field) uint() (uint64, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.v, nil
}

func (f field) bytes() ([]byte, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}
	return f.b, nil
}

func (f field) str() (string, error) {
	b, err := f.bytes()
	return string(b), err
}

func (f field) flag() (bool, error) {
	v, err := f.uint()
	return v != 0, err
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFlag(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendUint(b, num, 1)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// IDs are {1: peer fixed64, 2: counter varint}.
func appendID(b []byte, num protowire.Number, id ol.ID) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.Fixed64Type)
	msg = protowire.AppendFixed64(msg, uint64(id.Peer))
	msg = appendUint(msg, 2, uint64(id.Counter))
	return appendMessage(b, num, msg)
}

func decodeID(f field) (ol.ID, error) {
	b, err := f.bytes()
	if err != nil {
		return ol.ID{}, err
	}
	fs, err := fields(b)
	if err != nil {
		return ol.ID{}, err
	}
	var id ol.ID
	for _, f := range fs {
		switch f.num {
		case 1:
			if err := f.want(protowire.Fixed64Type); err != nil {
				return ol.ID{}, err
			}
			id.Peer = ol.PeerID(f.v)
		case 2:
			v, err := f.uint()
			if err != nil {
				return ol.ID{}, err
			}
			id.Counter = ol.Counter(v)
		}
	}
	return id, nil
}

// Value tags.
const (
	valueNull protowire.Number = iota + 1
	valueBool
	valueInt
	valueFloat
	valueString
	valueBytes
	valueList
	valueMap
)

func appendValue(b []byte, num protowire.Number, v any) ([]byte, error) {
	msg, err := encodeValue(nil, v, 0)
	if err != nil {
		return nil, err
	}
	return appendMessage(b, num, msg), nil
}

func encodeValue(b []byte, v any, depth int) ([]byte, error) {
	if depth > container.MaxValueDepth {
		return nil, fmt.Errorf("%w: value nested deeper than %d", container.ErrUnsupportedValue, container.MaxValueDepth)
	}
	switch x := v.(type) {
	case nil:
		return appendUint(b, valueNull, 0), nil
	case bool:
		if x {
			return appendUint(b, valueBool, 1), nil
		}
		return appendUint(b, valueBool, 0), nil
	case int64:
		return appendUint(b, valueInt, protowire.EncodeZigZag(x)), nil
	case float64:
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(x)), nil
	case string:
		return appendString(b, valueString, x), nil
	case []byte:
		b = protowire.AppendTag(b, valueBytes, protowire.BytesType)
		return protowire.AppendBytes(b, x), nil
	case []any:
		var list []byte
		for _, e := range x {
			elem, err := encodeValue(nil, e, depth+1)
			if err != nil {
				return nil, err
			}
			list = appendMessage(list, 1, elem)
		}
		return appendMessage(b, valueList, list), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		var m []byte
		for _, k := range keys {
			val, err := encodeValue(nil, x[k], depth+1)
			if err != nil {
				return nil, err
			}
			var entry []byte
			entry = appendString(entry, 1, k)
			entry = appendMessage(entry, 2, val)
			m = appendMessage(m, 1, entry)
		}
		return appendMessage(b, valueMap, m), nil
	}
	return nil, fmt.Errorf("%w: %T", container.ErrUnsupportedValue, v)
}

func decodeValue(f field) (any, error) {
	b, err := f.bytes()
	if err != nil {
		return nil, err
	}
	return decodeValueMsg(b, 0)
}

func decodeValueMsg(b []byte, depth int) (any, error) {
	if depth > container.MaxValueDepth {
		return nil, corrupt("value nested deeper than %d", container.MaxValueDepth)
	}
	fs, err := fields(b)
	if err != nil {
		return nil, err
	}
	if len(fs) != 1 {
		return nil, corrupt("value has %d tags", len(fs))
	}
	f := fs[0]
	switch f.num {
	case valueNull:
		_, err := f.uint()
		return nil, err
	case valueBool:
		return f.flag()
	case valueInt:
		v, err := f.uint()
		return protowire.DecodeZigZag(v), err
	case valueFloat:
		if err := f.want(protowire.Fixed64Type); err != nil {
			return nil, err
		}
		return math.Float64frombits(f.v), nil
	case valueString:
		return f.str()
	case valueBytes:
		raw, err := f.bytes()
		if err != nil {
			return nil, err
		}
		return append([]byte{}, raw...), nil
	case valueList:
		raw, err := f.bytes()
		if err != nil {
			return nil, err
		}
		elems, err := fields(raw)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			eb, err := e.bytes()
			if err != nil {
				return nil, err
			}
			v, err := decodeValueMsg(eb, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case valueMap:
		raw, err := f.bytes()
		if err != nil {
			return nil, err
		}
		entries, err := fields(raw)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			eb, err := e.bytes()
			if err != nil {
				return nil, err
			}
			kv, err := fields(eb)
			if err != nil {
				return nil, err
			}
			var (
				key    string
				val    any
				hasVal bool
			)
			for _, f := range kv {
				switch f.num {
				case 1:
					if key, err = f.str(); err != nil {
						return nil, err
					}
				case 2:
					vb, err := f.bytes()
					if err != nil {
						return nil, err
					}
					if val, err = decodeValueMsg(vb, depth+1); err != nil {
						return nil, err
					}
					hasVal = true
				}
			}
			if !hasVal {
				return nil, corrupt("map entry %q without value", key)
			}
			out[key] = val
		}
		return out, nil
	}
	return nil, corrupt("unknown value tag %d", f.num)
}
