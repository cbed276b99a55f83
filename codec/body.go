package codec

import (
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
	"github.com/kevinxiao27/crdoc/util"
)

// Body fields.
const (
	bodyVersion  protowire.Number = 1
	bodyFrontier protowire.Number = 2
	bodyRecord   protowire.Number = 3
	bodyFrom     protowire.Number = 4
)

// Container record fields.
const (
	recKind  protowire.Number = 1
	recName  protowire.Number = 2
	recState protowire.Number = 3
	recOp    protowire.Number = 4
)

type body struct {
	version  ol.VersionVector
	from     ol.VersionVector
	frontier ol.Frontier
	states   []container.Snapshot
	ops      []*ol.Op
}

func appendVersion(b []byte, num protowire.Number, vv ol.VersionVector) []byte {
	for _, p := range vv.Peers() {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, uint64(p))
		entry = appendUint(entry, 2, uint64(vv[p]))
		b = appendMessage(b, num, entry)
	}
	return b
}

func decodeVersionEntry(vv ol.VersionVector, f field) error {
	b, err := f.bytes()
	if err != nil {
		return err
	}
	fs, err := fields(b)
	if err != nil {
		return err
	}
	var (
		peer    ol.PeerID
		counter ol.Counter
	)
	for _, f := range fs {
		switch f.num {
		case 1:
			if err := f.want(protowire.Fixed64Type); err != nil {
				return err
			}
			peer = ol.PeerID(f.v)
		case 2:
			v, err := f.uint()
			if err != nil {
				return err
			}
			counter = ol.Counter(v)
		}
	}
	if _, dup := vv[peer]; dup {
		return corrupt("duplicate version entry for peer %d", peer)
	}
	if counter == 0 {
		return corrupt("zero counter for peer %d", peer)
	}
	vv[peer] = counter
	return nil
}

func encodeBody(version ol.VersionVector, frontier ol.Frontier, from ol.VersionVector, states []container.Snapshot, ops []*ol.Op) ([]byte, error) {
	byContainer := make(map[ol.ContainerID][]*ol.Op)
	for _, op := range ops {
		byContainer[op.Container] = append(byContainer[op.Container], op)
	}

	var order []ol.ContainerID
	stateOf := make(map[ol.ContainerID]*container.Snapshot, len(states))
	for i := range states {
		order = append(order, states[i].ID)
		stateOf[states[i].ID] = &states[i]
	}
	var extra []ol.ContainerID
	for cid := range byContainer {
		if _, ok := stateOf[cid]; !ok {
			extra = append(extra, cid)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].String() < extra[j].String() })
	order = append(order, extra...)

	var b []byte
	b = appendVersion(b, bodyVersion, version)
	for _, id := range frontier {
		b = appendID(b, bodyFrontier, id)
	}
	b = appendVersion(b, bodyFrom, from)

	for _, cid := range order {
		var rec []byte
		rec = appendUint(rec, recKind, uint64(cid.Kind))
		rec = appendString(rec, recName, cid.Name)
		if st, ok := stateOf[cid]; ok {
			msg, err := encodeState(st)
			if err != nil {
				return nil, err
			}
			rec = appendMessage(rec, recState, msg)
		}
		for _, op := range byContainer[cid] {
			msg, err := encodeOp(op)
			if err != nil {
				return nil, err
			}
			rec = appendMessage(rec, recOp, msg)
		}
		b = appendMessage(b, bodyRecord, rec)
	}
	return b, nil
}

func decodeBody(raw []byte, kind Kind) (*body, error) {
	fs, err := fields(raw)
	if err != nil {
		return nil, err
	}
	out := &body{version: ol.NewVersionVector(), from: ol.NewVersionVector()}
	seen := make(map[ol.ContainerID]bool)
	for _, f := range fs {
		switch f.num {
		case bodyVersion:
			if err := decodeVersionEntry(out.version, f); err != nil {
				return nil, err
			}
		case bodyFrom:
			if err := decodeVersionEntry(out.from, f); err != nil {
				return nil, err
			}
		case bodyFrontier:
			id, err := decodeID(f)
			if err != nil {
				return nil, err
			}
			out.frontier = append(out.frontier, id)
		case bodyRecord:
			if err := decodeRecord(out, f, kind, seen); err != nil {
				return nil, err
			}
		}
	}
	ol.SortOps(out.ops)
	return out, nil
}

func decodeRecord(out *body, f field, kind Kind, seen map[ol.ContainerID]bool) error {
	b, err := f.bytes()
	if err != nil {
		return err
	}
	fs, err := fields(b)
	if err != nil {
		return err
	}

	var (
		cid      ol.ContainerID
		hasKind  bool
		stateRaw []byte
		hasState bool
		opsRaw   [][]byte
	)
	for _, f := range fs {
		switch f.num {
		case recKind:
			v, err := f.uint()
			if err != nil {
				return err
			}
			cid.Kind, hasKind = ol.ContainerKind(v), true
			if v > 255 || !cid.Kind.Valid() {
				return corrupt("unknown container kind %d", v)
			}
		case recName:
			if cid.Name, err = f.str(); err != nil {
				return err
			}
		case recState:
			if stateRaw, err = f.bytes(); err != nil {
				return err
			}
			hasState = true
		case recOp:
			raw, err := f.bytes()
			if err != nil {
				return err
			}
			opsRaw = append(opsRaw, raw)
		}
	}
	if !hasKind {
		return corrupt("container record without kind")
	}
	if seen[cid] {
		return corrupt("duplicate container record %s", cid)
	}
	seen[cid] = true

	switch {
	case kind == KindSnapshot && !hasState:
		return corrupt("snapshot record %s has no state", cid)
	case kind == KindDelta && hasState:
		return corrupt("delta record %s carries state", cid)
	}
	if hasState {
		st, err := decodeState(cid, stateRaw)
		if err != nil {
			return err
		}
		out.states = append(out.states, st)
	}
	ops, err := util.MapN(opsRaw, func(raw []byte) (*ol.Op, error) { return decodeOp(cid, raw) })
	if err != nil {
		return err
	}
	out.ops = append(out.ops, ops...)
	return nil
}
