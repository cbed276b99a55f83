package doc

import (
	"fmt"

	"github.com/kevinxiao27/crdoc/codec"
	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
)

// ImportStatus summarizes one merge.
type ImportStatus struct {
	// Applied is the number of ops integrated, including buffered ops this
	// merge released.
	Applied int
	// Duplicates is the number of ops that were already known or waiting.
	Duplicates int
	// Buffered is the number of new ops left waiting for a dependency.
	Buffered int
	// Pending is the buffer size after the merge.
	Pending int
}

// ApplyRemoteDelta decodes a delta and merges its ops. It returns how many
// ops were applied; duplicates are skipped and ops with missing
// dependencies are buffered. Either every op is accepted or none is.
func (d *Document) ApplyRemoteDelta(data []byte) (int, error) {
	delta, err := codec.DecodeDelta(data)
	if err != nil {
		countDecodeFailure(err)
		return 0, err
	}
	st, err := d.ApplyRemoteOps(delta.Ops)
	return st.Applied, err
}

// Import merges a delta or a snapshot. An empty document adopts a snapshot's
// state directly; otherwise the snapshot's history is merged op by op.
func (d *Document) Import(data []byte) (ImportStatus, error) {
	p, err := codec.Decode(data)
	if err != nil {
		countDecodeFailure(err)
		return ImportStatus{}, err
	}
	if p.Delta != nil {
		return d.ApplyRemoteOps(p.Delta.Ops)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ImportStatus{}, ErrClosed
	}
	if d.log.Len() == 0 && d.pending.len() == 0 {
		if err := d.install(p.Snapshot); err != nil {
			decodeFailures.WithLabelValues("inconsistent").Inc()
			return ImportStatus{}, err
		}
		opsApplied.WithLabelValues("snapshot").Add(float64(d.log.Len()))
		return ImportStatus{Applied: d.log.Len()}, nil
	}
	return d.merge(p.Snapshot.Ops)
}

// ApplyRemoteOps merges ops received from other replicas, in any order.
func (d *Document) ApplyRemoteOps(ops []*ol.Op) (ImportStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ImportStatus{}, ErrClosed
	}
	return d.merge(ops)
}

// merge runs one atomic batch. On failure the log, the containers and the
// pending buffer are put back the way they were.
func (d *Document) merge(ops []*ol.Op) (ImportStatus, error) {
	b := &batch{
		doc:     d,
		mark:    d.log.Mark(),
		pending: d.pending.clone(),
	}
	st, err := b.run(ops)
	if err != nil {
		b.undo.Rollback()
		d.log.Reset(b.mark)
		d.pending = b.pending
		for _, cid := range b.created {
			delete(d.containers, cid)
		}
		mergeRollbacks.Inc()
		d.logger.Warn().Err(err).Int("ops", len(ops)).Msg("remote merge rolled back")
		return ImportStatus{}, err
	}
	b.undo.Commit()

	st.Pending = d.pending.len()
	opsApplied.WithLabelValues("remote").Add(float64(st.Applied))
	opsDuplicate.Add(float64(st.Duplicates))
	opsBuffered.Add(float64(st.Buffered))
	return st, nil
}

type batch struct {
	doc     *Document
	mark    ol.Mark
	pending *pendingBuffer // copy taken before the batch
	undo    container.UndoLog
	created []ol.ContainerID
}

func (b *batch) run(ops []*ol.Op) (ImportStatus, error) {
	var st ImportStatus
	for _, op := range ops {
		if err := ol.Validate(op); err != nil {
			return st, err
		}
	}

	queue := append([]*ol.Op(nil), ops...)
	ol.SortOps(queue)
	released := make(map[*ol.Op]bool)
	for len(queue) > 0 {
		op := queue[0]
		queue = queue[1:]

		ready, outcome, err := b.admit(op)
		if err != nil {
			return st, err
		}
		switch outcome {
		case admitApplied:
			st.Applied++
		case admitDuplicate:
			st.Duplicates++
		case admitBuffered:
			if !released[op] {
				st.Buffered++
			}
		}
		for _, r := range ready {
			released[r] = true
		}
		queue = append(queue, ready...)
	}
	return st, nil
}

type admitOutcome int

const (
	admitApplied admitOutcome = iota
	admitDuplicate
	admitBuffered
)

// admit integrates one op and returns the buffered ops it unblocked.
func (b *batch) admit(op *ol.Op) ([]*ol.Op, admitOutcome, error) {
	d := b.doc
	have := d.log.VersionVector().Get(op.ID.Peer)
	if op.LastID().Counter <= have || d.pending.contains(op.ID) {
		return nil, admitDuplicate, nil
	}
	if op.ID.Counter <= have {
		// Partly known: keep only the unseen suffix.
		trimmed, ok := op.TrimBefore(have + 1)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s overlaps known ops", ErrInvalidOperation, op.ID)
		}
		op = trimmed
	}

	if dep, missing := d.log.MissingDependency(op); missing {
		if err := d.pending.add(op, dep); err != nil {
			return nil, 0, err
		}
		d.logger.Debug().Str("op", op.ID.String()).Str("container", op.Container.String()).
			Str("waitFor", dep.String()).Msg("buffered remote op")
		return nil, admitBuffered, nil
	}

	if err := d.log.Append(op); err != nil {
		return nil, 0, err
	}
	s, created, err := d.state(op.Container, true)
	if err != nil {
		return nil, 0, err
	}
	if created {
		b.created = append(b.created, op.Container)
	}
	tree, isTree := s.(*container.Tree)
	rejected := 0
	if isTree {
		rejected = tree.Rejected()
	}
	if err := s.ApplyRemote(op, &b.undo); err != nil {
		return nil, 0, fmt.Errorf("apply %s: %w", op.ID, err)
	}
	if isTree && tree.Rejected() > rejected {
		d.logger.Debug().Str("op", op.ID.String()).Str("container", op.Container.String()).
			Msg("tree move has no effect")
	}

	ready := d.pending.take(op.ID.Peer, op.LastID().Counter)
	if len(ready) > 0 {
		d.logger.Debug().Str("op", op.ID.String()).Int("released", len(ready)).Msg("released buffered ops")
	}
	return ready, admitApplied, nil
}
