// Package doc ties the op log, the containers and the codec together into a
// replicated document. A Document is safe for concurrent use; every call
// runs under the document's lock.
package doc

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/crdoc/codec"
	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
	"github.com/kevinxiao27/crdoc/util"
)

type Document struct {
	mu         sync.Mutex
	cfg        Config
	logger     zerolog.Logger
	log        *ol.OpLog
	ids        *ol.IDAllocator
	containers map[ol.ContainerID]container.State
	pending    *pendingBuffer
	closed     bool
}

// New returns an empty document that authors ops as peer.
func New(peer ol.PeerID, opts ...Option) (*Document, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	log := ol.NewOpLog()
	ids, err := ol.NewIDAllocator(log, peer)
	if err != nil {
		return nil, err
	}
	return &Document{
		cfg:        cfg,
		logger:     cfg.Logger.With().Uint64("peer", uint64(peer)).Logger(),
		log:        log,
		ids:        ids,
		containers: make(map[ol.ContainerID]container.State),
		pending:    newPendingBuffer(cfg.BufferCapacity),
	}, nil
}

// ImportSnapshot builds a document from a snapshot. The new document gets a
// random peer id; use SetPeerID to pick another.
func ImportSnapshot(data []byte, opts ...Option) (*Document, error) {
	snap, err := codec.DecodeSnapshot(data)
	if err != nil {
		countDecodeFailure(err)
		return nil, err
	}
	d, err := New(ol.NewPeerID(), opts...)
	if err != nil {
		return nil, err
	}
	if err := d.install(snap); err != nil {
		decodeFailures.WithLabelValues("inconsistent").Inc()
		return nil, err
	}
	return d, nil
}

// install loads a decoded snapshot into an empty document.
func (d *Document) install(snap *codec.Snapshot) error {
	states := make(map[ol.ContainerID]container.State, len(snap.Containers))
	for _, st := range snap.Containers {
		s, err := container.Restore(st)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptEncoding, err)
		}
		states[st.ID] = s
	}
	log := ol.NewOpLog()
	for _, op := range snap.Ops {
		if err := log.Append(op); err != nil {
			return fmt.Errorf("%w: history: %v", ErrCorruptEncoding, err)
		}
	}
	switch {
	case !log.VersionVector().Equal(snap.Version):
		return fmt.Errorf("%w: history does not match version vector", ErrCorruptEncoding)
	case !log.Frontier().Equal(snap.Frontier):
		return fmt.Errorf("%w: history does not match frontier", ErrCorruptEncoding)
	}
	for _, cid := range log.Containers() {
		if _, ok := states[cid]; !ok {
			return fmt.Errorf("%w: no state for %s", ErrCorruptEncoding, cid)
		}
	}
	if len(states) != len(log.Containers()) {
		return fmt.Errorf("%w: state without history", ErrCorruptEncoding)
	}

	ids, err := ol.NewIDAllocator(log, d.ids.Peer())
	if err != nil {
		return err
	}
	d.log, d.ids, d.containers = log, ids, states
	d.logger.Debug().Int("ops", log.Len()).Int("containers", len(states)).Msg("snapshot installed")
	return nil
}

func countDecodeFailure(err error) {
	reason := "corrupt"
	if errors.Is(err, ErrUnsupportedVersion) {
		reason = "version"
	}
	decodeFailures.WithLabelValues(reason).Inc()
}

func (d *Document) PeerID() ol.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ids.Peer()
}

// SetPeerID switches the peer future local edits are authored as. The old
// peer id is retired for good.
func (d *Document) SetPeerID(peer ol.PeerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	old := d.ids.Peer()
	if err := d.ids.SetPeer(peer); err != nil {
		return err
	}
	d.logger = d.cfg.Logger.With().Uint64("peer", uint64(peer)).Logger()
	d.logger.Debug().Uint64("retired", uint64(old)).Msg("peer id changed")
	return nil
}

// state returns the container for cid, creating it when create is set.
func (d *Document) state(cid ol.ContainerID, create bool) (container.State, bool, error) {
	if s, ok := d.containers[cid]; ok {
		return s, false, nil
	}
	if !create {
		return nil, false, fmt.Errorf("%w: container %s", ErrNotFound, cid)
	}
	s, err := container.New(cid)
	if err != nil {
		return nil, false, err
	}
	d.containers[cid] = s
	return s, true, nil
}

// ApplyLocal applies edit to the container cid and records it as a new op
// of the document's peer. The container is created on first use.
func (d *Document) ApplyLocal(cid ol.ContainerID, edit container.Edit) (ol.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocal(cid, edit)
}

func (d *Document) applyLocal(cid ol.ContainerID, edit container.Edit) (ol.ID, error) {
	if d.closed {
		return ol.ID{}, ErrClosed
	}
	if edit == nil || edit.Kind() != cid.Kind {
		return ol.ID{}, fmt.Errorf("%w: %T on %s", ErrKindMismatch, edit, cid)
	}
	s, created, err := d.state(cid, true)
	if err != nil {
		return ol.ID{}, err
	}
	stamp, err := d.ids.Next(d.ids.Peer())
	if err != nil {
		return ol.ID{}, err
	}

	var undo container.UndoLog
	op, err := s.ApplyLocal(edit, stamp, &undo)
	if err == nil {
		err = d.log.Append(op)
	}
	if err != nil {
		undo.Rollback()
		if created {
			delete(d.containers, cid)
		}
		return ol.ID{}, err
	}
	undo.Commit()
	opsApplied.WithLabelValues("local").Inc()
	return op.ID, nil
}

// CurrentValue returns the materialized value of one container: a string
// for text, []any for lists, map[string]any for maps and []TreeNode for
// trees.
func (d *Document) CurrentValue(cid ol.ContainerID) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, _, err := d.state(cid, false)
	if err != nil {
		return nil, err
	}
	return s.Value(), nil
}

// Value returns every container's value keyed by its id string.
func (d *Document) Value() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.containers))
	for cid, s := range d.containers {
		out[cid.String()] = s.Value()
	}
	return out
}

func (d *Document) Containers() []ol.ContainerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedContainers()
}

func (d *Document) sortedContainers() []ol.ContainerID {
	out := make([]ol.ContainerID, 0, len(d.containers))
	for cid := range d.containers {
		out = append(out, cid)
	}
	slices.SortFunc(out, func(a, b ol.ContainerID) int { return strings.Compare(a.String(), b.String()) })
	return out
}

func (d *Document) VersionVector() ol.VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.VersionVector()
}

func (d *Document) Frontier() ol.Frontier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Frontier()
}

// OpsSince returns the ops a replica at vv is missing, in causal order.
func (d *Document) OpsSince(vv ol.VersionVector) []*ol.Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.OpsSince(vv)
}

// Get returns the op containing the atom id.
func (d *Document) Get(id ol.ID) (*ol.Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Get(id)
}

// Compare reports the causal relation between two atoms.
func (d *Document) Compare(a, b ol.ID) (ol.Relation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Compare(a, b)
}

// PendingCount is the number of remote ops waiting for dependencies.
func (d *Document) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.len()
}

// Compact collects tombstones that every replica is known to have seen,
// keeping only their place in the sequence. stable should be dominated by
// every live replica's version; it is clamped to this document's version.
func (d *Document) Compact(stable ol.VersionVector) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	stable = stable.Min(d.log.VersionVector())
	total := 0
	for _, cid := range d.sortedContainers() {
		if c, ok := d.containers[cid].(container.Compactor); ok {
			total += c.Compact(stable)
		}
	}
	if total > 0 {
		d.logger.Debug().Int("collected", total).Msg("compacted tombstones")
	}
	return total
}

// ExportSnapshot encodes the full document: container states plus history.
func (d *Document) ExportSnapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cids := d.sortedContainers()
	snap := &codec.Snapshot{
		Version:  d.log.VersionVector(),
		Frontier: d.log.Frontier(),
		Ops:      d.log.Ops(),
		Containers: util.Map(cids, func(cid ol.ContainerID) container.Snapshot {
			return d.containers[cid].Export()
		}),
	}
	data, err := codec.EncodeSnapshot(snap, codec.WithCompressThreshold(d.cfg.CompressThreshold))
	if err != nil {
		return nil, err
	}
	encodedBytes.WithLabelValues(codec.KindSnapshot.String()).Observe(float64(len(data)))
	return data, nil
}

// ExportDelta encodes the ops a replica at vv is missing.
func (d *Document) ExportDelta(vv ol.VersionVector) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delta := &codec.Delta{
		From:    vv.Clone(),
		Version: d.log.VersionVector(),
		Ops:     d.log.OpsSince(vv),
	}
	data, err := codec.EncodeDelta(delta, codec.WithCompressThreshold(d.cfg.CompressThreshold))
	if err != nil {
		return nil, err
	}
	encodedBytes.WithLabelValues(codec.KindDelta.String()).Observe(float64(len(data)))
	return data, nil
}

// Close discards buffered ops. Reads and exports keep working; mutations
// fail with ErrClosed.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if dropped := d.pending.drain(); len(dropped) > 0 {
		opsDiscarded.Add(float64(len(dropped)))
		d.logger.Warn().Int("ops", len(dropped)).Msg("discarding ops with unmet dependencies")
	}
	return nil
}

// Dump renders the document's version and value for debugging.
func (d *Document) Dump() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	view := struct {
		Peer     ol.PeerID
		Version  ol.VersionVector
		Frontier []string
		Pending  int
		Value    map[string]any
	}{
		Peer:     d.ids.Peer(),
		Version:  d.log.VersionVector(),
		Frontier: util.Map(d.log.Frontier(), ol.ID.String),
		Pending:  d.pending.len(),
		Value:    make(map[string]any, len(d.containers)),
	}
	for cid, s := range d.containers {
		view.Value[cid.String()] = s.Value()
	}
	return litter.Options{Compact: false, HidePrivateFields: true}.Sdump(view)
}
