// Package sim runs randomized multi-replica editing sessions and checks that
// every replica ends up with the same document.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kevinxiao27/crdoc/codec"
	"github.com/kevinxiao27/crdoc/doc"
	"github.com/kevinxiao27/crdoc/ol"
)

// ErrDiverged is returned when replicas disagree after a full sync.
var ErrDiverged = errors.New("replicas diverged")

var validate = validator.New()

type Config struct {
	Replicas      int   `validate:"min=2,max=64"`
	Rounds        int   `validate:"min=1"`
	EditsPerRound int   `validate:"min=1"`
	Seed          int64 `validate:"-"`
	// MaxChunk caps how many ops one delivered message carries. Deltas are
	// shuffled and split so messages arrive out of causal order.
	MaxChunk int            `validate:"min=1"`
	Logger   zerolog.Logger `validate:"-"`
}

func DefaultConfig() Config {
	return Config{
		Replicas:      3,
		Rounds:        8,
		EditsPerRound: 10,
		Seed:          1,
		MaxChunk:      3,
		Logger:        zerolog.Nop(),
	}
}

type Report struct {
	Replicas  int
	Ops       int
	Buffered  int
	Collected int
	Rejected  int
	Value     map[string]any
}

type replica struct {
	doc *doc.Document
	rng *rand.Rand
}

// Run edits cfg.Replicas documents concurrently, gossips deltas between them
// in random order after every round, then syncs everything and compares.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("sim config: %w", err)
	}
	logger := cfg.Logger
	replicas := make([]*replica, cfg.Replicas)
	for i := range replicas {
		d, err := doc.New(ol.PeerID(i+1), doc.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		replicas[i] = &replica{doc: d, rng: rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(i+1)))}
	}
	net := rand.New(rand.NewPCG(uint64(cfg.Seed), 0))
	report := &Report{Replicas: cfg.Replicas}

	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rejected, err := editRound(ctx, replicas, cfg.EditsPerRound)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		report.Rejected += rejected

		// Gossip: every replica pulls from one random peer.
		for i, r := range replicas {
			j := net.IntN(len(replicas) - 1)
			if j >= i {
				j++
			}
			n, err := deliver(net, r.doc, replicas[j].doc, cfg.MaxChunk)
			if err != nil {
				return nil, fmt.Errorf("round %d: %d <- %d: %w", round, i, j, err)
			}
			report.Buffered += n
		}
		logger.Debug().Int("round", round).Msg("round done")
	}

	if err := syncAll(net, replicas, cfg.MaxChunk); err != nil {
		return nil, err
	}
	if err := checkConverged(replicas); err != nil {
		return nil, err
	}

	// Everything is delivered everywhere, so every tombstone is stable.
	stable := replicas[0].doc.VersionVector()
	for _, r := range replicas {
		report.Collected += r.doc.Compact(stable)
	}
	rejected, err := editRound(ctx, replicas, cfg.EditsPerRound)
	if err != nil {
		return nil, fmt.Errorf("after compaction: %w", err)
	}
	report.Rejected += rejected
	if err := syncAll(net, replicas, cfg.MaxChunk); err != nil {
		return nil, err
	}
	if err := checkConverged(replicas); err != nil {
		return nil, err
	}

	// A late joiner starting from a snapshot sees the same document.
	snap, err := replicas[0].doc.ExportSnapshot()
	if err != nil {
		return nil, err
	}
	joiner, err := doc.ImportSnapshot(snap, doc.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if !reflect.DeepEqual(joiner.Value(), replicas[0].doc.Value()) {
		return nil, fmt.Errorf("%w: snapshot import differs", ErrDiverged)
	}

	report.Ops = len(replicas[0].doc.OpsSince(nil))
	report.Value = replicas[0].doc.Value()
	for _, r := range replicas {
		if err := r.doc.Close(); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func editRound(ctx context.Context, replicas []*replica, edits int) (int, error) {
	g, _ := errgroup.WithContext(ctx)
	rejected := make([]int, len(replicas))
	for i, r := range replicas {
		g.Go(func() error {
			for range edits {
				ok, err := randomEdit(r.rng, r.doc)
				if err != nil {
					return fmt.Errorf("replica %d: %w", i, err)
				}
				if !ok {
					rejected[i]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, n := range rejected {
		total += n
	}
	return total, nil
}

// deliver sends to everything from has that to lacks, as shuffled chunks.
// It returns how many ops had to be buffered on the way.
func deliver(rng *rand.Rand, to, from *doc.Document, maxChunk int) (int, error) {
	data, err := from.ExportDelta(to.VersionVector())
	if err != nil {
		return 0, err
	}
	delta, err := codec.DecodeDelta(data)
	if err != nil {
		return 0, err
	}
	ops := delta.Ops
	rng.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })

	buffered := 0
	for len(ops) > 0 {
		n := min(len(ops), 1+rng.IntN(maxChunk))
		chunk, err := codec.EncodeDelta(&codec.Delta{From: delta.From, Version: delta.Version, Ops: ops[:n]})
		if err != nil {
			return 0, err
		}
		ops = ops[n:]
		st, err := to.Import(chunk)
		if err != nil {
			return 0, err
		}
		buffered += st.Buffered
	}
	if n := to.PendingCount(); n > 0 {
		return 0, fmt.Errorf("%d ops still pending after a complete delivery", n)
	}
	return buffered, nil
}

func syncAll(rng *rand.Rand, replicas []*replica, maxChunk int) error {
	// Two passes: the first gathers everything into the last replica, the
	// second spreads it back.
	for pass := 0; pass < 2; pass++ {
		for i, to := range replicas {
			for j, from := range replicas {
				if i == j {
					continue
				}
				if _, err := deliver(rng, to.doc, from.doc, maxChunk); err != nil {
					return fmt.Errorf("sync %d <- %d: %w", i, j, err)
				}
			}
		}
	}
	return nil
}

func checkConverged(replicas []*replica) error {
	want := replicas[0].doc
	for i, r := range replicas[1:] {
		switch {
		case !r.doc.VersionVector().Equal(want.VersionVector()):
			return fmt.Errorf("%w: replica %d version %v, want %v", ErrDiverged, i+1, r.doc.VersionVector(), want.VersionVector())
		case r.doc.PendingCount() != 0:
			return fmt.Errorf("%w: replica %d has %d pending ops", ErrDiverged, i+1, r.doc.PendingCount())
		case !reflect.DeepEqual(r.doc.Value(), want.Value()):
			return fmt.Errorf("%w: replica %d:\n%s\nreplica 0:\n%s", ErrDiverged, i+1, r.doc.Dump(), want.Dump())
		}
	}
	return nil
}
