// Package codec implements the binary snapshot and delta format.
//
// Every encoding starts with a fixed header:
//
//	magic "CRDC" | version u8 | kind u8 | flags u8 | xxhash64(body) u64 BE
//
// followed by a protobuf-wire body: the version vector table, the frontier
// and one record per container. Bodies above the compression threshold are
// zstd-compressed; the checksum covers the stored bytes.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
)

var (
	// ErrCorruptEncoding is returned for any malformed input: bad magic,
	// truncation, checksum mismatch, unknown kind tags or bad fields.
	ErrCorruptEncoding = errors.New("corrupt encoding")

	// ErrUnsupportedVersion is returned for a format version this build
	// does not know.
	ErrUnsupportedVersion = errors.New("unsupported encoding version")
)

const (
	// FormatVersion is the only version this package writes and reads.
	FormatVersion uint8 = 1

	// DefaultCompressThreshold is the body size above which zstd is used.
	DefaultCompressThreshold = 4 << 10

	headerLen = 4 + 1 + 1 + 1 + 8

	flagZstd uint8 = 1 << 0

	maxDecodedBody = 256 << 20
)

var magic = [4]byte{'C', 'R', 'D', 'C'}

// Kind tells snapshots and deltas apart.
type Kind uint8

const (
	KindSnapshot Kind = 1
	KindDelta    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

type Header struct {
	Version    uint8
	Kind       Kind
	Compressed bool
	Checksum   uint64
}

// Snapshot is a self-contained document image: merge state of every
// container plus the full history so the importer can keep serving deltas.
type Snapshot struct {
	Version    ol.VersionVector
	Frontier   ol.Frontier
	Containers []container.Snapshot
	Ops        []*ol.Op
}

// Delta carries the ops a peer at From is missing, plus the sender's version.
type Delta struct {
	From    ol.VersionVector
	Version ol.VersionVector
	Ops     []*ol.Op
}

// Payload is the result of Decode; exactly one of Snapshot and Delta is set.
type Payload struct {
	Header   Header
	Snapshot *Snapshot
	Delta    *Delta
}

type encodeConfig struct {
	compressThreshold int
}

type EncodeOption func(*encodeConfig)

// WithCompressThreshold sets the body size above which bodies are
// compressed. Zero or less disables compression.
func WithCompressThreshold(n int) EncodeOption {
	return func(c *encodeConfig) { c.compressThreshold = n }
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptEncoding, fmt.Sprintf(format, args...))
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(maxDecodedBody),
		)
	})
	return zstdEnc, zstdDec, zstdErr
}

func frame(kind Kind, body []byte, opts []EncodeOption) ([]byte, error) {
	cfg := encodeConfig{compressThreshold: DefaultCompressThreshold}
	for _, opt := range opts {
		opt(&cfg)
	}

	var flags uint8
	if cfg.compressThreshold > 0 && len(body) > cfg.compressThreshold {
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		body = enc.EncodeAll(body, make([]byte, 0, len(body)/2))
		flags |= flagZstd
	}

	out := make([]byte, headerLen, headerLen+len(body))
	copy(out, magic[:])
	out[4] = FormatVersion
	out[5] = byte(kind)
	out[6] = flags
	binary.BigEndian.PutUint64(out[7:], xxhash.Sum64(body))
	return append(out, body...), nil
}

// PeekHeader validates and returns the header without touching the body.
func PeekHeader(data []byte) (Header, error) {
	if len(data) < headerLen {
		return Header{}, corrupt("truncated header: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return Header{}, corrupt("bad magic %q", data[:4])
	}
	h := Header{
		Version:    data[4],
		Kind:       Kind(data[5]),
		Compressed: data[6]&flagZstd != 0,
		Checksum:   binary.BigEndian.Uint64(data[7:headerLen]),
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Kind != KindSnapshot && h.Kind != KindDelta {
		return Header{}, corrupt("unknown encoding kind %d", data[5])
	}
	if data[6]&^flagZstd != 0 {
		return Header{}, corrupt("unknown flags %#x", data[6])
	}
	return h, nil
}

func unframe(data []byte) (Header, []byte, error) {
	h, err := PeekHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	body := data[headerLen:]
	if xxhash.Sum64(body) != h.Checksum {
		return Header{}, nil, corrupt("checksum mismatch")
	}
	if h.Compressed {
		_, dec, err := zstdCodecs()
		if err != nil {
			return Header{}, nil, fmt.Errorf("init zstd: %w", err)
		}
		if body, err = dec.DecodeAll(body, nil); err != nil {
			return Header{}, nil, corrupt("decompress: %v", err)
		}
	}
	return h, body, nil
}

// EncodeSnapshot serializes s.
func EncodeSnapshot(s *Snapshot, opts ...EncodeOption) ([]byte, error) {
	body, err := encodeBody(s.Version, s.Frontier, nil, s.Containers, s.Ops)
	if err != nil {
		return nil, err
	}
	return frame(KindSnapshot, body, opts)
}

// EncodeDelta serializes d. Ops are grouped per container.
func EncodeDelta(d *Delta, opts ...EncodeOption) ([]byte, error) {
	body, err := encodeBody(d.Version, nil, d.From, nil, d.Ops)
	if err != nil {
		return nil, err
	}
	return frame(KindDelta, body, opts)
}

// Decode decodes either kind of encoding. It never returns a partial result.
func Decode(data []byte) (*Payload, error) {
	h, raw, err := unframe(data)
	if err != nil {
		return nil, err
	}
	b, err := decodeBody(raw, h.Kind)
	if err != nil {
		return nil, err
	}
	p := &Payload{Header: h}
	switch h.Kind {
	case KindSnapshot:
		p.Snapshot = &Snapshot{Version: b.version, Frontier: b.frontier, Containers: b.states, Ops: b.ops}
	case KindDelta:
		p.Delta = &Delta{From: b.from, Version: b.version, Ops: b.ops}
	}
	return p, nil
}

func DecodeSnapshot(data []byte) (*Snapshot, error) {
	p, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if p.Snapshot == nil {
		return nil, corrupt("expected snapshot, got %s", p.Header.Kind)
	}
	return p.Snapshot, nil
}

func DecodeDelta(data []byte) (*Delta, error) {
	p, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if p.Delta == nil {
		return nil, corrupt("expected delta, got %s", p.Header.Kind)
	}
	return p.Delta, nil
}
