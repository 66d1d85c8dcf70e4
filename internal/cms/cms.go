// Package cms implements a Count-Min Sketch for approximate frequency
// estimation: a depth x width table of counters, each row hashed with a
// distinct row-derived seed, incremented with plain (not conservative-update)
// addition so the sketch's real error bound matches the eps/delta it was
// sized from. Counters saturate at math.MaxUint64 instead of wrapping, per
// this module's resolution of the reference spec's saturation-vs-overflow
// open question.
package cms

import (
	"encoding/binary"
	"math"

	"probkit.dev/probkit/internal/hashing"
	"probkit.dev/probkit/internal/perrors"
	"probkit.dev/probkit/internal/topk"
)

const (
	golden64    = 0x9E3779B97F4A7C15
	magic       = 0x31534D4370726F62 // "borpCMS1" in little-endian bytes
	headerBytes = 20                 // magic(8) + width(4) + depth(4) + hash kind(4)
)

// Config mirrors the CLI-facing cms parameters.
type Config struct {
	Eps   float64
	Delta float64
	TopK  uint64
}

// ComputeDims converts an (eps, delta) accuracy target into sketch
// dimensions: width = ceil(e/eps), depth = ceil(ln(1/delta)).
func ComputeDims(eps, delta float64) (width, depth uint32) {
	if eps <= 0 || eps >= 1 || delta <= 0 || delta >= 1 {
		return 0, 0
	}
	width = uint32(math.Ceil(math.E / eps))
	depth = uint32(math.Ceil(math.Log(1 / delta)))
	return width, depth
}

// Sketch is a Count-Min Sketch with an optional bounded top-K tracker.
type Sketch struct {
	width     uint32
	depth     uint32
	hash      hashing.Config
	table     []uint64
	saturated bool
	top       *topk.Tracker
}

// NewByEpsDelta builds a sketch sized from an accuracy target, optionally
// tracking the topK highest-estimate keys seen so far (topK=0 disables
// tracking).
func NewByEpsDelta(eps, delta float64, hash hashing.Config, topK uint64) (*Sketch, error) {
	width, depth := ComputeDims(eps, delta)
	if width == 0 || depth == 0 {
		return nil, perrors.New(perrors.InvalidArgument, "eps/delta out of range or too small")
	}
	return &Sketch{
		width: width,
		depth: depth,
		hash:  hash,
		table: make([]uint64, uint64(width)*uint64(depth)),
		top:   topk.NewTracker(int(topK)),
	}, nil
}

// Dims returns the sketch's (width, depth).
func (s *Sketch) Dims() (width, depth uint32) { return s.width, s.depth }

// Saturated reports whether any counter has ever hit math.MaxUint64 — a
// signal to callers that the sketch's eps-driven accuracy guarantee may no
// longer hold for the saturated row(s).
func (s *Sketch) Saturated() bool { return s.saturated }

func (s *Sketch) rowHash(x []byte, row uint32) uint64 {
	cfg := s.hash
	cfg.Seed ^= golden64 * (uint64(row) + 1)
	return hashing.Hash64(x, cfg)
}

func (s *Sketch) cellIndex(row, col uint32) uint32 {
	return row*s.width + col
}

func saturatingAdd(a, c uint64) (uint64, bool) {
	if a > math.MaxUint64-c {
		return math.MaxUint64, true
	}
	return a + c, false
}

// Inc adds c to every row's counter for x, saturating at math.MaxUint64, and
// updates the top-K tracker (if enabled) with x's resulting estimate.
func (s *Sketch) Inc(x []byte, c uint64) error {
	for row := uint32(0); row < s.depth; row++ {
		col := uint32(s.rowHash(x, row) % uint64(s.width))
		idx := s.cellIndex(row, col)
		sum, saturated := saturatingAdd(s.table[idx], c)
		s.table[idx] = sum
		if saturated {
			s.saturated = true
		}
	}
	if s.top.Enabled() {
		est, _ := s.Estimate(x)
		s.top.Offer(string(x), est)
	}
	return nil
}

// Estimate returns the minimum counter across all rows for x.
func (s *Sketch) Estimate(x []byte) (uint64, error) {
	min := uint64(math.MaxUint64)
	for row := uint32(0); row < s.depth; row++ {
		col := uint32(s.rowHash(x, row) % uint64(s.width))
		v := s.table[s.cellIndex(row, col)]
		if v < min {
			min = v
		}
	}
	if s.depth == 0 {
		return 0, nil
	}
	return min, nil
}

// TopK returns the tracked top-K (key, estimate) pairs, sorted by descending
// estimate. Returns an empty slice if top-K tracking was disabled.
func (s *Sketch) TopK() []topk.Item {
	return s.top.Items()
}

// Merge adds other's counters into s cell-wise, saturating at
// math.MaxUint64. Both sketches must share width, depth, and hash
// configuration.
func (s *Sketch) Merge(other *Sketch) error {
	if s.width != other.width || s.depth != other.depth || !s.hash.Equal(other.hash) {
		return perrors.New(perrors.InvalidArgument, "cms sketches are not merge-compatible")
	}
	for i, v := range other.table {
		sum, saturated := saturatingAdd(s.table[i], v)
		s.table[i] = sum
		if saturated {
			s.saturated = true
		}
	}
	if s.top.Enabled() {
		for _, it := range s.top.Items() {
			est, _ := s.Estimate([]byte(it.Key))
			s.top.Offer(it.Key, est)
		}
		for _, it := range other.top.Items() {
			est, _ := s.Estimate([]byte(it.Key))
			s.top.Offer(it.Key, est)
		}
	}
	return nil
}

// Serialize encodes the sketch as magic + width + depth + hash kind + packed
// counter table, for use by diagnostic tooling and tests. The top-K tracker
// state is not part of the wire format; a deserialized sketch has top-K
// tracking disabled (see Deserialize).
func (s *Sketch) Serialize() []byte {
	out := make([]byte, headerBytes+len(s.table)*8)
	binary.LittleEndian.PutUint64(out[0:8], magic)
	binary.LittleEndian.PutUint32(out[8:12], s.width)
	binary.LittleEndian.PutUint32(out[12:16], s.depth)
	binary.LittleEndian.PutUint32(out[16:20], uint32(s.hash.Kind))
	for i, v := range s.table {
		binary.LittleEndian.PutUint64(out[headerBytes+i*8:headerBytes+i*8+8], v)
	}
	return out
}

// Deserialize reconstructs a Sketch from bytes written by Serialize. As with
// bloom.Deserialize and hll.Deserialize, the hash config's seed/salt must be
// supplied by the caller since they are not part of the wire format, and
// top-K tracking starts disabled (topK=0) regardless of the original
// sketch's configuration.
func Deserialize(data []byte, hash hashing.Config) (*Sketch, error) {
	if len(data) < headerBytes || binary.LittleEndian.Uint64(data[0:8]) != magic {
		return nil, perrors.New(perrors.ParseError, "not a probkit cms sketch")
	}
	width := binary.LittleEndian.Uint32(data[8:12])
	depth := binary.LittleEndian.Uint32(data[12:16])
	cells := uint64(width) * uint64(depth)
	if uint64(len(data)) != headerBytes+cells*8 {
		return nil, perrors.New(perrors.ParseError, "truncated cms sketch payload")
	}
	table := make([]uint64, cells)
	for i := range table {
		table[i] = binary.LittleEndian.Uint64(data[headerBytes+i*8 : headerBytes+i*8+8])
	}
	return &Sketch{width: width, depth: depth, hash: hash, table: table, top: topk.NewTracker(0)}, nil
}
