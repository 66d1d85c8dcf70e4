// Package bloom implements a flat, double-hashed Bloom filter: a single
// packed bit array sized either from a fixed memory budget or from a target
// false-positive rate, queried and updated via Kirsch-Mitzenmacher double
// hashing. Two filters are merge-compatible only when their bit count, k, and
// hash configuration are all identical — merging ORs the underlying words
// together, which is only meaningful if every bit means the same thing in
// both filters.
package bloom

import (
	"encoding/binary"
	"math"

	"probkit.dev/probkit/internal/hashing"
	"probkit.dev/probkit/internal/perrors"
)

const (
	defaultK      = 7
	minMemBytes   = 8
	defaultHintN  = 100000
	saltConstant  = 0x9E3779B97F4A7C15
	magic         = 0x626C6F6F6D763100 // "bloomv1\0" read as a big-endian uint64; written little-endian
	headerBytesLn = 24                 // magic(8) + bits(8) + k(4) + hash kind(4)
)

// Config mirrors the CLI-facing bloom parameters: either an explicit
// false-positive target or a raw memory budget.
type Config struct {
	FP             float64
	MemBudgetBytes uint64
}

// Filter is a flat bit array Bloom filter.
type Filter struct {
	bits   []uint64
	mBits  uint64
	k      uint32
	hash   hashing.Config
}

// NewByMemBudget builds a filter of the given byte budget with a fixed k=7,
// the same default the reference implementation uses when sizing from raw
// memory rather than a target false-positive rate.
func NewByMemBudget(bytes uint64, hash hashing.Config) (*Filter, error) {
	if bytes < minMemBytes {
		return nil, perrors.New(perrors.InvalidArgument, "mem budget below minimum bloom size")
	}
	words := bytes / 8
	if words == 0 {
		return nil, perrors.New(perrors.InvalidArgument, "mem budget rounds to zero words")
	}
	return &Filter{
		bits:  make([]uint64, words),
		mBits: words * 64,
		k:     defaultK,
		hash:  hash,
	}, nil
}

// NewByFP builds a filter sized for a target false-positive rate p and an
// expected item count capacityHint, computing k from clamp(-ln(p)/ln2, 1, 32)
// and m from the standard Bloom sizing formula, rounded up to a whole 64-bit
// word.
func NewByFP(p float64, hash hashing.Config, capacityHint uint64) (*Filter, error) {
	if p <= 0 || p >= 1 {
		return nil, perrors.New(perrors.InvalidArgument, "fp must be in (0,1)")
	}
	if capacityHint == 0 {
		capacityHint = defaultHintN
	}
	const ln2 = math.Ln2
	kReal := -math.Log(p) / ln2
	k := clampRound(kReal, 1, 32)

	mPerN := -math.Log(p) / (ln2 * ln2)
	mBitsF := math.Ceil(mPerN * float64(capacityHint))
	mBits := uint64(mBitsF)
	words := (mBits + 63) / 64
	if words == 0 {
		words = 1
	}
	return &Filter{
		bits:  make([]uint64, words),
		mBits: words * 64,
		k:     uint32(k),
		hash:  hash,
	}, nil
}

func clampRound(v, lo, hi float64) int {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return int(math.Round(v))
}

// BitSize returns the total number of bits in the underlying array.
func (f *Filter) BitSize() uint64 { return f.mBits }

// K returns the number of probes performed per Add/MightContain.
func (f *Filter) K() uint32 { return f.k }

func (f *Filter) secondSeed() hashing.Config {
	cfg := f.hash
	cfg.Seed ^= saltConstant
	return cfg
}

func (f *Filter) probes(x []byte) (h1, h2 uint64) {
	h1 = hashing.Hash64(x, f.hash)
	h2 = hashing.Hash64(x, f.secondSeed()) | 1
	return h1, h2
}

func (f *Filter) bitIndex(h1, h2 uint64, i uint32) uint64 {
	return (h1 + uint64(i)*h2) % f.mBits
}

func (f *Filter) setBit(pos uint64) {
	f.bits[pos/64] |= 1 << (pos % 64)
}

func (f *Filter) testBit(pos uint64) bool {
	return f.bits[pos/64]&(1<<(pos%64)) != 0
}

// Add inserts x into the filter.
func (f *Filter) Add(x []byte) error {
	h1, h2 := f.probes(x)
	for i := uint32(0); i < f.k; i++ {
		f.setBit(f.bitIndex(h1, h2, i))
	}
	return nil
}

// MightContain reports whether x may have been added. False means definitely
// not added; true means possibly added, subject to the filter's false
// positive rate.
func (f *Filter) MightContain(x []byte) (bool, error) {
	h1, h2 := f.probes(x)
	for i := uint32(0); i < f.k; i++ {
		if !f.testBit(f.bitIndex(h1, h2, i)) {
			return false, nil
		}
	}
	return true, nil
}

// Merge ORs other's bits into f in place. Both filters must share bit count,
// k, and hash configuration.
func (f *Filter) Merge(other *Filter) error {
	if f.mBits != other.mBits || f.k != other.k || !f.hash.Equal(other.hash) {
		return perrors.New(perrors.InvalidArgument, "bloom filters are not merge-compatible")
	}
	for i := range f.bits {
		f.bits[i] |= other.bits[i]
	}
	return nil
}

// Serialize encodes the filter as magic + bit count + k + hash kind +
// packed words, all little-endian, for use by diagnostic tooling and tests.
// The hash seed and thread salt are not written.
func (f *Filter) Serialize() []byte {
	out := make([]byte, headerBytesLn+len(f.bits)*8)
	binary.LittleEndian.PutUint64(out[0:8], magic)
	binary.LittleEndian.PutUint64(out[8:16], f.mBits)
	binary.LittleEndian.PutUint32(out[16:20], f.k)
	binary.LittleEndian.PutUint32(out[20:24], uint32(f.hash.Kind))
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(out[headerBytesLn+i*8:headerBytesLn+i*8+8], w)
	}
	return out
}

// Deserialize reconstructs a Filter from bytes written by Serialize. The
// hash config's seed/thread salt are not recoverable from the wire format
// (only the kind is, since bit-for-bit equality of seeds never needs to
// survive a round trip in this tool's use of serialization) and must be
// supplied by the caller.
func Deserialize(data []byte, hash hashing.Config) (*Filter, error) {
	if len(data) < headerBytesLn || binary.LittleEndian.Uint64(data[0:8]) != magic {
		return nil, perrors.New(perrors.ParseError, "not a probkit bloom filter")
	}
	mBits := binary.LittleEndian.Uint64(data[8:16])
	k := binary.LittleEndian.Uint32(data[16:20])
	words := mBits / 64
	if uint64(len(data)) != headerBytesLn+words*8 {
		return nil, perrors.New(perrors.ParseError, "truncated bloom filter payload")
	}
	bits := make([]uint64, words)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[headerBytesLn+i*8 : headerBytesLn+i*8+8])
	}
	return &Filter{bits: bits, mBits: mBits, k: k, hash: hash}, nil
}
