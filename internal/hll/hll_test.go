package hll

import (
	"fmt"
	"math"
	"testing"

	"probkit.dev/probkit/internal/hashing"
)

func testHash() hashing.Config {
	return hashing.Config{Kind: hashing.Xxhash, Seed: 1}
}

func TestNewByPrecisionRejectsOutOfRange(t *testing.T) {
	for _, p := range []uint8{0, 1, 3, 21, 255} {
		if _, err := NewByPrecision(p, testHash()); err == nil {
			t.Errorf("expected error for precision=%d", p)
		}
	}
}

func TestEstimateEmptySketchIsZero(t *testing.T) {
	s, err := NewByPrecision(14, testHash())
	if err != nil {
		t.Fatalf("NewByPrecision: %v", err)
	}
	est, err := s.Estimate()
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est != 0 {
		t.Errorf("Estimate() on empty sketch = %v, want 0", est)
	}
}

func TestEstimateWithinTolerance(t *testing.T) {
	s, err := NewByPrecision(14, testHash())
	if err != nil {
		t.Fatalf("NewByPrecision: %v", err)
	}
	const n = 100000
	for i := 0; i < n; i++ {
		s.Add([]byte(fmt.Sprintf("item-%d", i)))
	}
	est, err := s.Estimate()
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	relErr := math.Abs(est-n) / n
	if relErr > 0.05 {
		t.Errorf("Estimate() = %v, want within 5%% of %d (rel err %v)", est, n, relErr)
	}
}

func TestAddIsIdempotentForCardinality(t *testing.T) {
	s, _ := NewByPrecision(10, testHash())
	s.Add([]byte("same-value"))
	first, _ := s.Estimate()
	for i := 0; i < 100; i++ {
		s.Add([]byte("same-value"))
	}
	second, _ := s.Estimate()
	if first != second {
		t.Errorf("repeated Add of the same value changed the estimate: %v -> %v", first, second)
	}
}

func TestMergeRequiresCompatibleSketches(t *testing.T) {
	a, _ := NewByPrecision(10, testHash())
	b, _ := NewByPrecision(12, testHash())
	if err := a.Merge(b); err == nil {
		t.Fatalf("expected merge error for mismatched precision")
	}
}

func TestMergeUnionOfDisjointSets(t *testing.T) {
	a, _ := NewByPrecision(14, testHash())
	b, _ := NewByPrecision(14, testHash())
	for i := 0; i < 1000; i++ {
		a.Add([]byte(fmt.Sprintf("a-%d", i)))
		b.Add([]byte(fmt.Sprintf("b-%d", i)))
	}
	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	est, _ := a.Estimate()
	relErr := math.Abs(est-2000) / 2000
	if relErr > 0.1 {
		t.Errorf("merged Estimate() = %v, want within 10%% of 2000", est)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s, _ := NewByPrecision(12, testHash())
	for i := 0; i < 500; i++ {
		s.Add([]byte(fmt.Sprintf("item-%d", i)))
	}
	data := s.Serialize()
	r, err := Deserialize(data, testHash())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	wantEst, _ := s.Estimate()
	gotEst, _ := r.Estimate()
	if wantEst != gotEst {
		t.Errorf("Estimate after round trip = %v, want %v", gotEst, wantEst)
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	if _, err := Deserialize([]byte("not an hll sketch at all here"), testHash()); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}
