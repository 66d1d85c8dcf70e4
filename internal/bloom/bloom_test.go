package bloom

import (
	"testing"

	"probkit.dev/probkit/internal/hashing"
)

func testHash() hashing.Config {
	return hashing.Config{Kind: hashing.Wyhash, Seed: 1}
}

func TestNewByMemBudgetRejectsTooSmall(t *testing.T) {
	if _, err := NewByMemBudget(4, testHash()); err == nil {
		t.Fatalf("expected error for sub-minimum mem budget")
	}
}

func TestNewByMemBudgetSizing(t *testing.T) {
	f, err := NewByMemBudget(1024, testHash())
	if err != nil {
		t.Fatalf("NewByMemBudget: %v", err)
	}
	if f.BitSize() != 1024*8 {
		t.Errorf("BitSize() = %d, want %d", f.BitSize(), 1024*8)
	}
	if f.K() != defaultK {
		t.Errorf("K() = %d, want %d", f.K(), defaultK)
	}
}

func TestNewByFPRejectsOutOfRange(t *testing.T) {
	for _, p := range []float64{0, 1, -0.1, 1.1} {
		if _, err := NewByFP(p, testHash(), 1000); err == nil {
			t.Errorf("expected error for fp=%v", p)
		}
	}
}

func TestAddThenMightContain(t *testing.T) {
	f, err := NewByFP(0.01, testHash(), 1000)
	if err != nil {
		t.Fatalf("NewByFP: %v", err)
	}
	if err := f.Add([]byte("apple")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := f.MightContain([]byte("apple"))
	if err != nil || !got {
		t.Fatalf("MightContain(apple) = %v, %v, want true, nil", got, err)
	}
}

func TestMightContainFalseBeforeAdd(t *testing.T) {
	f, err := NewByFP(0.001, testHash(), 10000)
	if err != nil {
		t.Fatalf("NewByFP: %v", err)
	}
	falsePositives := 0
	const n = 2000
	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8), 'x', 'x'}
		if got, _ := f.MightContain(key); got {
			falsePositives++
		}
	}
	if falsePositives > n/10 {
		t.Errorf("unexpectedly high false positive rate before any Add: %d/%d", falsePositives, n)
	}
}

func TestMergeRequiresCompatibleFilters(t *testing.T) {
	a, _ := NewByMemBudget(1024, testHash())
	b, _ := NewByMemBudget(2048, testHash())
	if err := a.Merge(b); err == nil {
		t.Fatalf("expected merge error for mismatched bit sizes")
	}
}

func TestMergeUnionsMembership(t *testing.T) {
	a, _ := NewByMemBudget(4096, testHash())
	b, _ := NewByMemBudget(4096, testHash())
	a.Add([]byte("foo"))
	b.Add([]byte("bar"))
	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	for _, key := range []string{"foo", "bar"} {
		got, _ := a.MightContain([]byte(key))
		if !got {
			t.Errorf("MightContain(%q) after merge = false, want true", key)
		}
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	f, _ := NewByMemBudget(1024, testHash())
	f.Add([]byte("roundtrip"))
	data := f.Serialize()
	g, err := Deserialize(data, testHash())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got, _ := g.MightContain([]byte("roundtrip"))
	if !got {
		t.Fatalf("MightContain after round trip = false, want true")
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	if _, err := Deserialize([]byte("not a bloom filter at all, nope"), testHash()); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}
