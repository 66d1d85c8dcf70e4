package main

import (
	"strings"
	"testing"

	"probkit.dev/probkit/internal/bloom"
	"probkit.dev/probkit/internal/cms"
	"probkit.dev/probkit/internal/hashing"
	"probkit.dev/probkit/internal/hll"
)

func testHash() hashing.Config {
	return hashing.Config{Kind: hashing.Wyhash, Seed: 1}
}

func TestInspectBloomFilter(t *testing.T) {
	f, err := bloom.NewByFP(0.01, testHash(), 1000)
	if err != nil {
		t.Fatalf("NewByFP: %v", err)
	}
	_ = f.Add([]byte("x"))

	report, err := inspect(f.Serialize(), false)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(report, "type: BloomFilter") {
		t.Errorf("report = %q, want it to mention BloomFilter", report)
	}
	if !strings.Contains(report, "structurally valid") {
		t.Errorf("report = %q, want it to confirm validity", report)
	}
}

func TestInspectBloomFilterVerbose(t *testing.T) {
	f, err := bloom.NewByFP(0.01, testHash(), 1000)
	if err != nil {
		t.Fatalf("NewByFP: %v", err)
	}

	report, err := inspect(f.Serialize(), true)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(report, "m_bits:") || !strings.Contains(report, "k:") {
		t.Errorf("verbose report = %q, want m_bits/k fields", report)
	}
}

func TestInspectHLL(t *testing.T) {
	s, err := hll.NewByPrecision(10, testHash())
	if err != nil {
		t.Fatalf("NewByPrecision: %v", err)
	}
	_ = s.Add([]byte("a"))
	_ = s.Add([]byte("b"))

	report, err := inspect(s.Serialize(), false)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(report, "type: HyperLogLog") {
		t.Errorf("report = %q, want it to mention HyperLogLog", report)
	}
	if !strings.Contains(report, "cardinality estimate") {
		t.Errorf("report = %q, want a cardinality estimate", report)
	}
}

func TestInspectCMS(t *testing.T) {
	sk, err := cms.NewByEpsDelta(0.01, 0.01, testHash(), 0)
	if err != nil {
		t.Fatalf("NewByEpsDelta: %v", err)
	}
	_ = sk.Inc([]byte("x"), 5)

	report, err := inspect(sk.Serialize(), true)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(report, "type: CountMinSketch") {
		t.Errorf("report = %q, want it to mention CountMinSketch", report)
	}
	if !strings.Contains(report, "width:") || !strings.Contains(report, "depth:") {
		t.Errorf("verbose report = %q, want width/depth fields", report)
	}
}

func TestInspectRejectsUnrecognizedMagic(t *testing.T) {
	if _, err := inspect([]byte("not a sketch at all, just text"), false); err == nil {
		t.Fatalf("expected error for unrecognized magic")
	}
}

func TestInspectRejectsTooShort(t *testing.T) {
	if _, err := inspect([]byte{0x01, 0x02}, false); err == nil {
		t.Fatalf("expected error for too-short input")
	}
}

func TestInspectRejectsTruncatedPayload(t *testing.T) {
	f, err := bloom.NewByFP(0.01, testHash(), 1000)
	if err != nil {
		t.Fatalf("NewByFP: %v", err)
	}
	data := f.Serialize()
	truncated := data[:len(data)-4]

	if _, err := inspect(truncated, false); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
