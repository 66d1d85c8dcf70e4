// probkit-check is a diagnostic tool for inspecting serialized probkit
// sketches (the byte layout each of internal/bloom, internal/hll, and
// internal/cms writes via Serialize). It identifies which sketch kind a file
// holds from its magic bytes, reports the header fields (with -v), and runs
// the payload through the matching package's Deserialize to confirm its
// length agrees with its header. Counter, register and bit contents are not
// checked.
//
// Usage
// =====
//
//	probkit-check -file snapshot.bin
//	probkit-check -file snapshot.bin -v
//
// Exit Codes
// ==========
//
// 0: the file holds a recognized, structurally valid sketch.
// 1: the file is unrecognized, truncated, or fails to deserialize.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strings"

	"probkit.dev/probkit/internal/bloom"
	"probkit.dev/probkit/internal/cms"
	"probkit.dev/probkit/internal/hashing"
	"probkit.dev/probkit/internal/hll"
)

// Magic values mirrored from each package's unexported constant, since
// identifying a file's kind has to happen before we know which package's
// Deserialize to call.
const (
	bloomMagic = 0x626C6F6F6D763100
	hllMagic   = 0x70726F626B686C6C
	cmsMagic   = 0x31534D4370726F62
)

func main() {
	filePath := flag.String("file", "", "path to a serialized probkit sketch")
	verbose := flag.Bool("v", false, "print header fields in addition to the summary line")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "[err] -file is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] cannot read file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("probkit-check: inspecting %s (%d bytes)\n", *filePath, len(data))

	report, err := inspect(data, *verbose)
	if err != nil {
		die(err.Error())
	}
	fmt.Print(report)
}

// zeroHash stands in for the seed/salt that serialized sketches don't
// preserve (by design — see bloom.Deserialize's doc comment); it's only
// used here to confirm the payload deserializes structurally, not to
// recover the original hash behavior.
var zeroHash = hashing.Config{Kind: hashing.Wyhash}

// inspect identifies data's sketch kind from its magic prefix and renders a
// report confirming it deserializes structurally. It does no I/O so it can
// be exercised directly from tests.
func inspect(data []byte, verbose bool) (string, error) {
	if len(data) < 8 {
		return "", fmt.Errorf("file too short to contain a magic header")
	}
	magic := binary.LittleEndian.Uint64(data[0:8])

	switch magic {
	case bloomMagic:
		return reportBloom(data, verbose)
	case hllMagic:
		return reportHLL(data, verbose)
	case cmsMagic:
		return reportCMS(data, verbose)
	default:
		return "", fmt.Errorf("unrecognized magic: %016x", magic)
	}
}

func reportBloom(data []byte, verbose bool) (string, error) {
	f, err := bloom.Deserialize(data, zeroHash)
	if err != nil {
		return "", fmt.Errorf("bloom filter failed to deserialize: %w", err)
	}
	var b strings.Builder
	b.WriteString("type: BloomFilter\n")
	if verbose {
		fmt.Fprintf(&b, "  m_bits: %d\n", f.BitSize())
		fmt.Fprintf(&b, "  k:      %d\n", f.K())
	}
	b.WriteString("structurally valid\n")
	return b.String(), nil
}

func reportHLL(data []byte, verbose bool) (string, error) {
	s, err := hll.Deserialize(data, zeroHash)
	if err != nil {
		return "", fmt.Errorf("hll sketch failed to deserialize: %w", err)
	}
	var b strings.Builder
	b.WriteString("type: HyperLogLog\n")
	if verbose {
		fmt.Fprintf(&b, "  precision: %d\n", s.Precision())
		fmt.Fprintf(&b, "  m:         %d\n", s.M())
	}
	est, err := s.Estimate()
	if err != nil {
		return "", fmt.Errorf("hll estimate failed: %w", err)
	}
	fmt.Fprintf(&b, "structurally valid, cardinality estimate ~%.0f\n", est)
	return b.String(), nil
}

func reportCMS(data []byte, verbose bool) (string, error) {
	s, err := cms.Deserialize(data, zeroHash)
	if err != nil {
		return "", fmt.Errorf("cms sketch failed to deserialize: %w", err)
	}
	w, d := s.Dims()
	var b strings.Builder
	b.WriteString("type: CountMinSketch\n")
	if verbose {
		fmt.Fprintf(&b, "  width: %d\n", w)
		fmt.Fprintf(&b, "  depth: %d\n", d)
	}
	b.WriteString("structurally valid\n")
	return b.String(), nil
}

func die(msg string) {
	fmt.Fprintf(os.Stderr, "[err] %s\n", msg)
	os.Exit(1)
}
