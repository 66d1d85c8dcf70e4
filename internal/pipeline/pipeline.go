// Package pipeline holds the reader/worker/reducer scaffolding shared by the
// hll, bloom, and cms subcommands: line scanning, shard routing, the ring
// buffers between reader and workers, and the pause/merge handshake a bucket
// reducer uses to get a consistent snapshot of every worker's thread-local
// sketch without stopping the world.
package pipeline

import (
	"bufio"
	"runtime"
	"sync/atomic"
	"time"

	"probkit.dev/probkit/internal/hashing"
	"probkit.dev/probkit/internal/ring"
)

// LineItem is one record passed from the reader to a worker.
type LineItem struct {
	Data []byte
}

// RingCapacity is the SPSC ring size used for every worker shard, matching
// the reference implementation's fixed 16384-slot rings.
const RingCapacity = 1 << 14

// DecideNumWorkers resolves the --threads flag: an explicit positive value
// wins, otherwise the number of logical CPUs, floored at 1.
func DecideNumWorkers(requested int) int {
	if requested > 0 {
		return requested
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// NewRings allocates numWorkers SPSC rings, one per worker shard.
func NewRings(numWorkers int) []*ring.Ring[LineItem] {
	rs := make([]*ring.Ring[LineItem], numWorkers)
	for i := range rs {
		rs[i] = ring.New[LineItem](RingCapacity)
	}
	return rs
}

// HashShard routes a line to a worker index by hashing it under the given
// config, so the same line always lands on the same shard. Used by bloom
// dedup and hll, where per-shard key affinity matters.
func HashShard(line []byte, cfg hashing.Config, numWorkers int) int {
	return int(hashing.Hash64(line, cfg) % uint64(numWorkers))
}

// RoundRobin hands out shard indices 0..n-1 in rotation. Used by cms, where
// frequency counts merge additively regardless of routing, so balancing load
// across shards is preferable to key affinity.
type RoundRobin struct {
	next int
}

// Next returns the next shard index and advances the rotation.
func (r *RoundRobin) Next(numWorkers int) int {
	i := r.next
	r.next = (r.next + 1) % numWorkers
	return i
}

// Dispatch pushes an item onto r, retrying with a two-phase backoff (a short
// run of runtime.Gosched, then brief sleeps) when the ring is momentarily
// full — mirroring the reference implementation's yield-then-sleep dispatch
// loop.
func Dispatch(r *ring.Ring[LineItem], item LineItem) {
	spins := 0
	for !r.TryPush(item) {
		if spins < 16 {
			runtime.Gosched()
			spins++
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}
}

// scanLinesLF is a bufio.SplitFunc that splits on bare LF only, unlike
// bufio.ScanLines, which also strips a trailing CR. probkit's line format
// treats CR as ordinary data; only LF terminates a record.
func scanLinesLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := indexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// NewLineScanner wraps r in a bufio.Scanner configured to split on bare LF.
func NewLineScanner(r *bufio.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Split(scanLinesLF)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}

// Gate implements the pause/merge handshake between a bucket reducer and the
// worker pool: the reducer sets merging and busy-waits until every worker
// has reported itself paused, merges thread-local state, then clears
// merging and resets the paused counter so workers resume.
type Gate struct {
	merging atomic.Bool
	paused  atomic.Int32
}

// RequestPause signals all workers to pause and blocks until numWorkers of
// them have acknowledged.
func (g *Gate) RequestPause(numWorkers int) {
	g.merging.Store(true)
	for int(g.paused.Load()) < numWorkers {
		time.Sleep(100 * time.Microsecond)
	}
}

// Resume clears the pause request and resets the paused counter.
func (g *Gate) Resume() {
	g.paused.Store(0)
	g.merging.Store(false)
}

// ShouldPause reports whether a worker should stop consuming its ring.
func (g *Gate) ShouldPause() bool { return g.merging.Load() }

// MarkPaused increments the paused-worker counter; call once per pause
// episode (guard with a local bool so it isn't double-counted).
func (g *Gate) MarkPaused() { g.paused.Add(1) }

// RunWorker drains r into apply until done is set and the ring is empty,
// honoring gate's pause requests in between.
func RunWorker(r *ring.Ring[LineItem], gate *Gate, done *atomic.Bool, apply func([]byte)) {
	pausedHere := false
	for {
		if gate != nil && gate.ShouldPause() {
			if !pausedHere {
				gate.MarkPaused()
				pausedHere = true
			}
			time.Sleep(50 * time.Microsecond)
			continue
		}
		pausedHere = false
		if item, ok := r.TryPop(); ok {
			apply(item.Data)
			continue
		}
		if done.Load() {
			return
		}
		runtime.Gosched()
	}
}

// StatsReporter counts processed records; its Run hands the running total to
// a print callback every interval until stop is closed (the CLI's callback
// writes "processed=<N>\n" to stderr for --stats).
type StatsReporter struct {
	processed atomic.Uint64
}

// Add records n newly processed records.
func (s *StatsReporter) Add(n uint64) { s.processed.Add(n) }

// Run blocks, printing the running total every interval, until stop fires.
func (s *StatsReporter) Run(print func(uint64), interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			print(s.processed.Load())
		case <-stop:
			return
		}
	}
}
