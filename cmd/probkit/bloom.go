package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"probkit.dev/probkit/internal/bloom"
	"probkit.dev/probkit/internal/cli"
	"probkit.dev/probkit/internal/hashing"
	"probkit.dev/probkit/internal/pipeline"
	"probkit.dev/probkit/internal/promtext"
)

const bloomUsage = "usage: probkit bloom [--fp=<p> [--capacity-hint=<n>]] | [--mem-budget=<bytes>] [--action=dedup]\n"

type bloomOptions struct {
	haveFP    bool
	fp        float64
	haveMem   bool
	mem       uint64
	haveCap   bool
	cap       uint64
	dedupMode bool
}

func parseBloomOptions(args []string) (opt bloomOptions, help bool, err error) {
	for _, a := range args {
		switch {
		case a == "--help":
			return opt, true, nil
		case hasPrefixVal(a, "--fp="):
			v, perr := strconv.ParseFloat(cutVal(a, "--fp="), 64)
			if perr != nil {
				return opt, false, fmt.Errorf("invalid --fp")
			}
			opt.fp, opt.haveFP = v, true
		case hasPrefixVal(a, "--capacity-hint="):
			v, perr := strconv.ParseUint(cutVal(a, "--capacity-hint="), 10, 64)
			if perr != nil {
				return opt, false, fmt.Errorf("invalid --capacity-hint")
			}
			opt.cap, opt.haveCap = v, true
		case hasPrefixVal(a, "--mem-budget="):
			v, perr := strconv.ParseUint(cutVal(a, "--mem-budget="), 10, 64)
			if perr != nil {
				return opt, false, fmt.Errorf("invalid --mem-budget")
			}
			opt.mem, opt.haveMem = v, true
		case hasPrefixVal(a, "--action="):
			v := cutVal(a, "--action=")
			if v != "dedup" {
				return opt, false, fmt.Errorf("invalid --action")
			}
			opt.dedupMode = true
		}
	}
	return opt, false, nil
}

func hasPrefixVal(s, prefix string) bool { return strings.HasPrefix(s, prefix) }
func cutVal(s, prefix string) string     { return s[len(prefix):] }

func makeBloomFilter(opt bloomOptions, hash hashing.Config) (*bloom.Filter, error) {
	if opt.haveFP {
		return bloom.NewByFP(opt.fp, hash, opt.cap)
	}
	return bloom.NewByMemBudget(opt.mem, hash)
}

// shardThreadSalt derives a per-worker salt so sharded dedup filters don't
// share correlated hash outputs across shards.
func shardThreadSalt(hash hashing.Config, workerIndex int) uint64 {
	return hashing.DeriveThreadSalt(hash.Seed, uint64(workerIndex)+1)
}

func runBloom(g cli.GlobalOptions, args []string, logger *slog.Logger, stop <-chan struct{}) int {
	opt, help, err := parseBloomOptions(args)
	if help {
		fmt.Fprint(os.Stdout, bloomUsage)
		return cli.ExitSuccess
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return cli.ExitArgumentError
	}
	if opt.haveFP && opt.haveMem {
		fmt.Fprintln(os.Stderr, "error: specify either --fp or --mem-budget")
		return cli.ExitGeneralError
	}
	if opt.haveFP {
		if opt.fp <= 0.0 || opt.fp >= 1.0 {
			fmt.Fprintln(os.Stderr, "error: --fp must be in (0,1)")
			return cli.ExitGeneralError
		}
		if opt.haveCap && opt.cap == 0 {
			fmt.Fprintln(os.Stderr, "error: --capacity-hint must be > 0")
			return cli.ExitGeneralError
		}
	} else if opt.haveMem && opt.mem == 0 {
		fmt.Fprintln(os.Stderr, "error: --mem-budget must be > 0 (>= 8 recommended)")
		return cli.ExitGeneralError
	} else if !opt.haveMem {
		fmt.Fprintln(os.Stderr, "error: missing args (specify --fp or --mem-budget)")
		return cli.ExitGeneralError
	}

	f, err := makeBloomFilter(opt, g.Hash)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to build bloom filter")
		return cli.ExitGeneralError
	}

	if !opt.dedupMode {
		if g.JSON {
			fmt.Printf("{\"m_bits\":%d,\"k\":%d}\n", f.BitSize(), f.K())
		} else {
			fmt.Printf("bloom: m_bits=%d k=%d\n", f.BitSize(), f.K())
		}
		return cli.ExitSuccess
	}

	in, closer, err := openInput(g)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to open --file")
		return cli.ExitGeneralError
	}
	defer closer.Close()

	numWorkers := pipeline.DecideNumWorkers(g.Threads)

	// Single-worker fallback: dedup against f directly with no sharding, no
	// salted per-shard filters, and no worker goroutine.
	if numWorkers <= 1 {
		return runBloomDedupSingleThreaded(g, opt, f, in, logger, stop)
	}

	rings := pipeline.NewRings(numWorkers)
	locals := make([]*bloom.Filter, numWorkers)
	for i := range locals {
		hc := g.Hash
		hc.ThreadSalt = shardThreadSalt(hc, i)
		lf, err := makeBloomFilter(opt, hc)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to init bloom shard")
			return cli.ExitGeneralError
		}
		locals[i] = lf
	}

	var done atomic.Bool
	var seen, passed atomic.Uint64
	var outMu sync.Mutex

	var workers sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		i := i
		workers.Add(1)
		go func() {
			defer workers.Done()
			pipeline.RunWorker(rings[i], nil, &done, func(line []byte) {
				seen.Add(1)
				mc, err := locals[i].MightContain(line)
				if err != nil {
					return
				}
				if !mc {
					_ = locals[i].Add(line)
					outMu.Lock()
					os.Stdout.Write(line)
					os.Stdout.Write([]byte("\n"))
					outMu.Unlock()
					passed.Add(1)
				}
			})
		}()
	}

	reporter, stopStats := startStats(g)

	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, draining bloom dedup workers")
			break
		}
		line := scanner.Bytes()
		cp := make([]byte, len(line))
		copy(cp, line)
		shard := pipeline.HashShard(cp, g.Hash, numWorkers)
		pipeline.Dispatch(rings[shard], pipeline.LineItem{Data: cp})
		processed++
		reporter.Add(1)
		if g.StopAfter != 0 && processed >= g.StopAfter {
			break
		}
	}
	done.Store(true)
	workers.Wait()
	stopStats()

	if g.JSON {
		if opt.haveFP {
			fmt.Fprintf(os.Stderr, "{\"seen\":%d,\"passed\":%d,\"fp_target\":%.6f}\n", seen.Load(), passed.Load(), opt.fp)
		} else {
			fmt.Fprintf(os.Stderr, "{\"seen\":%d,\"passed\":%d}\n", seen.Load(), passed.Load())
		}
	}

	if g.Prom {
		if err := promtext.Write(g.PromPath, promtext.Summary{
			"bloom_seen":   float64(seen.Load()),
			"bloom_passed": float64(passed.Load()),
		}); err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to write --prom output")
			return cli.ExitGeneralError
		}
	}
	return cli.ExitSuccess
}

// runBloomDedupSingleThreaded is the single-worker dedup fallback: the
// reader checks and updates f directly, with no ring, no worker goroutine,
// and no per-shard salting (there is only one shard). This is also the path
// that gives spec.md's dedup example (stdin "a\nb\na\nc\n" -> stdout
// "a\nb\nc\n") its exact-order guarantee: spec.md's own "no ordering between
// shards" note only applies once numWorkers > 1.
func runBloomDedupSingleThreaded(g cli.GlobalOptions, opt bloomOptions, f *bloom.Filter, in io.Reader, logger *slog.Logger, stop <-chan struct{}) int {
	reporter, stopStats := startStats(g)

	var seen, passed uint64
	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, finishing single-threaded bloom dedup run")
			break
		}
		line := scanner.Bytes()
		seen++
		mc, err := f.MightContain(line)
		if err == nil && !mc {
			_ = f.Add(line)
			os.Stdout.Write(line)
			os.Stdout.Write([]byte("\n"))
			passed++
		}
		processed++
		reporter.Add(1)
		if g.StopAfter != 0 && processed >= g.StopAfter {
			break
		}
	}
	stopStats()

	if g.JSON {
		if opt.haveFP {
			fmt.Fprintf(os.Stderr, "{\"seen\":%d,\"passed\":%d,\"fp_target\":%.6f}\n", seen, passed, opt.fp)
		} else {
			fmt.Fprintf(os.Stderr, "{\"seen\":%d,\"passed\":%d}\n", seen, passed)
		}
	}

	if g.Prom {
		if err := promtext.Write(g.PromPath, promtext.Summary{
			"bloom_seen":   float64(seen),
			"bloom_passed": float64(passed),
		}); err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to write --prom output")
			return cli.ExitGeneralError
		}
	}
	return cli.ExitSuccess
}
