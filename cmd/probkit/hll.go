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
	"time"

	"probkit.dev/probkit/internal/cli"
	"probkit.dev/probkit/internal/hll"
	"probkit.dev/probkit/internal/pipeline"
	"probkit.dev/probkit/internal/promtext"
	"probkit.dev/probkit/internal/timeutil"
)

const hllUsage = "usage: probkit hll [--precision=<p>]\n"

type hllOptions struct {
	precision uint8
}

func parseHLLOptions(args []string) (opt hllOptions, help bool, err error) {
	opt = hllOptions{precision: 14}
	for _, a := range args {
		if a == "--help" {
			return opt, true, nil
		}
		if val, ok := strings.CutPrefix(a, "--precision="); ok {
			v, perr := strconv.ParseUint(val, 10, 64)
			if perr != nil || v > 24 {
				return opt, false, fmt.Errorf("invalid --precision")
			}
			opt.precision = uint8(v)
		}
	}
	return opt, false, nil
}

func runHLL(g cli.GlobalOptions, args []string, logger *slog.Logger, stop <-chan struct{}) int {
	opt, help, err := parseHLLOptions(args)
	if help {
		fmt.Fprint(os.Stdout, hllUsage)
		return cli.ExitSuccess
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return cli.ExitArgumentError
	}

	in, closer, err := openInput(g)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to open --file")
		return cli.ExitGeneralError
	}
	defer closer.Close()

	bucketMode := g.Bucket != ""
	var bucketDur time.Duration
	if bucketMode {
		bucketDur, err = timeutil.ParseDuration(g.Bucket)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: invalid --bucket value")
			return cli.ExitGeneralError
		}
		if bucketDur < time.Second {
			bucketDur = time.Second
		}
	}

	numWorkers := pipeline.DecideNumWorkers(g.Threads)

	// Single-worker fallback: the reader processes records inline, skipping
	// rings and the worker/reducer handshake entirely, matching
	// run_hll_single_non_bucket/run_hll_single_bucketed in the reference CLI.
	if numWorkers <= 1 {
		global, err := hll.NewByPrecision(opt.precision, g.Hash)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to init hll")
			return cli.ExitGeneralError
		}
		if !bucketMode {
			return runHLLSingleNonBucket(g, global, in, logger, stop)
		}
		return runHLLSingleBucketed(g, opt.precision, bucketDur, in, logger, stop)
	}

	rings := pipeline.NewRings(numWorkers)
	locals := make([]*hll.Sketch, numWorkers)
	for i := range locals {
		s, err := hll.NewByPrecision(opt.precision, g.Hash)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to init hll worker sketch")
			return cli.ExitGeneralError
		}
		locals[i] = s
	}

	var done atomic.Bool
	var workersEnded atomic.Bool
	var gate pipeline.Gate

	var workers sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		i := i
		workers.Add(1)
		go func() {
			defer workers.Done()
			pipeline.RunWorker(rings[i], &gate, &done, func(line []byte) {
				_ = locals[i].Add(line)
			})
		}()
	}

	reducerDone := make(chan struct{})
	if bucketMode {
		go runHLLBucketReducer(g, locals, opt.precision, bucketDur, &gate, &done, &workersEnded, numWorkers, reducerDone)
	}

	reporter, stopStats := startStats(g)

	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, draining hll workers")
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
	workersEnded.Store(true)
	stopStats()

	if bucketMode {
		<-reducerDone
		return cli.ExitSuccess
	}

	global, err := hll.NewByPrecision(opt.precision, g.Hash)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to init hll")
		return cli.ExitGeneralError
	}
	for _, tl := range locals {
		if err := global.Merge(tl); err != nil {
			fmt.Fprintln(os.Stderr, "error: hll merge failed")
			return cli.ExitGeneralError
		}
	}
	est, err := global.Estimate()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: hll estimate failed")
		return cli.ExitGeneralError
	}
	printHLLEstimate(g, "", est, global.M())

	if g.Prom {
		if err := promtext.Write(g.PromPath, promtext.Summary{
			"hll_cardinality_estimate": est,
			"hll_register_count":       float64(global.M()),
		}); err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to write --prom output")
			return cli.ExitGeneralError
		}
	}
	return cli.ExitSuccess
}

func printHLLEstimate(g cli.GlobalOptions, ts string, est float64, m int) {
	if g.JSON {
		if ts != "" {
			fmt.Printf("{\"ts\":%q,\"uu\":%.0f,\"m\":%d}\n", ts, est, m)
		} else {
			fmt.Printf("{\"uu\":%.0f,\"m\":%d}\n", est, m)
		}
		return
	}
	if ts != "" {
		fmt.Printf("%s\tuu=%.0f m=%d\n", ts, est, m)
	} else {
		fmt.Printf("uu=%.0f m=%d\n", est, m)
	}
}

func runHLLBucketReducer(
	g cli.GlobalOptions,
	locals []*hll.Sketch,
	precision uint8,
	bucketDur time.Duration,
	gate *pipeline.Gate,
	done *atomic.Bool,
	workersEnded *atomic.Bool,
	numWorkers int,
	reducerDone chan<- struct{},
) {
	defer close(reducerDone)

	tb := timeutil.NewTimebase(time.Now())
	bucketStart := time.Now()
	bucketEnd := bucketStart.Add(bucketDur)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		finishing := done.Load() && workersEnded.Load()
		if now.Before(bucketEnd) && !finishing {
			continue
		}

		if !finishing {
			gate.RequestPause(numWorkers)
		}

		acc, err := hll.NewByPrecision(precision, g.Hash)
		if err == nil {
			for _, tl := range locals {
				_ = acc.Merge(tl)
			}
			if est, err := acc.Estimate(); err == nil {
				ts := timeutil.FormatUTCISO8601(tb.ToSystem(bucketStart))
				printHLLEstimate(g, ts, est, acc.M())
			} else {
				fmt.Fprintln(os.Stderr, "error: hll estimate failed")
			}
		}

		for i := range locals {
			if s, err := hll.NewByPrecision(precision, g.Hash); err == nil {
				locals[i] = s
			}
		}

		if !finishing {
			gate.Resume()
			bucketStart = bucketEnd
			bucketEnd = bucketStart.Add(bucketDur)
			continue
		}
		return
	}
}

// runHLLSingleNonBucket is the single-worker, non-bucketed fallback: no
// rings, no worker goroutine, the reader adds straight into global.
func runHLLSingleNonBucket(g cli.GlobalOptions, global *hll.Sketch, in io.Reader, logger *slog.Logger, stop <-chan struct{}) int {
	reporter, stopStats := startStats(g)

	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, finishing single-threaded hll run")
			break
		}
		_ = global.Add(scanner.Bytes())
		processed++
		reporter.Add(1)
		if g.StopAfter != 0 && processed >= g.StopAfter {
			break
		}
	}
	stopStats()

	est, err := global.Estimate()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: hll estimate failed")
		return cli.ExitGeneralError
	}
	printHLLEstimate(g, "", est, global.M())

	if g.Prom {
		if err := promtext.Write(g.PromPath, promtext.Summary{
			"hll_cardinality_estimate": est,
			"hll_register_count":       float64(global.M()),
		}); err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to write --prom output")
			return cli.ExitGeneralError
		}
	}
	return cli.ExitSuccess
}

// runHLLSingleBucketed is the single-worker, bucketed fallback: the reader
// itself checks bucket boundaries and flushes inline, since there are no
// concurrent workers to pause.
func runHLLSingleBucketed(g cli.GlobalOptions, precision uint8, bucketDur time.Duration, in io.Reader, logger *slog.Logger, stop <-chan struct{}) int {
	bucketSk, err := hll.NewByPrecision(precision, g.Hash)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to init hll bucket")
		return cli.ExitGeneralError
	}

	tb := timeutil.NewTimebase(time.Now())
	bucketStart := time.Now()
	bucketEnd := bucketStart.Add(bucketDur)

	flush := func(ts time.Time) {
		if est, err := bucketSk.Estimate(); err == nil {
			printHLLEstimate(g, timeutil.FormatUTCISO8601(tb.ToSystem(ts)), est, bucketSk.M())
		} else {
			fmt.Fprintln(os.Stderr, "error: hll estimate failed")
		}
		if s, err := hll.NewByPrecision(precision, g.Hash); err == nil {
			bucketSk = s
		}
	}

	reporter, stopStats := startStats(g)

	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, finishing single-threaded hll run")
			break
		}
		now := time.Now()
		if !now.Before(bucketEnd) {
			flush(bucketStart)
			bucketStart = bucketEnd
			bucketEnd = bucketStart.Add(bucketDur)
		}
		_ = bucketSk.Add(scanner.Bytes())
		processed++
		reporter.Add(1)
		if g.StopAfter != 0 && processed >= g.StopAfter {
			break
		}
	}
	stopStats()
	flush(bucketStart)
	return cli.ExitSuccess
}
