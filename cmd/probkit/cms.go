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
	"probkit.dev/probkit/internal/cms"
	"probkit.dev/probkit/internal/pipeline"
	"probkit.dev/probkit/internal/promtext"
	"probkit.dev/probkit/internal/timeutil"
	"probkit.dev/probkit/internal/topk"
)

const cmsUsage = "usage: probkit cms [--eps=<e>] [--delta=<d>] [--topk=<k>]\n"

type cmsOptions struct {
	eps   float64
	delta float64
	topK  uint64
}

func parseCMSOptions(args []string) (opt cmsOptions, help bool, err error) {
	opt = cmsOptions{eps: 1e-3, delta: 1e-4}
	for _, a := range args {
		switch {
		case a == "--help":
			return opt, true, nil
		case hasPrefixVal(a, "--eps="):
			v, perr := strconv.ParseFloat(cutVal(a, "--eps="), 64)
			if perr != nil || v <= 0.0 || v >= 1.0 {
				return opt, false, fmt.Errorf("invalid --eps")
			}
			opt.eps = v
		case hasPrefixVal(a, "--delta="):
			v, perr := strconv.ParseFloat(cutVal(a, "--delta="), 64)
			if perr != nil || v <= 0.0 || v >= 1.0 {
				return opt, false, fmt.Errorf("invalid --delta")
			}
			opt.delta = v
		case hasPrefixVal(a, "--topk="):
			v, perr := strconv.ParseUint(cutVal(a, "--topk="), 10, 64)
			if perr != nil {
				return opt, false, fmt.Errorf("invalid --topk")
			}
			opt.topK = v
		}
	}
	return opt, false, nil
}

func runCMS(g cli.GlobalOptions, args []string, logger *slog.Logger, stop <-chan struct{}) int {
	opt, help, err := parseCMSOptions(args)
	if help {
		fmt.Fprint(os.Stdout, cmsUsage)
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

	// Single-worker fallback: no rings, no round-robin routing, the reader
	// increments one inline sketch directly.
	if numWorkers <= 1 {
		if !bucketMode {
			global, err := cms.NewByEpsDelta(opt.eps, opt.delta, g.Hash, opt.topK)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error: failed to init cms")
				return cli.ExitGeneralError
			}
			return runCMSSingleNonBucket(g, opt, global, in, logger, stop)
		}
		return runCMSSingleBucketed(g, opt, bucketDur, in, logger, stop)
	}

	rings := pipeline.NewRings(numWorkers)
	locals := make([]*cms.Sketch, numWorkers)
	for i := range locals {
		s, err := cms.NewByEpsDelta(opt.eps, opt.delta, g.Hash, opt.topK)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to init worker cms")
			return cli.ExitGeneralError
		}
		locals[i] = s
	}

	var done atomic.Bool
	var workersEnded atomic.Bool
	var gate pipeline.Gate
	var rr pipeline.RoundRobin

	var workers sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		i := i
		workers.Add(1)
		go func() {
			defer workers.Done()
			pipeline.RunWorker(rings[i], &gate, &done, func(line []byte) {
				_ = locals[i].Inc(line, 1)
			})
		}()
	}

	reducerDone := make(chan struct{})
	if bucketMode {
		go runCMSBucketReducer(g, locals, opt, bucketDur, &gate, &done, &workersEnded, numWorkers, reducerDone)
	}

	reporter, stopStats := startStats(g)

	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, draining cms workers")
			break
		}
		line := scanner.Bytes()
		cp := make([]byte, len(line))
		copy(cp, line)
		shard := rr.Next(numWorkers)
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

	global, err := cms.NewByEpsDelta(opt.eps, opt.delta, g.Hash, opt.topK)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to init cms")
		return cli.ExitGeneralError
	}
	for _, tl := range locals {
		if err := global.Merge(tl); err != nil {
			fmt.Fprintln(os.Stderr, "error: cms merge failed")
			return cli.ExitGeneralError
		}
	}

	if opt.topK > 0 {
		items := global.TopK()
		printTopK(g, "", items)
	} else if g.JSON {
		w, d := global.Dims()
		fmt.Printf("{\"depth\":%d,\"width\":%d}\n", d, w)
	} else {
		fmt.Println("cms: processed")
	}

	if g.Prom {
		w, d := global.Dims()
		if err := promtext.Write(g.PromPath, promtext.Summary{
			"cms_width": float64(w),
			"cms_depth": float64(d),
		}); err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to write --prom output")
			return cli.ExitGeneralError
		}
	}
	return cli.ExitSuccess
}

func printTopK(g cli.GlobalOptions, ts string, items []topk.Item) {
	if g.JSON {
		var b strings.Builder
		if ts != "" {
			fmt.Fprintf(&b, "{\"ts\":%q,\"topk\":[", ts)
		} else {
			b.WriteString(`{"topk":[`)
		}
		for i, it := range items {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "{\"key\":%q,\"est\":%d}", it.Key, it.Est)
		}
		b.WriteString("]}\n")
		fmt.Print(b.String())
		return
	}
	for _, it := range items {
		if ts != "" {
			fmt.Printf("%s\t%s\t%d\n", ts, it.Key, it.Est)
		} else {
			fmt.Printf("%s\t%d\n", it.Key, it.Est)
		}
	}
}

func runCMSBucketReducer(
	g cli.GlobalOptions,
	locals []*cms.Sketch,
	opt cmsOptions,
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

		acc, err := cms.NewByEpsDelta(opt.eps, opt.delta, g.Hash, opt.topK)
		if err == nil {
			for _, tl := range locals {
				_ = acc.Merge(tl)
			}
			ts := timeutil.FormatUTCISO8601(tb.ToSystem(bucketStart))
			if opt.topK > 0 {
				printTopK(g, ts, acc.TopK())
			} else if g.JSON {
				w, d := acc.Dims()
				fmt.Printf("{\"ts\":%q,\"depth\":%d,\"width\":%d}\n", ts, d, w)
			} else {
				fmt.Printf("%s\trotated\n", ts)
			}
		}

		for i := range locals {
			if s, err := cms.NewByEpsDelta(opt.eps, opt.delta, g.Hash, opt.topK); err == nil {
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

// runCMSSingleNonBucket is the single-worker, non-bucketed fallback: no
// rings, no round-robin, no worker goroutine.
func runCMSSingleNonBucket(g cli.GlobalOptions, opt cmsOptions, global *cms.Sketch, in io.Reader, logger *slog.Logger, stop <-chan struct{}) int {
	reporter, stopStats := startStats(g)

	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, finishing single-threaded cms run")
			break
		}
		_ = global.Inc(scanner.Bytes(), 1)
		processed++
		reporter.Add(1)
		if g.StopAfter != 0 && processed >= g.StopAfter {
			break
		}
	}
	stopStats()

	if opt.topK > 0 {
		printTopK(g, "", global.TopK())
	} else if g.JSON {
		w, d := global.Dims()
		fmt.Printf("{\"depth\":%d,\"width\":%d}\n", d, w)
	} else {
		fmt.Println("cms: processed")
	}

	if g.Prom {
		w, d := global.Dims()
		if err := promtext.Write(g.PromPath, promtext.Summary{
			"cms_width": float64(w),
			"cms_depth": float64(d),
		}); err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to write --prom output")
			return cli.ExitGeneralError
		}
	}
	return cli.ExitSuccess
}

// runCMSSingleBucketed is the single-worker, bucketed fallback: the reader
// checks bucket boundaries and flushes inline instead of handing that off to
// a separate reducer goroutine.
func runCMSSingleBucketed(g cli.GlobalOptions, opt cmsOptions, bucketDur time.Duration, in io.Reader, logger *slog.Logger, stop <-chan struct{}) int {
	bucketSk, err := cms.NewByEpsDelta(opt.eps, opt.delta, g.Hash, opt.topK)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to init cms bucket")
		return cli.ExitGeneralError
	}

	tb := timeutil.NewTimebase(time.Now())
	bucketStart := time.Now()
	bucketEnd := bucketStart.Add(bucketDur)

	flush := func(ts time.Time) {
		w, d := bucketSk.Dims()
		stamp := timeutil.FormatUTCISO8601(tb.ToSystem(ts))
		if opt.topK > 0 {
			printTopK(g, stamp, bucketSk.TopK())
		} else if g.JSON {
			fmt.Printf("{\"ts\":%q,\"depth\":%d,\"width\":%d}\n", stamp, d, w)
		} else {
			fmt.Printf("%s\trotated\n", stamp)
		}
		if s, err := cms.NewByEpsDelta(opt.eps, opt.delta, g.Hash, opt.topK); err == nil {
			bucketSk = s
		}
	}

	reporter, stopStats := startStats(g)

	scanner := pipeline.NewLineScanner(bufio.NewReader(in))
	var processed uint64
	for scanner.Scan() {
		if stopped(stop) {
			logger.Info("stop signal received, finishing single-threaded cms run")
			break
		}
		now := time.Now()
		if !now.Before(bucketEnd) {
			flush(bucketStart)
			bucketStart = bucketEnd
			bucketEnd = bucketStart.Add(bucketDur)
		}
		_ = bucketSk.Inc(scanner.Bytes(), 1)
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
