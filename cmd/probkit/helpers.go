package main

import (
	"fmt"
	"os"
	"time"

	"probkit.dev/probkit/internal/cli"
	"probkit.dev/probkit/internal/pipeline"
)

// startStats launches the --stats reporter goroutine when enabled and
// returns a stop function to call once the pipeline is finished; when stats
// are disabled it returns a no-op reporter and stop function.
func startStats(g cli.GlobalOptions) (reporter *pipeline.StatsReporter, stop func()) {
	reporter = &pipeline.StatsReporter{}
	if !g.Stats {
		return reporter, func() {}
	}
	stopCh := make(chan struct{})
	go reporter.Run(func(n uint64) {
		fmt.Fprintf(os.Stderr, "processed=%d\n", n)
	}, time.Duration(g.StatsIntervalSeconds)*time.Second, stopCh)
	return reporter, func() { close(stopCh) }
}

// stopped reports whether stop has fired, without blocking. Run loops poll
// it between records so an external SIGINT/SIGTERM (see watchShutdownSignal
// in main.go) can wind a run down even mid-stream.
func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
