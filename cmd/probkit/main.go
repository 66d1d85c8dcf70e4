// Command probkit is a streaming, approximate-summarization CLI over
// newline-delimited records: membership/dedup via Bloom filter, cardinality
// via HyperLogLog, and frequency/heavy-hitters via Count-Min Sketch. Each
// subcommand shards input across a reader/worker/reducer pipeline of
// thread-local sketches merged either once at EOF or on a tumbling window
// when --bucket is set.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"probkit.dev/probkit/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	g := cli.DefaultGlobalOptions()
	res := cli.ParseGlobalOptions(argv, &g)
	if res.HelpShown {
		fmt.Fprint(os.Stdout, cli.Usage)
		return cli.ExitSuccess
	}
	if res.ExitCode != cli.ExitSuccess {
		return res.ExitCode
	}
	if len(res.Rest) == 0 {
		fmt.Fprint(os.Stdout, cli.Usage)
		return cli.ExitGeneralError
	}

	sub, rest := res.Rest[0], res.Rest[1:]
	if sub == "--help" || sub == "help" {
		fmt.Fprint(os.Stdout, cli.Usage)
		return cli.ExitSuccess
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	stop := make(chan struct{})
	go watchShutdownSignal(logger, stop)

	logger.Info("probkit starting", "subcommand", sub, "threads", g.Threads)
	defer logger.Info("probkit exiting", "subcommand", sub)

	switch sub {
	case "hll":
		return runHLL(g, rest, logger, stop)
	case "bloom":
		return runBloom(g, rest, logger, stop)
	case "cms":
		return runCMS(g, rest, logger, stop)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown subcommand: %s\n", sub)
		return cli.ExitArgumentError
	}
}

// watchShutdownSignal waits for SIGINT/SIGTERM and closes stop, mirroring the
// reference server's signal-to-shutdown handshake: there, catching a signal
// closes the listener and waits out in-flight connections; here it sets the
// pipeline's done flag early so the reader/worker loops wind down at the next
// record boundary instead of running to EOF.
func watchShutdownSignal(logger *slog.Logger, stop chan<- struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logger.Info("caught signal, winding down", "signal", s.String())
	close(stop)
}

// openInput opens g.FilePath, or stdin when it is empty or "-". The returned
// closer is always safe to call even for stdin (a no-op there).
func openInput(g cli.GlobalOptions) (io.Reader, io.Closer, error) {
	if g.FilePath == "" || g.FilePath == "-" {
		return os.Stdin, io.NopCloser(nil), nil
	}
	f, err := os.Open(g.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
