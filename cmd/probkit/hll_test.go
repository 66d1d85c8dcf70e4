package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"probkit.dev/probkit/internal/cli"
)

func TestRunHLLSingleThreadedEstimatesCardinality(t *testing.T) {
	g := cli.DefaultGlobalOptions()
	g.FilePath = writeTempInput(t, "a\nb\nc\na\nb\n")
	g.Threads = 1
	g.JSON = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stop := make(chan struct{})

	var code int
	out := captureStdout(t, func() {
		code = runHLL(g, nil, logger, stop)
	})

	if code != cli.ExitSuccess {
		t.Fatalf("runHLL exit code = %d, want %d", code, cli.ExitSuccess)
	}
	if len(out) == 0 {
		t.Fatalf("runHLL produced no output")
	}
	if !bytes.Contains(out, []byte(`"uu":3,`)) {
		t.Errorf("output = %q, want uu=3 for 3 distinct lines", out)
	}
}
