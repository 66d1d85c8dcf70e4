package cli

import (
	"testing"

	"probkit.dev/probkit/internal/hashing"
)

func TestParseGlobalOptionsStopsAtSubcommand(t *testing.T) {
	g := DefaultGlobalOptions()
	res := ParseGlobalOptions([]string{"--json", "--threads=4", "hll", "--precision=12"}, &g)
	if res.ExitCode != ExitSuccess || res.HelpShown {
		t.Fatalf("unexpected parse result: %+v", res)
	}
	if !g.JSON {
		t.Errorf("expected JSON true")
	}
	if g.Threads != 4 {
		t.Errorf("Threads = %d, want 4", g.Threads)
	}
	want := []string{"hll", "--precision=12"}
	if len(res.Rest) != len(want) {
		t.Fatalf("Rest = %v, want %v", res.Rest, want)
	}
	for i := range want {
		if res.Rest[i] != want[i] {
			t.Errorf("Rest[%d] = %q, want %q", i, res.Rest[i], want[i])
		}
	}
}

func TestParseGlobalOptionsHelp(t *testing.T) {
	g := DefaultGlobalOptions()
	res := ParseGlobalOptions([]string{"--help"}, &g)
	if !res.HelpShown || res.ExitCode != ExitSuccess {
		t.Fatalf("expected HelpShown, got %+v", res)
	}
}

func TestParseGlobalOptionsUnknownFlag(t *testing.T) {
	g := DefaultGlobalOptions()
	res := ParseGlobalOptions([]string{"--nope"}, &g)
	if res.ExitCode != ExitArgumentError {
		t.Fatalf("expected ExitArgumentError, got %+v", res)
	}
}

func TestParseGlobalOptionsThreadsRange(t *testing.T) {
	for _, bad := range []string{"--threads=0", "--threads=9999", "--threads=abc"} {
		g := DefaultGlobalOptions()
		res := ParseGlobalOptions([]string{bad}, &g)
		if res.ExitCode != ExitArgumentError {
			t.Errorf("ParseGlobalOptions(%q) = %+v, want ExitArgumentError", bad, res)
		}
	}
}

func TestParseGlobalOptionsStatsDefaultInterval(t *testing.T) {
	g := DefaultGlobalOptions()
	res := ParseGlobalOptions([]string{"--stats"}, &g)
	if res.ExitCode != ExitSuccess {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !g.Stats || g.StatsIntervalSeconds != 5 {
		t.Errorf("Stats = %v, StatsIntervalSeconds = %d, want true/5", g.Stats, g.StatsIntervalSeconds)
	}
}

func TestParseGlobalOptionsStatsExplicitInterval(t *testing.T) {
	g := DefaultGlobalOptions()
	res := ParseGlobalOptions([]string{"--stats=30"}, &g)
	if res.ExitCode != ExitSuccess || g.StatsIntervalSeconds != 30 {
		t.Errorf("got result=%+v interval=%d, want success/30", res, g.StatsIntervalSeconds)
	}
}

func TestParseGlobalOptionsStatsIntervalRange(t *testing.T) {
	for _, bad := range []string{"--stats=0", "--stats=3601"} {
		g := DefaultGlobalOptions()
		res := ParseGlobalOptions([]string{bad}, &g)
		if res.ExitCode != ExitArgumentError {
			t.Errorf("ParseGlobalOptions(%q) = %+v, want ExitArgumentError", bad, res)
		}
	}
}

func TestParseGlobalOptionsHash(t *testing.T) {
	g := DefaultGlobalOptions()
	res := ParseGlobalOptions([]string{"--hash=xxhash"}, &g)
	if res.ExitCode != ExitSuccess || g.Hash.Kind != hashing.Xxhash {
		t.Errorf("got result=%+v hash=%v, want success/xxhash", res, g.Hash.Kind)
	}

	g2 := DefaultGlobalOptions()
	res2 := ParseGlobalOptions([]string{"--hash=bogus"}, &g2)
	if res2.ExitCode != ExitArgumentError {
		t.Errorf("expected ExitArgumentError for unknown hash, got %+v", res2)
	}
}

func TestParseGlobalOptionsProm(t *testing.T) {
	g := DefaultGlobalOptions()
	ParseGlobalOptions([]string{"--prom"}, &g)
	if !g.Prom || g.PromPath != "" {
		t.Errorf("Prom = %v, PromPath = %q, want true/empty", g.Prom, g.PromPath)
	}

	g2 := DefaultGlobalOptions()
	ParseGlobalOptions([]string{"--prom=/tmp/out.prom"}, &g2)
	if !g2.Prom || g2.PromPath != "/tmp/out.prom" {
		t.Errorf("Prom = %v, PromPath = %q, want true//tmp/out.prom", g2.Prom, g2.PromPath)
	}
}

func TestParseGlobalOptionsBucketRejectsEmpty(t *testing.T) {
	g := DefaultGlobalOptions()
	res := ParseGlobalOptions([]string{"--bucket="}, &g)
	if res.ExitCode != ExitArgumentError {
		t.Fatalf("expected ExitArgumentError, got %+v", res)
	}
}
