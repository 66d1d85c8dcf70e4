// Package cli parses the global options shared by every probkit subcommand
// and defines the process exit codes, mirroring the reference
// implementation's options_parse.cpp handler table.
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"probkit.dev/probkit/internal/hashing"
)

// Exit codes returned by main for each subcommand outcome.
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitArgumentError = 2
)

// GlobalOptions holds the flags common to every subcommand (hll, bloom, cms).
type GlobalOptions struct {
	Threads   int
	FilePath  string
	JSON      bool
	StopAfter uint64
	Hash      hashing.Config

	Stats                bool
	StatsIntervalSeconds uint

	Bucket string

	Prom     bool
	PromPath string

	MemBudgetBytes uint64
}

// DefaultGlobalOptions returns the zero-value defaults: auto thread count,
// stdin, plain text, no stop limit, wyhash.
func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		Hash:                 hashing.Config{Kind: hashing.Wyhash},
		StatsIntervalSeconds: 5,
	}
}

// Usage is the root help text, printed verbatim on --help or a parse error
// at the top level.
const Usage = `probkit: approximate stream summarization (Bloom/HLL/CMS)
usage: probkit [global-options] <subcommand> [subcommand-options]
  subcommands: hll | bloom | cms
  global options are recognized only before the subcommand

global-options:
  --threads=<N>          number of worker threads (default: HW threads)
  --file=<path>          read from file (default: stdin)
  --json                 machine-readable output
  --hash=wyhash|xxhash    hash algorithm
  --stop-after=<count>   stop after processing N lines
  --stats[=<seconds>]    print periodic stats (default interval: 5s)
  --bucket=<dur>         output per time-bucket (e.g., 30s, 1m)
  --prom[=<path>]        emit Prometheus textfile (to path or stdout)
  --mem-budget=<bytes>   accepted but not used for sizing (bloom takes its own --mem-budget)
`

// ParseResult reports how parsing a global-option prefix ended.
type ParseResult struct {
	// ExitCode is ExitSuccess on a clean "--help" or a subcommand boundary,
	// ExitArgumentError on a malformed flag.
	ExitCode int
	// HelpShown is true when --help was seen (caller should print Usage and
	// return ExitSuccess without running a subcommand).
	HelpShown bool
	// Rest is the unconsumed argv: the subcommand name and its own flags.
	Rest []string
}

type handlerFn func(arg string, g *GlobalOptions) (handled bool, err error)

var globalHandlers = []handlerFn{
	handleJSON,
	handleThreads,
	handleFile,
	handleHash,
	handleStopAfter,
	handleStats,
	handleBucket,
	handleProm,
	handleMemBudget,
}

func handleJSON(arg string, g *GlobalOptions) (bool, error) {
	if arg != "--json" {
		return false, nil
	}
	g.JSON = true
	return true, nil
}

func handleThreads(arg string, g *GlobalOptions) (bool, error) {
	val, ok := cutPrefix(arg, "--threads=")
	if !ok {
		return false, nil
	}
	v, err := strconv.ParseUint(val, 10, 64)
	if err != nil || v == 0 || v > 1024 {
		return true, fmt.Errorf("invalid --threads value")
	}
	g.Threads = int(v)
	return true, nil
}

func handleFile(arg string, g *GlobalOptions) (bool, error) {
	val, ok := cutPrefix(arg, "--file=")
	if !ok {
		return false, nil
	}
	g.FilePath = val
	return true, nil
}

func handleHash(arg string, g *GlobalOptions) (bool, error) {
	val, ok := cutPrefix(arg, "--hash=")
	if !ok {
		return false, nil
	}
	k, ok2 := hashing.ParseKind(val)
	if !ok2 {
		return true, fmt.Errorf("unknown --hash value")
	}
	g.Hash.Kind = k
	return true, nil
}

func handleStopAfter(arg string, g *GlobalOptions) (bool, error) {
	val, ok := cutPrefix(arg, "--stop-after=")
	if !ok {
		return false, nil
	}
	v, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return true, fmt.Errorf("invalid --stop-after value")
	}
	g.StopAfter = v
	return true, nil
}

func handleStats(arg string, g *GlobalOptions) (bool, error) {
	if arg == "--stats" {
		g.Stats = true
		g.StatsIntervalSeconds = 5
		return true, nil
	}
	val, ok := cutPrefix(arg, "--stats=")
	if !ok {
		return false, nil
	}
	v, err := strconv.ParseUint(val, 10, 64)
	if err != nil || v == 0 || v > 3600 {
		return true, fmt.Errorf("invalid --stats value (1..3600)")
	}
	g.Stats = true
	g.StatsIntervalSeconds = uint(v)
	return true, nil
}

func handleBucket(arg string, g *GlobalOptions) (bool, error) {
	val, ok := cutPrefix(arg, "--bucket=")
	if !ok {
		return false, nil
	}
	if val == "" {
		return true, fmt.Errorf("invalid --bucket value")
	}
	g.Bucket = val
	return true, nil
}

func handleProm(arg string, g *GlobalOptions) (bool, error) {
	if arg == "--prom" {
		g.Prom = true
		g.PromPath = ""
		return true, nil
	}
	val, ok := cutPrefix(arg, "--prom=")
	if !ok {
		return false, nil
	}
	g.Prom = true
	g.PromPath = val
	return true, nil
}

func handleMemBudget(arg string, g *GlobalOptions) (bool, error) {
	val, ok := cutPrefix(arg, "--mem-budget=")
	if !ok {
		return false, nil
	}
	v, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return true, fmt.Errorf("invalid --mem-budget value")
	}
	g.MemBudgetBytes = v
	return true, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// ParseGlobalOptions consumes leading global flags from args, stopping at the
// first argument that doesn't start with "-" (the subcommand name) or at
// "--help"/an error. g is updated in place, starting from its current value.
func ParseGlobalOptions(args []string, g *GlobalOptions) ParseResult {
	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		if a == "" || a[0] != '-' {
			break
		}
		if a == "--help" {
			return ParseResult{ExitCode: ExitSuccess, HelpShown: true}
		}
		handled := false
		var herr error
		for _, fn := range globalHandlers {
			ok, err := fn(a, g)
			if ok {
				handled = true
				herr = err
				break
			}
		}
		if !handled {
			return ParseResult{ExitCode: ExitArgumentError}
		}
		if herr != nil {
			return ParseResult{ExitCode: ExitArgumentError}
		}
	}
	return ParseResult{ExitCode: ExitSuccess, Rest: args[i:]}
}
