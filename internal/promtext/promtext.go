// Package promtext emits a one-shot Prometheus textfile-format snapshot of
// the current sketch summary for the CLI's --prom flag. This module's scope
// for --prom is parsing and a single textfile write, not a long-running
// /metrics scrape endpoint (that would mean running as a service, which is
// out of scope for a streaming CLI).
package promtext

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Summary is a flat set of gauge values to emit, keyed by metric name.
type Summary map[string]float64

// Write renders summary as Prometheus text-format gauges prefixed with
// "probkit_" and writes them to path, or to stdout if path is empty.
func Write(path string, summary Summary) error {
	reg := prometheus.NewRegistry()
	for name, value := range summary {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "probkit_" + name,
			Help: "probkit sketch summary value for " + name,
		})
		g.Set(value)
		if err := reg.Register(g); err != nil {
			return err
		}
	}

	mfs, err := reg.Gather()
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
