// Package metrics exposes the fuzzing session's counters both to
// Prometheus (for live scraping) and to the two on-disk formats the
// source's lineage uses: the periodic fuzzer_stats key:value dump and the
// append-only plot_data timeline CSV.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector owns the Prometheus instruments for one fuzzing session and the
// in-memory counters mirrored into fuzzer_stats/plot_data.
type Collector struct {
	execsTotal    prometheus.Counter
	crashesTotal  prometheus.Counter
	timeoutsTotal prometheus.Counter
	execFailTotal prometheus.Counter
	newEdgesTotal prometheus.Counter
	newMaxTotal   prometheus.Counter
	hotspot       prometheus.Gauge
	bitmapCovPct  prometheus.Gauge

	execs    uint64
	crashes  uint64
	timeouts uint64
	execFail uint64
	newEdges uint64
	newMax   uint64
}

// NewCollector builds a Collector and registers its instruments on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		execsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fuzzcore_execs_total",
			Help: "Total number of target executions.",
		}),
		crashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fuzzcore_crashes_total",
			Help: "Total number of runs classified as a crash.",
		}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fuzzcore_timeouts_total",
			Help: "Total number of runs classified as a timeout.",
		}),
		execFailTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fuzzcore_exec_fail_total",
			Help: "Total number of runs where the child failed to exec.",
		}),
		newEdgesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fuzzcore_new_edges_total",
			Help: "Total number of runs that discovered at least one new edge.",
		}),
		newMaxTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fuzzcore_new_max_total",
			Help: "Total number of runs that advanced the per-edge running maximum.",
		}),
		hotspot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fuzzcore_hotspot_count",
			Help: "Busiest edge's hit count in the most recent run.",
		}),
		bitmapCovPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fuzzcore_bitmap_coverage_percent",
			Help: "Percentage of the coverage bitmap with at least one cleared virgin bit.",
		}),
	}
	reg.MustRegister(
		c.execsTotal, c.crashesTotal, c.timeoutsTotal, c.execFailTotal,
		c.newEdgesTotal, c.newMaxTotal, c.hotspot, c.bitmapCovPct,
	)
	return c
}

// Outcome mirrors the small set of fault classes the executor reports,
// decoupled from the forkserver package so metrics has no import cycle risk
// as other callers (tests, future executors) adopt it.
type Outcome int

const (
	OutcomeOk Outcome = iota
	OutcomeCrash
	OutcomeTimeout
	OutcomeExecFail
)

// RecordRun updates every counter for one completed run.
func (c *Collector) RecordRun(outcome Outcome, newEdge, newMax bool, hotspot uint32) {
	c.execs++
	c.execsTotal.Inc()

	switch outcome {
	case OutcomeCrash:
		c.crashes++
		c.crashesTotal.Inc()
	case OutcomeTimeout:
		c.timeouts++
		c.timeoutsTotal.Inc()
	case OutcomeExecFail:
		c.execFail++
		c.execFailTotal.Inc()
	}

	if newEdge {
		c.newEdges++
		c.newEdgesTotal.Inc()
	}
	if newMax {
		c.newMax++
		c.newMaxTotal.Inc()
	}
	c.hotspot.Set(float64(hotspot))
}

// SetBitmapCoverage records the fraction of the coverage bitmap touched so
// far, in percent.
func (c *Collector) SetBitmapCoverage(pct float64) {
	c.bitmapCovPct.Set(pct)
}

// Snapshot is an immutable copy of the running totals, safe to hand to the
// stats writer or a log line.
type Snapshot struct {
	Execs    uint64
	Crashes  uint64
	Timeouts uint64
	ExecFail uint64
	NewEdges uint64
	NewMax   uint64
}

// Snapshot returns the current totals. Called only from the single-threaded
// main loop, so no locking is needed.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Execs:    c.execs,
		Crashes:  c.crashes,
		Timeouts: c.timeouts,
		ExecFail: c.execFail,
		NewEdges: c.newEdges,
		NewMax:   c.newMax,
	}
}
