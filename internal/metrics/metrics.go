// Package metrics wires the scripting runtime's resource counters into
// Prometheus, following the teacher's convention of an optional,
// nil-safe metrics handle that the core never requires to run standalone —
// only cmd/scriptd registers it against a real Prometheus registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Scripting groups the gauges/counters/histograms the heap and VM update as
// a script runs. A nil *Scripting is always safe to use: every heap/vm call
// site nil-checks before touching it, so the cost of instrumentation is
// opt-in.
type Scripting struct {
	ScriptsTotal          *prometheus.CounterVec
	ScriptErrorsTotal     *prometheus.CounterVec
	InstructionsExecuted  prometheus.Counter
	BytesAllocated        prometheus.Counter
	ValuesLive            prometheus.Counter
	ScriptDuration        prometheus.Histogram
}

// New registers the scripting metrics against reg and returns the handle.
// Call once per process; pass the result into every heap.New call that
// should be observed.
func New(reg prometheus.Registerer) *Scripting {
	s := &Scripting{
		ScriptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luacore_scripts_run_total",
			Help: "Number of scripts executed by the runtime.",
		}, []string{"outcome"}),
		ScriptErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luacore_script_errors_total",
			Help: "Number of script executions that ended in an error, by kind.",
		}, []string{"kind"}),
		InstructionsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luacore_script_instructions_executed_total",
			Help: "Cumulative VM instructions dispatched across all scripts.",
		}),
		BytesAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luacore_script_bytes_allocated_total",
			Help: "Cumulative bytes charged against the heap's memory limit.",
		}),
		ValuesLive: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luacore_script_values_created_total",
			Help: "Cumulative heap objects created across all scripts.",
		}),
		ScriptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "luacore_script_duration_seconds",
			Help:    "Wall-clock duration of a single script run.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		s.ScriptsTotal,
		s.ScriptErrorsTotal,
		s.InstructionsExecuted,
		s.BytesAllocated,
		s.ValuesLive,
		s.ScriptDuration,
	)
	return s
}
