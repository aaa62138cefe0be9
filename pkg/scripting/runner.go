package scripting

import (
	"luacore/internal/heap"
	"luacore/internal/heappool"
	"luacore/internal/metrics"
)

// Runner executes scripts against a pooled set of heaps instead of
// allocating one per call, for an embedder running many short scripts
// back to back (grounded on the teacher's LuaStatePool usage pattern —
// get a resource, use it, return it reset). stdlib.Install runs again
// after every Get, since ResetScript clears the globals table each
// pooled heap is returned with.
type Runner struct {
	pool    *heappool.Pool
	metrics *metrics.Scripting
}

// NewRunner builds a Runner backed by up to maxHeaps pooled heaps, each
// built with limits and reporting into m (nil disables Prometheus
// instrumentation entirely).
func NewRunner(maxHeaps int, limits Limits, m *metrics.Scripting) *Runner {
	hl := limits.heapLimits()
	pool := heappool.New(maxHeaps, func() *heap.Heap { return heap.New(hl, m) })
	return &Runner{pool: pool, metrics: m}
}

// Run executes script on a pooled heap and returns it afterward.
func (r *Runner) Run(script *Script, keys, argv [][]byte, host Host, limits Limits) (Reply, error) {
	h := r.pool.Get()
	defer r.pool.Put(h)

	reply, err := runOn(h, script, keys, argv, host, limits)
	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			r.metrics.ScriptErrorsTotal.WithLabelValues(errorKind(err)).Inc()
		}
		r.metrics.ScriptsTotal.WithLabelValues(outcome).Inc()
	}
	return reply, err
}

// Close releases every pooled heap. Heaps checked out at the time of the
// call are reset and then dropped, not pooled again, when they are next
// Put back.
func (r *Runner) Close() {
	r.pool.Close()
}
