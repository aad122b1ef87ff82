// Package metrics exposes Prometheus collectors for the scripting runtime.
// A nil *Metrics is valid and records nothing, so components can run
// without a registry in tests and tools.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime's metric descriptors.
type Metrics struct {
	startTime time.Time
	gatherer  prometheus.Gatherer

	scriptRuns        *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	pendingCoroutines prometheus.Gauge
	schedulerEvents   *prometheus.CounterVec
	dispatches        *prometheus.CounterVec
	uptimeSeconds     prometheus.Gauge
	memoryHeapBytes   prometheus.Gauge
	goroutines        prometheus.Gauge
}

// New creates the collectors and registers them with reg. When reg is nil
// a private registry is used.
func New(reg *prometheus.Registry, startTime time.Time) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		startTime: startTime,
		gatherer:  reg,
		scriptRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushscript_script_runs_total",
			Help: "Script runs and resumes by result.",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushscript_bytecode_cache_lookups_total",
			Help: "Bytecode cache lookups by outcome.",
		}, []string{"outcome"}),
		pendingCoroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushscript_pending_coroutines",
			Help: "Suspended coroutines waiting on a timer.",
		}),
		schedulerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushscript_scheduler_events_total",
			Help: "Coroutine scheduler events by type.",
		}, []string{"event"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushscript_trigger_dispatches_total",
			Help: "Triggers selected for execution by attach type.",
		}, []string{"attach"}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushscript_uptime_seconds",
			Help: "Host uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushscript_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushscript_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	reg.MustRegister(
		m.scriptRuns,
		m.cacheLookups,
		m.pendingCoroutines,
		m.schedulerEvents,
		m.dispatches,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// ScriptRun counts one run or resume by result
// ("completed", "yielded", "failed", "timeout", "sandbox").
func (m *Metrics) ScriptRun(result string) {
	if m == nil {
		return
	}
	m.scriptRuns.WithLabelValues(result).Inc()
}

// CacheLookup counts a bytecode cache lookup ("hit", "miss", "failure").
func (m *Metrics) CacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// SetPending records the current pending coroutine count.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingCoroutines.Set(float64(n))
}

// SchedulerEvent counts a scheduler event
// ("scheduled", "rejected", "resumed", "finished", "failed", "cancelled").
func (m *Metrics) SchedulerEvent(event string) {
	if m == nil {
		return
	}
	m.schedulerEvents.WithLabelValues(event).Inc()
}

// Dispatch counts one trigger selected for an attach type.
func (m *Metrics) Dispatch(attach string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(attach).Inc()
}

// Update refreshes the process gauges.
func (m *Metrics) Update() {
	if m == nil {
		return
	}
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates the gauges before serving.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
