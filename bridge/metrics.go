package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lovell/sharp-sub001/threads"
)

// Metrics holds the bridge's prometheus collectors.
type Metrics struct {
	MemoryBytes   prometheus.Gauge
	MemoryGrows   prometheus.Counter
	OpenFDs       prometheus.Gauge
	LiveHandles   prometheus.Gauge
	References    prometheus.Gauge
	Calls         *prometheus.CounterVec
	FatalErrors   prometheus.Counter
	TableInstalls prometheus.Counter
}

// NewMetrics registers the bridge collectors with reg. Pool counters are
// read from pool on every scrape.
func NewMetrics(reg prometheus.Registerer, pool *threads.Pool) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		MemoryBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "sharpwasm_memory_bytes",
			Help: "Current size of linear memory in bytes",
		}),
		MemoryGrows: f.NewCounter(prometheus.CounterOpts{
			Name: "sharpwasm_memory_grows_total",
			Help: "Successful linear memory grows",
		}),
		OpenFDs: f.NewGauge(prometheus.GaugeOpts{
			Name: "sharpwasm_fs_open_fds",
			Help: "Open file descriptors in the virtual filesystem",
		}),
		LiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "sharpwasm_napi_handles",
			Help: "Live napi handles in open scopes",
		}),
		References: f.NewGauge(prometheus.GaugeOpts{
			Name: "sharpwasm_napi_references",
			Help: "Live napi references",
		}),
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sharpwasm_calls_total",
			Help: "Calls into addon exports",
		}, []string{"export", "outcome"}),
		FatalErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sharpwasm_fatal_errors_total",
			Help: "Aborts, assertion failures and napi_fatal_error calls",
		}),
		TableInstalls: f.NewCounter(prometheus.CounterOpts{
			Name: "sharpwasm_table_installs_total",
			Help: "Host functions installed into the guest function table",
		}),
	}
	if pool == nil {
		return m
	}
	stat := func(get func(threads.Stats) float64) func() float64 {
		return func() float64 { return get(pool.Stats()) }
	}
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "sharpwasm_threads_spawned_total",
		Help: "Threads started on workers",
	}, stat(func(s threads.Stats) float64 { return float64(s.Spawned) }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "sharpwasm_threads_killed_total",
		Help: "Workers terminated by a trap",
	}, stat(func(s threads.Stats) float64 { return float64(s.Killed) }))
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sharpwasm_threads_running",
		Help: "Workers with a thread bound",
	}, stat(func(s threads.Stats) float64 { return float64(s.Running) }))
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sharpwasm_workers",
		Help: "Loaded workers",
	}, stat(func(s threads.Stats) float64 { return float64(s.Workers) }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "sharpwasm_proxied_calls_total",
		Help: "Operations proxied from workers to the main context",
	}, stat(func(s threads.Stats) float64 { return float64(s.Proxied) }))
	return m
}
