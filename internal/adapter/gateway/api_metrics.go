package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics tracks gateway counters for the status API and /metrics.
type Metrics struct {
	ClientsConnected atomic.Int64
	AuthFailures     atomic.Int64
	RPCCallsTotal    atomic.Int64
	RPCErrorsTotal   atomic.Int64
	RPCRateLimited   atomic.Int64
	EventsForwarded  atomic.Int64
	EventsDropped    atomic.Int64
	LedgerDrifts     atomic.Int64
}

type metricLine struct {
	name, help, kind string
	value            float64
}

// metricsHandler serves GET /metrics in the Prometheus text format.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		lines := []metricLine{
			{"croncat_gateway_clients", "Connected WebSocket clients.", "gauge", float64(metrics.ClientsConnected.Load())},
			{"croncat_gateway_auth_failures_total", "Rejected connection attempts.", "counter", float64(metrics.AuthFailures.Load())},
			{"croncat_rpc_calls_total", "RPC requests dispatched.", "counter", float64(metrics.RPCCallsTotal.Load())},
			{"croncat_rpc_errors_total", "RPC requests that returned an error.", "counter", float64(metrics.RPCErrorsTotal.Load())},
			{"croncat_rpc_rate_limited_total", "RPC requests refused by the per-connection limiter.", "counter", float64(metrics.RPCRateLimited.Load())},
			{"croncat_events_forwarded_total", "Events delivered to clients.", "counter", float64(metrics.EventsForwarded.Load())},
			{"croncat_events_dropped_total", "Events dropped for slow clients.", "counter", float64(metrics.EventsDropped.Load())},
			{"croncat_ledger_drifts_total", "Reconciliation runs that found drift.", "counter", float64(metrics.LedgerDrifts.Load())},
		}

		if sum, err := deps.Contract.GetSummary(r.Context()); err == nil {
			paused := 0.0
			if sum.Paused {
				paused = 1
			}
			open := 0.0
			if sum.NominationOpen {
				open = 1
			}
			lines = append(lines,
				metricLine{"croncat_agents_active", "Agents in the active queue.", "gauge", float64(sum.ActiveAgents)},
				metricLine{"croncat_agents_pending", "Agents in the pending queue.", "gauge", float64(sum.PendingAgents)},
				metricLine{"croncat_tasks_total", "Tasks in the task index.", "gauge", float64(sum.TotalTasks)},
				metricLine{"croncat_nomination_open", "Whether a nomination window is open.", "gauge", open},
				metricLine{"croncat_paused", "Whether the registry is paused.", "gauge", paused},
			)
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		lines = append(lines,
			metricLine{"croncat_uptime_seconds", "Seconds since the daemon started.", "gauge", time.Since(startTime).Seconds()},
			metricLine{"go_goroutines", "Number of goroutines.", "gauge", float64(runtime.NumGoroutine())},
			metricLine{"go_memstats_alloc_bytes", "Bytes of allocated heap objects.", "gauge", float64(mem.Alloc)},
		)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %g\n", l.name, l.help, l.name, l.kind, l.name, l.value)
		}
	}
}
