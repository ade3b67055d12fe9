package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"croncat/internal/domain"
	"croncat/internal/usecase/contract"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service  ServiceStatus     `json:"service"`
	Registry *contract.Summary `json:"registry,omitempty"` // nil before genesis
	Host     HostStatus        `json:"host"`
	Gateway  GatewayStatus     `json:"gateway"`
}

// ServiceStatus holds daemon overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Instantiated  bool   `json:"instantiated"`
}

// HostStatus reports the health of the host balance queries.
type HostStatus struct {
	Breaker string `json:"breaker,omitempty"`
}

// GatewayStatus holds connection and request counts.
type GatewayStatus struct {
	Clients     int64 `json:"clients"`
	RPCCalls    int64 `json:"rpc_calls"`
	RPCErrors   int64 `json:"rpc_errors"`
	RateLimited int64 `json:"rate_limited"`
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "croncatd",
				Version:       deps.Version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Gateway: GatewayStatus{
				Clients:     metrics.ClientsConnected.Load(),
				RPCCalls:    metrics.RPCCallsTotal.Load(),
				RPCErrors:   metrics.RPCErrorsTotal.Load(),
				RateLimited: metrics.RPCRateLimited.Load(),
			},
		}
		if deps.BreakerState != nil {
			resp.Host.Breaker = deps.BreakerState()
		}

		sum, err := deps.Contract.GetSummary(r.Context())
		switch {
		case err == nil:
			resp.Registry = sum
			resp.Service.Instantiated = true
		case errors.Is(err, domain.ErrGenesisMissing):
		default:
			deps.Logger.Warn("status: registry summary failed", "error", err)
			http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, resp)
	}
}

const defaultEventsLimit = 50

// eventsHandler returns GET /api/v1/events?limit=N, oldest first.
func eventsHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := defaultEventsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		events := []domain.Event{}
		if deps.History != nil {
			events = append(events, deps.History.Recent(limit)...)
		}
		writeJSON(w, events)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
