package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"croncat/internal/domain"
	"croncat/internal/usecase/contract"
)

// EventHistory returns the most recent bus events.
type EventHistory interface {
	Recent(n int) []domain.Event
}

// HandlerDeps holds dependencies needed by RPC and REST handlers.
type HandlerDeps struct {
	Contract     *contract.Contract
	Bus          domain.EventBus
	History      EventHistory  // can be nil
	BreakerState func() string // can be nil
	Version      string
	Logger       *slog.Logger
}

// RegisterRESTHandlers registers the authenticated HTTP endpoints.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) {
	startTime := time.Now()
	metrics := s.Metrics()

	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventLedgerDrift, func(_ context.Context, _ domain.Event) {
			metrics.LedgerDrifts.Add(1)
		})
	}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.auth.Authenticate(tokenFromRequest(r)); err != nil {
				metrics.AuthFailures.Add(1)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(deps, startTime, metrics)))
	s.RegisterHTTPRoute("/api/v1/events", authMiddleware(eventsHandler(deps)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(deps, startTime, metrics)))
}

// RegisterRPCHandlers registers every registry query and command.
func RegisterRPCHandlers(s *Server, deps HandlerDeps) {
	c := deps.Contract

	for method, raw := range map[string]string{
		"agent.get":       accountSchema,
		"agent.status":    accountSchema,
		"agent.tasks":     accountSchema,
		"agent.register":  payableSchema,
		"agent.update":    payableSchema,
		"task.add":        taskSchema,
		"task.remove":     taskSchema,
		"balances.move":   moveBalancesSchema,
		"settings.update": settingsSchema,
	} {
		s.RegisterSchema(method, mustCompileSchema(method, raw))
	}

	// queries
	s.RegisterHandler("config.get", noArgs(c.GetConfig))
	s.RegisterHandler("balances.get", noArgs(c.GetBalances))
	s.RegisterHandler("agent.ids", noArgs(c.GetAgentIDs))
	s.RegisterHandler("registry.summary", noArgs(c.GetSummary))
	s.RegisterHandler("agent.get", agentGetHandler(c))
	s.RegisterHandler("agent.status", agentStatusHandler(c))
	s.RegisterHandler("agent.tasks", agentTasksHandler(c))

	// owner commands
	s.RegisterHandler("settings.update", settingsUpdateHandler(c))
	s.RegisterHandler("balances.move", balancesMoveHandler(c))
	s.RegisterHandler("task.add", taskHandler(c.AddTask))
	s.RegisterHandler("task.remove", taskHandler(c.RemoveTask))

	// agent commands
	s.RegisterHandler("agent.register", agentRegisterHandler(c))
	s.RegisterHandler("agent.update", agentUpdateHandler(c))
	s.RegisterHandler("agent.check_in", noArgs(c.CheckInAgent))
	s.RegisterHandler("agent.unregister", noArgs(c.UnregisterAgent))
	s.RegisterHandler("agent.withdraw", noArgs(c.WithdrawReward))
}

// decode unmarshals payload into v, rejecting unknown fields. An empty
// payload leaves v at its zero value.
func decode(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewDomainError("gateway.decode", domain.ErrRPCInvalidPayload, err.Error())
	}
	return nil
}

func encode(v any, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return out, nil
}

func noArgs[T any](fn func(ctx context.Context) (T, error)) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return encode(fn(ctx))
	}
}

// --- agent queries ---

type accountRequest struct {
	AccountID string `json:"account_id"`
}

// account resolves the queried account, defaulting to the caller.
func (r accountRequest) account(client *ClientInfo) string {
	if r.AccountID != "" {
		return r.AccountID
	}
	return client.Account
}

func agentGetHandler(c *contract.Contract) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req accountRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return encode(c.GetAgent(ctx, req.account(client)))
	}
}

func agentStatusHandler(c *contract.Contract) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req accountRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return encode(c.GetAgentStatus(ctx, req.account(client)))
	}
}

type agentTasksResponse struct {
	AccountID string `json:"account_id"`
	Tasks     uint64 `json:"tasks"`
}

func agentTasksHandler(c *contract.Contract) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req accountRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		id := req.account(client)
		n, err := c.GetAgentTasks(ctx, id)
		return encode(agentTasksResponse{AccountID: id, Tasks: n}, err)
	}
}

// --- owner commands ---

func settingsUpdateHandler(c *contract.Contract) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var patch domain.SettingsPatch
		if err := decode(payload, &patch); err != nil {
			return nil, err
		}
		return encode(c.UpdateSettings(ctx, patch))
	}
}

type moveBalancesRequest struct {
	Destination string            `json:"destination"`
	Movements   []domain.Movement `json:"movements"`
}

func balancesMoveHandler(c *contract.Contract) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req moveBalancesRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.Destination == "" {
			return nil, domain.NewDomainError("balances.move", domain.ErrRPCInvalidPayload, "destination is required")
		}
		return encode(c.MoveBalances(ctx, req.Destination, req.Movements))
	}
}

type taskRequest struct {
	Hash string `json:"hash"`
}

func taskHandler(fn func(ctx context.Context, hash string) (*contract.Response, error)) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req taskRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.Hash == "" {
			return nil, domain.NewDomainError("task", domain.ErrRPCInvalidPayload, "hash is required")
		}
		return encode(fn(ctx, req.Hash))
	}
}

// --- agent commands ---

type payableRequest struct {
	PayableAccountID string `json:"payable_account_id"`
}

func agentRegisterHandler(c *contract.Contract) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req payableRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return encode(c.RegisterAgent(ctx, req.PayableAccountID))
	}
}

func agentUpdateHandler(c *contract.Contract) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req payableRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return encode(c.UpdateAgent(ctx, req.PayableAccountID))
	}
}
