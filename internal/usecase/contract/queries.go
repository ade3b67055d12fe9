package contract

import (
	"context"
	"time"

	"croncat/internal/domain"
	"croncat/internal/usecase/admission"
)

// ConfigView is the config joined with the current nomination window.
type ConfigView struct {
	domain.Config
	AgentNominationBeginTime *time.Time `json:"agent_nomination_begin_time,omitempty"`
}

// BalancesView is the registry ledger as seen by queries.
type BalancesView struct {
	NativeDenom      string                `json:"native_denom"`
	AvailableBalance domain.GenericBalance `json:"available_balance"`
	StakedBalance    domain.GenericBalance `json:"staked_balance"`
	TokenWhitelist   []string              `json:"token_whitelist"`
}

// AgentIDs lists both queues in promotion order.
type AgentIDs struct {
	Active  []string `json:"active"`
	Pending []string `json:"pending"`
}

// GetConfig returns the committed config.
func (c *Contract) GetConfig(ctx context.Context) (*ConfigView, error) {
	s, _, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	return &ConfigView{
		Config:                   s.Config.Clone(),
		AgentNominationBeginTime: s.Registry.Clone().NominationBeginTime,
	}, nil
}

// GetBalances returns the registry ledger.
func (c *Contract) GetBalances(ctx context.Context) (*BalancesView, error) {
	s, _, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	l := s.Ledger.Clone()
	return &BalancesView{
		NativeDenom:      s.Config.NativeDenom,
		AvailableBalance: l.Available,
		StakedBalance:    l.Staked,
		TokenWhitelist:   append([]string{}, s.Config.TokenWhitelist...),
	}, nil
}

// GetAgent returns the agent record with its status derived at the current
// block time.
func (c *Contract) GetAgent(ctx context.Context, accountID string) (*domain.AgentView, error) {
	s, now, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	agent, ok := s.Agents[accountID]
	if !ok {
		return nil, domain.NewDomainError("Contract.GetAgent", domain.ErrNotFound, accountID)
	}
	total, err := c.deps.Tasks.Total(ctx)
	if err != nil {
		return nil, err
	}
	st, err := admission.Status(accountID, s.Registry, admission.ParamsFrom(s.Config, total), now)
	if err != nil {
		return nil, err
	}
	return &domain.AgentView{Agent: agent.Clone(), Status: st.Status}, nil
}

// GetAgentStatus returns the tagged status with the queue position.
func (c *Contract) GetAgentStatus(ctx context.Context, accountID string) (domain.AgentState, error) {
	s, now, err := c.view(ctx)
	if err != nil {
		return domain.AgentState{}, err
	}
	total, err := c.deps.Tasks.Total(ctx)
	if err != nil {
		return domain.AgentState{}, err
	}
	return admission.Status(accountID, s.Registry, admission.ParamsFrom(s.Config, total), now)
}

// GetAgentIDs returns the active and pending queues.
func (c *Contract) GetAgentIDs(ctx context.Context) (*AgentIDs, error) {
	s, _, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	r := s.Registry.Clone()
	return &AgentIDs{Active: r.Active, Pending: r.Pending}, nil
}

// GetAgentTasks returns how many tasks the agent covers. Tasks are split
// evenly across the active queue with the remainder going to the earliest
// agents; pending agents cover none.
func (c *Contract) GetAgentTasks(ctx context.Context, accountID string) (uint64, error) {
	s, _, err := c.view(ctx)
	if err != nil {
		return 0, err
	}
	if _, ok := s.Agents[accountID]; !ok {
		return 0, domain.NewDomainError("Contract.GetAgentTasks", domain.ErrNotFound, accountID)
	}
	pos := s.Registry.ActivePosition(accountID)
	if pos < 0 {
		return 0, nil
	}
	total, err := c.deps.Tasks.Total(ctx)
	if err != nil {
		return 0, err
	}
	return TasksForPosition(total, len(s.Registry.Active), pos), nil
}

// Summary is a point-in-time overview of the registry.
type Summary struct {
	Address        string `json:"address"`
	Paused         bool   `json:"paused"`
	ActiveAgents   int    `json:"active_agents"`
	PendingAgents  int    `json:"pending_agents"`
	NominationOpen bool   `json:"nomination_open"`
	TotalTasks     uint64 `json:"total_tasks"`
}

// GetSummary returns queue sizes, the window state and the task total.
func (c *Contract) GetSummary(ctx context.Context) (*Summary, error) {
	s, _, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	total, err := c.deps.Tasks.Total(ctx)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Address:        c.deps.Address,
		Paused:         s.Config.Paused,
		ActiveAgents:   len(s.Registry.Active),
		PendingAgents:  len(s.Registry.Pending),
		NominationOpen: s.Registry.NominationBeginTime != nil,
		TotalTasks:     total,
	}, nil
}

// TasksForPosition splits total tasks across n active agents.
func TasksForPosition(total uint64, n, pos int) uint64 {
	if n <= 0 || pos < 0 || pos >= n {
		return 0
	}
	share := total / uint64(n)
	if uint64(pos) < total%uint64(n) {
		share++
	}
	return share
}
