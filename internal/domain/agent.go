package domain

import (
	"slices"
	"time"
)

// AgentStatus is derived from queue membership at read time and never stored.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentPending   AgentStatus = "pending"
	AgentNominated AgentStatus = "nominated"
)

// AgentState is the tagged status of an agent. Position is the zero-based
// index inside the queue the agent belongs to.
type AgentState struct {
	Status   AgentStatus `json:"status"`
	Position int         `json:"position"`
}

// Active reports whether the agent may execute tasks and collect rewards.
func (s AgentState) Active() bool { return s.Status == AgentActive }

// Nominated reports whether the agent may check in to become active.
func (s AgentState) Nominated() bool { return s.Status == AgentNominated }

// Agent is a registered worker account.
type Agent struct {
	AccountID          string         `json:"account_id"`
	PayableAccountID   string         `json:"payable_account_id"`
	Balance            GenericBalance `json:"balance"`
	TotalTasksExecuted uint64         `json:"total_tasks_executed"`
	LastExecutedSlot   uint64         `json:"last_executed_slot"`
	RegisterStart      time.Time      `json:"register_start"`
}

// Clone returns a deep copy of the agent record.
func (a Agent) Clone() Agent {
	a.Balance = a.Balance.Clone()
	return a
}

// AgentView is an agent record joined with its derived status.
type AgentView struct {
	Agent
	Status AgentStatus `json:"status"`
}

// AgentRegistry holds the two ordered worker queues and the nomination window
// start. Queue order defines promotion priority and must stay stable.
type AgentRegistry struct {
	Active              []string   `json:"active"`
	Pending             []string   `json:"pending"`
	NominationBeginTime *time.Time `json:"nomination_begin_time,omitempty"`
}

// Clone returns a deep copy of the registry.
func (r AgentRegistry) Clone() AgentRegistry {
	out := AgentRegistry{
		Active:  append([]string{}, r.Active...),
		Pending: append([]string{}, r.Pending...),
	}
	if r.NominationBeginTime != nil {
		t := *r.NominationBeginTime
		out.NominationBeginTime = &t
	}
	return out
}

// ActivePosition returns the agent's index in the active queue, or -1.
func (r AgentRegistry) ActivePosition(accountID string) int {
	return slices.Index(r.Active, accountID)
}

// PendingPosition returns the agent's index in the pending queue, or -1.
func (r AgentRegistry) PendingPosition(accountID string) int {
	return slices.Index(r.Pending, accountID)
}

// Contains reports whether the agent is in either queue.
func (r AgentRegistry) Contains(accountID string) bool {
	return r.ActivePosition(accountID) >= 0 || r.PendingPosition(accountID) >= 0
}

// Enqueue adds a new agent. The first agent of an empty active queue is
// admitted directly; everyone else waits at the tail of the pending queue.
func (r *AgentRegistry) Enqueue(accountID string) AgentStatus {
	if len(r.Active) == 0 {
		r.Active = append(r.Active, accountID)
		return AgentActive
	}
	r.Pending = append(r.Pending, accountID)
	return AgentPending
}

// Promote moves the pending agent at position into the active queue. Agents
// ahead of it in the pending queue are dropped and returned; they had their
// turn and did not check in.
func (r *AgentRegistry) Promote(position int) (skipped []string) {
	if position < 0 || position >= len(r.Pending) {
		return nil
	}
	accountID := r.Pending[position]
	skipped = append(skipped, r.Pending[:position]...)
	r.Pending = append([]string{}, r.Pending[position+1:]...)
	r.Active = append(r.Active, accountID)
	return skipped
}

// Remove deletes the agent from whichever queue holds it.
func (r *AgentRegistry) Remove(accountID string) bool {
	if i := r.ActivePosition(accountID); i >= 0 {
		r.Active = slices.Delete(r.Active, i, i+1)
		return true
	}
	if i := r.PendingPosition(accountID); i >= 0 {
		r.Pending = slices.Delete(r.Pending, i, i+1)
		return true
	}
	return false
}
