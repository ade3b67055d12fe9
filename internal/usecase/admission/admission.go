// Package admission decides how many pending agents may join the active set
// and whether a given pending agent's turn has come. Everything here is a pure
// function of the loaded registry, the config and the host block time.
package admission

import (
	"math/bits"
	"time"

	"croncat/internal/domain"
)

// Params are the config values and the task total read by the controller.
type Params struct {
	MinTasksPerAgent   uint64
	NominationDuration uint64 // seconds
	TotalTasks         uint64
}

// ParamsFrom builds Params from the config and the current task total.
func ParamsFrom(cfg domain.Config, totalTasks uint64) Params {
	return Params{
		MinTasksPerAgent:   cfg.MinTasksPerAgent,
		NominationDuration: cfg.AgentNominationDuration,
		TotalTasks:         totalTasks,
	}
}

func (p Params) validate() error {
	if p.MinTasksPerAgent == 0 {
		return domain.NewDomainError("admission", domain.ErrInvalidConfiguration, "min_tasks_per_agent is zero")
	}
	if p.NominationDuration == 0 {
		return domain.NewDomainError("admission", domain.ErrInvalidConfiguration, "agent_nomination_duration is zero")
	}
	return nil
}

// SlotsToOpen returns ceil(backlog / minTasks), or 0 when there is no backlog.
func SlotsToOpen(backlog, minTasks uint64) uint64 {
	if backlog == 0 || minTasks == 0 {
		return 0
	}
	n := backlog / minTasks
	if backlog%minTasks != 0 {
		n++
	}
	return n
}

// Backlog is the number of tasks the active agents cannot cover.
func Backlog(minTasks uint64, numActive int, totalTasks uint64) uint64 {
	hi, capacity := bits.Mul64(uint64(numActive), minTasks)
	if hi != 0 || capacity >= totalTasks {
		return 0
	}
	return totalTasks - capacity
}

// AgentsToLetIn is the number of pending agents admitted in the current window.
func AgentsToLetIn(minTasks uint64, numActive int, totalTasks uint64) uint64 {
	return SlotsToOpen(Backlog(minTasks, numActive, totalTasks), minTasks)
}

// Status derives the agent's state from queue membership. Active agents take
// the fast path. A pending agent at position p is nominated once
// p <= max(elapsed/duration, slots-1) inside an open window.
func Status(accountID string, reg domain.AgentRegistry, p Params, now time.Time) (domain.AgentState, error) {
	if pos := reg.ActivePosition(accountID); pos >= 0 {
		return domain.AgentState{Status: domain.AgentActive, Position: pos}, nil
	}
	pos := reg.PendingPosition(accountID)
	if pos < 0 {
		return domain.AgentState{}, domain.NewDomainError("admission.Status", domain.ErrAgentUnregistered, accountID)
	}
	if err := p.validate(); err != nil {
		return domain.AgentState{}, err
	}

	pending := domain.AgentState{Status: domain.AgentPending, Position: pos}
	slots := AgentsToLetIn(p.MinTasksPerAgent, len(reg.Active), p.TotalTasks)
	if slots == 0 || reg.NominationBeginTime == nil {
		return pending, nil
	}

	if uint64(pos) <= MaxAdmittableIndex(*reg.NominationBeginTime, now, p.NominationDuration, slots) {
		return domain.AgentState{Status: domain.AgentNominated, Position: pos}, nil
	}
	return pending, nil
}

// MaxAdmittableIndex is the highest pending position currently nominated.
// A block time earlier than the window start counts as zero elapsed seconds.
func MaxAdmittableIndex(begin, now time.Time, duration, slots uint64) uint64 {
	var elapsed uint64
	if d := now.Unix() - begin.Unix(); d > 0 {
		elapsed = uint64(d)
	}
	byTime := elapsed / duration
	if slots > 0 && slots-1 > byTime {
		return slots - 1
	}
	return byTime
}

// WindowChange reports what RollWindow did to the nomination window.
type WindowChange int

const (
	WindowUnchanged WindowChange = iota
	WindowOpened
	WindowClosed
)

func (w WindowChange) String() string {
	switch w {
	case WindowOpened:
		return "opened"
	case WindowClosed:
		return "closed"
	default:
		return "unchanged"
	}
}

// RollWindow opens the nomination window at now when slots are available and
// agents are waiting, and closes it when either runs out. An already open
// window keeps its start time.
func RollWindow(reg *domain.AgentRegistry, p Params, now time.Time) (WindowChange, error) {
	if err := p.validate(); err != nil {
		return WindowUnchanged, err
	}
	slots := AgentsToLetIn(p.MinTasksPerAgent, len(reg.Active), p.TotalTasks)
	if slots == 0 || len(reg.Pending) == 0 {
		if reg.NominationBeginTime == nil {
			return WindowUnchanged, nil
		}
		reg.NominationBeginTime = nil
		return WindowClosed, nil
	}
	if reg.NominationBeginTime != nil {
		return WindowUnchanged, nil
	}
	begin := now
	reg.NominationBeginTime = &begin
	return WindowOpened, nil
}
