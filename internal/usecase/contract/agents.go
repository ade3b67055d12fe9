package contract

import (
	"context"
	"strconv"

	"croncat/internal/domain"
	"croncat/internal/usecase/admission"
	"croncat/internal/usecase/settlement"
)

// RegisterAgent adds the caller as a worker. The first agent of an empty
// active queue is admitted directly; everyone else joins the pending queue.
func (c *Contract) RegisterAgent(ctx context.Context, payableAccountID string) (*Response, error) {
	return c.execute(ctx, "register_agent", func(d *draft) error {
		const op = "Contract.RegisterAgent"
		if d.state.Config.Paused {
			return domain.WrapOp(op, domain.ErrPaused)
		}
		if d.caller == "" {
			return domain.NewDomainError(op, domain.ErrInvalidInput, "caller is empty")
		}
		if _, ok := d.state.Agents[d.caller]; ok || d.state.Registry.Contains(d.caller) {
			return domain.NewDomainError(op, domain.ErrAgentExists, d.caller)
		}
		if payableAccountID == "" {
			payableAccountID = d.caller
		}

		status := d.state.Registry.Enqueue(d.caller)
		d.state.Agents[d.caller] = domain.Agent{
			AccountID:        d.caller,
			PayableAccountID: payableAccountID,
			RegisterStart:    d.now,
		}
		if err := d.rollWindow(); err != nil {
			return err
		}

		d.attr("agent_status", string(status))
		d.attr("payable_account_id", payableAccountID)
		d.emit(domain.EventAgentRegistered, map[string]any{
			"account_id": d.caller,
			"status":     status,
		})
		return nil
	})
}

// UpdateAgent changes the caller's payout account.
func (c *Contract) UpdateAgent(ctx context.Context, payableAccountID string) (*Response, error) {
	return c.execute(ctx, "update_agent", func(d *draft) error {
		const op = "Contract.UpdateAgent"
		if d.state.Config.Paused {
			return domain.WrapOp(op, domain.ErrPaused)
		}
		if payableAccountID == "" {
			return domain.NewDomainError(op, domain.ErrInvalidInput, "payable_account_id is empty")
		}
		agent, ok := d.state.Agents[d.caller]
		if !ok {
			return domain.NewDomainError(op, domain.ErrAgentUnregistered, d.caller)
		}
		agent.PayableAccountID = payableAccountID
		d.state.Agents[d.caller] = agent

		d.attr("payable_account_id", payableAccountID)
		d.emit(domain.EventAgentUpdated, map[string]any{
			"account_id":         d.caller,
			"payable_account_id": payableAccountID,
		})
		return nil
	})
}

// CheckInAgent promotes a nominated caller into the active queue. Pending
// agents ahead of it missed their turn and are unregistered.
func (c *Contract) CheckInAgent(ctx context.Context) (*Response, error) {
	return c.execute(ctx, "check_in_agent", func(d *draft) error {
		const op = "Contract.CheckInAgent"
		if _, ok := d.state.Agents[d.caller]; !ok {
			return domain.NewDomainError(op, domain.ErrAgentUnregistered, d.caller)
		}
		total, err := d.totalTasks()
		if err != nil {
			return err
		}
		st, err := admission.Status(d.caller, d.state.Registry, admission.ParamsFrom(d.state.Config, total), d.now)
		if err != nil {
			return err
		}
		if !st.Nominated() {
			return domain.NewDomainError(op, domain.ErrNotNominated, string(st.Status))
		}

		skipped := d.state.Registry.Promote(st.Position)
		for _, id := range skipped {
			if err := d.removeAgent(id); err != nil {
				return err
			}
			d.emit(domain.EventAgentSkipped, map[string]any{"account_id": id})
		}
		// The window restarts for whoever is next in line.
		d.state.Registry.NominationBeginTime = nil
		if err := d.rollWindow(); err != nil {
			return err
		}

		d.attr("new_agent", d.caller)
		d.attr("skipped_agents", strconv.Itoa(len(skipped)))
		d.emit(domain.EventAgentCheckedIn, map[string]any{
			"account_id": d.caller,
			"position":   len(d.state.Registry.Active) - 1,
			"skipped":    skipped,
		})
		return nil
	})
}

// UnregisterAgent removes the caller and pays out its reward balance.
func (c *Contract) UnregisterAgent(ctx context.Context) (*Response, error) {
	return c.execute(ctx, "unregister_agent", func(d *draft) error {
		const op = "Contract.UnregisterAgent"
		if _, ok := d.state.Agents[d.caller]; !ok {
			return domain.NewDomainError(op, domain.ErrAgentUnregistered, d.caller)
		}
		d.state.Registry.Remove(d.caller)
		if err := d.removeAgent(d.caller); err != nil {
			return err
		}
		if err := d.rollWindow(); err != nil {
			return err
		}

		d.attr("account_id", d.caller)
		d.emit(domain.EventAgentUnregistered, map[string]any{"account_id": d.caller})
		return nil
	})
}

// WithdrawReward pays the caller's reward balance to its payable account.
func (c *Contract) WithdrawReward(ctx context.Context) (*Response, error) {
	return c.execute(ctx, "withdraw_agent_balance", func(d *draft) error {
		const op = "Contract.WithdrawReward"
		agent, ok := d.state.Agents[d.caller]
		if !ok {
			return domain.NewDomainError(op, domain.ErrAgentUnregistered, d.caller)
		}
		p, err := settlement.BuildPayout(d.state.Ledger, agent)
		if err != nil {
			return err
		}
		d.state.Ledger = p.Ledger
		d.state.Agents[d.caller] = p.Agent
		d.instructions = append(d.instructions, p.Instructions...)

		d.attr("account_id", d.caller)
		d.attr("payable_account_id", agent.PayableAccountID)
		d.emit(domain.EventAgentWithdrawn, map[string]any{
			"account_id": d.caller,
			"paid":       p.Paid,
		})
		return nil
	})
}

// removeAgent pays out and deletes the agent record. The caller removes the
// account from the registry queues.
func (d *draft) removeAgent(accountID string) error {
	agent, ok := d.state.Agents[accountID]
	if !ok {
		return nil
	}
	p, err := settlement.BuildPayout(d.state.Ledger, agent)
	if err != nil {
		return err
	}
	d.state.Ledger = p.Ledger
	d.instructions = append(d.instructions, p.Instructions...)
	delete(d.state.Agents, accountID)
	return nil
}
