package contract

import (
	"context"
	"strconv"

	"croncat/internal/domain"
	"croncat/internal/usecase/settlement"
)

// Genesis is the initial configuration and funding of the registry.
type Genesis struct {
	Config    domain.Config
	Available domain.GenericBalance
	Staked    domain.GenericBalance
}

// Instantiate creates the contract state. The owner defaults to the caller.
func (c *Contract) Instantiate(ctx context.Context, g Genesis) (*Response, error) {
	return c.run(ctx, "instantiate", true, func(d *draft) error {
		cfg := g.Config.Clone()
		if cfg.OwnerID == "" {
			cfg.OwnerID = d.caller
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		d.state.Config = cfg
		d.state.Registry = domain.AgentRegistry{Active: []string{}, Pending: []string{}}
		d.state.Ledger = domain.Ledger{Available: g.Available.Clone(), Staked: g.Staked.Clone()}

		d.attrs = append(d.attrs, cfg.Attributes()...)
		d.emit(domain.EventContractInstantiated, cfg)
		return nil
	})
}

// UpdateSettings applies a sparse patch to the config. Owner only.
func (c *Contract) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (*Response, error) {
	return c.execute(ctx, "update_settings", func(d *draft) error {
		if d.caller != d.state.Config.OwnerID {
			return domain.WrapOp("Contract.UpdateSettings", domain.ErrUnauthorized)
		}
		next, err := patch.Apply(d.state.Config)
		if err != nil {
			return err
		}
		d.state.Config = next
		if err := d.rollWindow(); err != nil {
			return err
		}

		d.attrs = append(d.attrs, next.Attributes()...)
		d.emit(domain.EventSettingsUpdated, patch)
		return nil
	})
}

// MoveBalances sends registry funds to the owner or treasury.
func (c *Contract) MoveBalances(ctx context.Context, destination string, movements []domain.Movement) (*Response, error) {
	return c.execute(ctx, "move_balances", func(d *draft) error {
		res, err := c.builder.BuildTransfers(d.ctx, d.state.Config, d.state.Ledger, settlement.Request{
			Caller:      d.caller,
			Destination: destination,
			Movements:   movements,
		})
		if err != nil {
			return err
		}
		d.state.Ledger = res.Ledger
		d.instructions = append(d.instructions, res.Instructions...)

		d.attr("account_id", destination)
		d.emit(domain.EventBalancesMoved, map[string]any{
			"destination": destination,
			"movements":   movements,
		})
		return nil
	})
}

// AddTask records a task hash in the task index. Owner only.
func (c *Contract) AddTask(ctx context.Context, hash string) (*Response, error) {
	return c.execute(ctx, "add_task", func(d *draft) error {
		const op = "Contract.AddTask"
		if d.caller != d.state.Config.OwnerID {
			return domain.WrapOp(op, domain.ErrUnauthorized)
		}
		if hash == "" {
			return domain.NewDomainError(op, domain.ErrInvalidInput, "task hash is empty")
		}
		exists, err := c.deps.Tasks.HasTask(d.ctx, hash)
		if err != nil {
			return err
		}
		if exists {
			return domain.NewDomainError(op, domain.ErrInvalidInput, "task already exists")
		}
		d.tasks = append(d.tasks, domain.TaskChange{Hash: hash, Owner: d.caller})
		if err := d.rollWindow(); err != nil {
			return err
		}

		total, _ := d.totalTasks()
		d.attr("task_hash", hash)
		d.attr("total_tasks", strconv.FormatUint(total, 10))
		d.emit(domain.EventTaskAdded, map[string]any{"task_hash": hash, "total_tasks": total})
		return nil
	})
}

// RemoveTask deletes a task hash from the task index. Owner only.
func (c *Contract) RemoveTask(ctx context.Context, hash string) (*Response, error) {
	return c.execute(ctx, "remove_task", func(d *draft) error {
		const op = "Contract.RemoveTask"
		if d.caller != d.state.Config.OwnerID {
			return domain.WrapOp(op, domain.ErrUnauthorized)
		}
		exists, err := c.deps.Tasks.HasTask(d.ctx, hash)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NewDomainError(op, domain.ErrNotFound, hash)
		}
		d.tasks = append(d.tasks, domain.TaskChange{Hash: hash, Remove: true})
		if err := d.rollWindow(); err != nil {
			return err
		}

		total, _ := d.totalTasks()
		d.attr("task_hash", hash)
		d.attr("total_tasks", strconv.FormatUint(total, 10))
		d.emit(domain.EventTaskRemoved, map[string]any{"task_hash": hash, "total_tasks": total})
		return nil
	})
}
