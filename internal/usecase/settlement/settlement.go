// Package settlement turns requested balance movements into validated
// outbound instructions. Every movement is checked against the host balance
// and the internal ledger before any of them is accepted; the first failure
// rejects the whole batch.
package settlement

import (
	"context"

	"croncat/internal/domain"
)

// Request is a batch of movements out of the registry account.
type Request struct {
	Caller      string
	Destination string
	Movements   []domain.Movement
}

// Result is a fully validated batch. Ledger is the draft ledger with every
// movement already deducted; the input ledger is never modified.
type Result struct {
	Instructions []domain.Instruction
	Ledger       domain.Ledger
}

// Builder validates movements against fresh host balances.
type Builder struct {
	bank     domain.BankQuerier
	contract string
}

// NewBuilder creates a builder that checks balances held by the contract
// account on the host.
func NewBuilder(bank domain.BankQuerier, contract string) *Builder {
	return &Builder{bank: bank, contract: contract}
}

// BuildTransfers checks authority, destination policy, the host balance and
// the ledger's available bucket for each movement in order. Host balances
// are consumed cumulatively across the batch just like the ledger.
func (b *Builder) BuildTransfers(ctx context.Context, cfg domain.Config, ledger domain.Ledger, req Request) (Result, error) {
	const op = "settlement.BuildTransfers"

	if !cfg.IsMover(req.Caller) {
		return Result{}, domain.WrapOp(op, domain.ErrUnauthorized)
	}
	if !cfg.IsMover(req.Destination) {
		return Result{}, domain.NewDomainError(op, domain.ErrPolicyViolation, "cannot move funds to this account")
	}

	draft := ledger.Clone()
	chain := newHostView(b.bank, b.contract)
	instructions := make([]domain.Instruction, 0, len(req.Movements))

	for i, m := range req.Movements {
		if err := validateMovement(m); err != nil {
			return Result{}, domain.NewDomainError(op, domain.ErrInvalidInput, movementDetail(i, err))
		}
		if m.IsNative() {
			if err := chain.consumeNative(ctx, m.Native); err != nil {
				return Result{}, wrapMovement(op, i, err)
			}
			if err := draft.Available.SubtractNative(m.Native); err != nil {
				return Result{}, wrapMovement(op, i, err)
			}
			instructions = append(instructions, domain.NativeSend(req.Destination, m.Native))
			continue
		}

		tok := *m.Token
		if err := chain.consumeToken(ctx, tok); err != nil {
			return Result{}, wrapMovement(op, i, err)
		}
		if err := draft.Available.SubtractToken(tok); err != nil {
			return Result{}, wrapMovement(op, i, err)
		}
		instructions = append(instructions, domain.TokenTransfer(tok.Address, req.Destination, tok.Amount))
	}

	return Result{Instructions: instructions, Ledger: draft}, nil
}

// Payout is a reward payment to an agent.
type Payout struct {
	Instructions []domain.Instruction
	Ledger       domain.Ledger
	Agent        domain.Agent
	Paid         domain.GenericBalance
}

// BuildPayout sends the agent's whole reward balance to its payable account
// and deducts the same amounts from the available bucket. Zero entries are
// skipped; an empty balance yields no instructions.
func BuildPayout(ledger domain.Ledger, agent domain.Agent) (Payout, error) {
	const op = "settlement.BuildPayout"

	draft := ledger.Clone()
	paid := domain.GenericBalance{}
	for _, c := range agent.Balance.Native {
		if c.Amount > 0 {
			paid.Native = append(paid.Native, c)
		}
	}
	for _, t := range agent.Balance.Tokens {
		if t.Amount > 0 {
			paid.Tokens = append(paid.Tokens, t)
		}
	}

	var instructions []domain.Instruction
	if len(paid.Native) > 0 {
		if err := draft.Available.SubtractNative(paid.Native); err != nil {
			return Payout{}, domain.WrapOp(op, err)
		}
		instructions = append(instructions, domain.NativeSend(agent.PayableAccountID, paid.Native))
	}
	for _, t := range paid.Tokens {
		if err := draft.Available.SubtractToken(t); err != nil {
			return Payout{}, domain.WrapOp(op, err)
		}
		instructions = append(instructions, domain.TokenTransfer(t.Address, agent.PayableAccountID, t.Amount))
	}

	settled := agent.Clone()
	settled.Balance = domain.GenericBalance{}
	return Payout{Instructions: instructions, Ledger: draft, Agent: settled, Paid: paid}, nil
}
