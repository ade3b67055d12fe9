// Package bank is the host side of fund movements: it answers balance
// queries for accounts and executes committed instruction batches.
package bank

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"croncat/internal/domain"
)

// MemoryBank is an in-process host ledger. Instruction batches apply
// all-or-nothing and a batch ID is executed at most once.
type MemoryBank struct {
	mu       sync.Mutex
	native   map[string]domain.GenericBalance // address -> native coins
	tokens   map[string]map[string]uint64     // token contract -> holder -> amount
	executed map[string]bool
	logger   *slog.Logger
}

// NewMemoryBank creates an empty host ledger.
func NewMemoryBank(logger *slog.Logger) *MemoryBank {
	return &MemoryBank{
		native:   make(map[string]domain.GenericBalance),
		tokens:   make(map[string]map[string]uint64),
		executed: make(map[string]bool),
		logger:   logger,
	}
}

// Deposit credits native coins to an account.
func (b *MemoryBank) Deposit(address string, coins ...domain.Coin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.native[address].Clone()
	if err := bal.AddNative(coins); err != nil {
		return err
	}
	b.native[address] = bal
	return nil
}

// DepositToken credits a token balance to an account.
func (b *MemoryBank) DepositToken(contract, address string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	holders := b.tokens[contract]
	if holders == nil {
		holders = make(map[string]uint64)
		b.tokens[contract] = holders
	}
	bal := domain.GenericBalance{Tokens: []domain.TokenAmount{{Address: contract, Amount: holders[address]}}}
	if err := bal.AddToken(domain.TokenAmount{Address: contract, Amount: amount}); err != nil {
		return err
	}
	holders[address] = bal.TokenBalance(contract)
	return nil
}

func (b *MemoryBank) AllBalances(_ context.Context, address string) ([]domain.Coin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.native[address].Clone().Native, nil
}

func (b *MemoryBank) TokenBalance(_ context.Context, contract, address string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens[contract][address], nil
}

// Execute applies every instruction of the batch sent from the given account.
// Nothing is applied when any instruction fails.
func (b *MemoryBank) Execute(_ context.Context, from, batchID string, instructions []domain.Instruction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if batchID != "" && b.executed[batchID] {
		b.logger.Debug("instruction batch already executed", "batch_id", batchID)
		return nil
	}

	native := make(map[string]domain.GenericBalance)
	nativeOf := func(addr string) domain.GenericBalance {
		if bal, ok := native[addr]; ok {
			return bal
		}
		return b.native[addr].Clone()
	}
	tokens := make(map[string]map[string]uint64)
	tokenOf := func(contract, addr string) uint64 {
		if h, ok := tokens[contract]; ok {
			if v, ok := h[addr]; ok {
				return v
			}
		}
		return b.tokens[contract][addr]
	}
	setToken := func(contract, addr string, v uint64) {
		if tokens[contract] == nil {
			tokens[contract] = make(map[string]uint64)
		}
		tokens[contract][addr] = v
	}

	for i, ins := range instructions {
		switch ins.Kind {
		case domain.InstructionNativeSend:
			src := nativeOf(from)
			if err := src.SubtractNative(ins.Amount); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
			native[from] = src
			dst := nativeOf(ins.ToAddress)
			if err := dst.AddNative(ins.Amount); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
			native[ins.ToAddress] = dst
		case domain.InstructionTokenTransfer:
			have := tokenOf(ins.Contract, from)
			if have < ins.TokenAmount {
				return fmt.Errorf("instruction %d: %w", i, domain.NewDomainError("MemoryBank.Execute", domain.ErrInsufficientFunds, ins.Contract))
			}
			setToken(ins.Contract, from, have-ins.TokenAmount)
			to := tokenOf(ins.Contract, ins.Recipient)
			if to+ins.TokenAmount < to {
				return fmt.Errorf("instruction %d: %w", i, domain.ErrOverflow)
			}
			setToken(ins.Contract, ins.Recipient, to+ins.TokenAmount)
		default:
			return fmt.Errorf("instruction %d: %w: unknown kind %q", i, domain.ErrInvalidInput, ins.Kind)
		}
	}

	for addr, bal := range native {
		b.native[addr] = bal
	}
	for contract, holders := range tokens {
		if b.tokens[contract] == nil {
			b.tokens[contract] = make(map[string]uint64)
		}
		for addr, v := range holders {
			b.tokens[contract][addr] = v
		}
	}
	if batchID != "" {
		b.executed[batchID] = true
	}
	b.logger.Info("instruction batch executed", "batch_id", batchID, "from", from, "count", len(instructions))
	return nil
}

// Compile-time interface checks.
var (
	_ domain.BankQuerier     = (*MemoryBank)(nil)
	_ domain.InstructionSink = (*MemoryBank)(nil)
)
