package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"croncat/internal/adapter/bank"
	"croncat/internal/adapter/store"
	"croncat/internal/domain"
	"croncat/internal/infra/config"
	"croncat/internal/usecase/contract"
	"croncat/internal/usecase/eventbus"
	"croncat/internal/usecase/reconcile"
)

// stateStore is what the contract needs from a store driver.
type stateStore interface {
	domain.StateStore
	domain.TaskIndex
}

// app holds the wired registry components shared by run and init.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	store      stateStore
	bank       *bank.MemoryBank
	breaker    *bank.BreakerQuerier
	bus        *eventbus.Bus
	contract   *contract.Contract
	reconciler *reconcile.Reconciler
	closers    []func() error
}

// buildApp wires the store, host bank, event bus, contract and reconciler.
// The returned app must be closed by the caller.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	st, closer, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	a.store = st
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	a.bank = bank.NewMemoryBank(log.With("component", "bank"))
	if err := seedHost(a.bank, cfg.Host); err != nil {
		a.Close()
		return nil, fmt.Errorf("host: %w", err)
	}
	a.breaker = bank.NewBreakerQuerier(a.bank, bank.BreakerConfig{
		MaxFailures: cfg.Host.Breaker.MaxFailures,
		Timeout:     cfg.Host.Breaker.Timeout,
		Interval:    cfg.Host.Breaker.Interval,
	}, log)

	a.bus = eventbus.NewWithHistory(log.With("component", "eventbus"), cfg.Gateway.HistorySize)
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	a.contract = contract.New(contract.ContractDeps{
		Store:   st,
		Tasks:   st,
		Bank:    a.breaker,
		Sink:    a.bank,
		Bus:     a.bus,
		Clock:   domain.SystemClock,
		Address: cfg.Host.ContractAddress,
		Logger:  log.With("component", "contract"),
	})
	a.reconciler = reconcile.New(reconcile.ReconcilerDeps{
		Store:   st,
		Bank:    a.breaker,
		Bus:     a.bus,
		Clock:   domain.SystemClock,
		Address: cfg.Host.ContractAddress,
		Logger:  log.With("component", "reconcile"),
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func openStore(cfg config.StoreConfig) (stateStore, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil, nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// seedHost credits the configured chain balances to the in-memory bank.
func seedHost(b *bank.MemoryBank, cfg config.HostConfig) error {
	for _, acct := range cfg.Accounts {
		for _, c := range acct.Native {
			if err := b.Deposit(acct.Address, domain.Coin{Denom: c.Denom, Amount: c.Amount}); err != nil {
				return fmt.Errorf("seed %s: %w", acct.Address, err)
			}
		}
		for _, t := range acct.Tokens {
			if err := b.DepositToken(t.Address, acct.Address, t.Amount); err != nil {
				return fmt.Errorf("seed %s: %w", acct.Address, err)
			}
		}
	}
	return nil
}

// genesisFromConfig maps the genesis section onto contract parameters.
func genesisFromConfig(g config.GenesisConfig) contract.Genesis {
	return contract.Genesis{
		Config: domain.Config{
			OwnerID:                 g.Owner,
			TreasuryID:              g.Treasury,
			MinTasksPerAgent:        g.MinTasksPerAgent,
			AgentsEjectThreshold:    g.AgentsEjectThreshold,
			AgentNominationDuration: g.AgentNominationDuration,
			NativeDenom:             g.NativeDenom,
			AgentFee:                domain.Coin{Denom: g.NativeDenom, Amount: g.AgentFee},
			GasPrice:                g.GasPrice,
			ProxyCallbackGas:        g.ProxyCallbackGas,
			SlotGranularity:         g.SlotGranularity,
			TokenWhitelist:          append([]string(nil), g.TokenWhitelist...),
		},
		Available: fundsToBalance(g.Available),
		Staked:    fundsToBalance(g.Staked),
	}
}

func fundsToBalance(f config.FundsConfig) domain.GenericBalance {
	var bal domain.GenericBalance
	for _, c := range f.Native {
		bal.Native = append(bal.Native, domain.Coin{Denom: c.Denom, Amount: c.Amount})
	}
	for _, t := range f.Tokens {
		bal.Tokens = append(bal.Tokens, domain.TokenAmount{Address: t.Address, Amount: t.Amount})
	}
	return bal
}

// instantiate creates the registry as the genesis owner.
func (a *app) instantiate(ctx context.Context) (*contract.Response, error) {
	ctx = domain.ContextWithCaller(ctx, a.cfg.Genesis.Owner)
	return a.contract.Instantiate(ctx, genesisFromConfig(a.cfg.Genesis))
}
