package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"croncat/internal/adapter/bank"
	"croncat/internal/adapter/store"
	"croncat/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *captureBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *captureBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *captureBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *captureBus) Close()                                                 {}

func setup(t *testing.T) (*store.MemoryStore, *bank.MemoryBank, *captureBus, *Reconciler) {
	t.Helper()
	st := store.NewMemoryStore()
	b := bank.NewMemoryBank(newTestLogger())
	bus := &captureBus{}
	r := New(ReconcilerDeps{
		Store:   st,
		Bank:    b,
		Bus:     bus,
		Clock:   domain.ClockFunc(func() time.Time { return time.Unix(1_700_000_000, 0) }),
		Address: "registry",
		Logger:  newTestLogger(),
	})
	return st, b, bus, r
}

func commitLedger(t *testing.T, st *store.MemoryStore, ledger domain.Ledger, whitelist ...string) {
	t.Helper()
	require.NoError(t, st.Commit(context.Background(), &domain.State{
		Config: domain.Config{
			OwnerID:                 "owner",
			MinTasksPerAgent:        1,
			AgentNominationDuration: 360,
			NativeDenom:             "atom",
			TokenWhitelist:          whitelist,
		},
		Ledger: ledger,
		Agents: map[string]domain.Agent{},
	}))
}

func TestRunBeforeGenesis(t *testing.T) {
	_, _, bus, r := setup(t)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Zero(t, report.Checked)
	assert.Empty(t, bus.events)
}

func TestRunCovered(t *testing.T) {
	st, b, bus, r := setup(t)
	commitLedger(t, st, domain.Ledger{
		Available: domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 60}}},
		Staked:    domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 40}}},
	})
	require.NoError(t, b.Deposit("registry", domain.Coin{Denom: "atom", Amount: 150}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK(), "surplus on the host is not drift")
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, bus.events)
}

func TestRunNativeShortfall(t *testing.T) {
	st, b, bus, r := setup(t)
	commitLedger(t, st, domain.Ledger{
		Available: domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 60}}},
		Staked:    domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 40}}},
	})
	require.NoError(t, b.Deposit("registry", domain.Coin{Denom: "atom", Amount: 90}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, Drift{Kind: AssetNative, Asset: "atom", Ledger: 100, Host: 90}, report.Drifts[0])

	require.Len(t, bus.events, 1)
	assert.Equal(t, domain.EventLedgerDrift, bus.events[0].Type)
	var published Report
	require.NoError(t, json.Unmarshal(bus.events[0].Payload, &published))
	assert.Equal(t, report.Drifts, published.Drifts)
}

func TestRunTokenShortfall(t *testing.T) {
	st, b, _, r := setup(t)
	commitLedger(t, st, domain.Ledger{
		Available: domain.GenericBalance{Tokens: []domain.TokenAmount{{Address: "cw20", Amount: 10}}},
	}, "cw20", "other")
	require.NoError(t, b.DepositToken("cw20", "registry", 3))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	// atom plus both whitelisted tokens
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, Drift{Kind: AssetToken, Asset: "cw20", Ledger: 10, Host: 3}, report.Drifts[0])
}

type failingBank struct{}

func (failingBank) AllBalances(context.Context, string) ([]domain.Coin, error) {
	return nil, domain.ErrHostQuery
}
func (failingBank) TokenBalance(context.Context, string, string) (uint64, error) {
	return 0, domain.ErrHostQuery
}

func TestRunHostError(t *testing.T) {
	st := store.NewMemoryStore()
	commitLedger(t, st, domain.Ledger{})
	r := New(ReconcilerDeps{Store: st, Bank: failingBank{}, Address: "registry", Logger: newTestLogger()})

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrHostQuery)
}

func TestRecordedSaturates(t *testing.T) {
	l := domain.Ledger{
		Available: domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: ^uint64(0)}}},
		Staked:    domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 1}}},
	}
	got := recorded(l, func(b domain.GenericBalance) uint64 { return b.NativeAmount("atom") })
	assert.Equal(t, ^uint64(0), got)
}
