package contract

import (
	"context"
	"errors"
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

const registry = "registry"

var genesisTime = time.Unix(1_700_000_000, 0).UTC()

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func() { return func() {} }
func (b *recordingBus) Close() {}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

type harness struct {
	c     *Contract
	store *store.MemoryStore
	bank  *bank.MemoryBank
	bus   *recordingBus
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	bk := bank.NewMemoryBank(newTestLogger())
	bus := &recordingBus{}
	c := New(ContractDeps{
		Store:   st,
		Tasks:   st,
		Bank:    bk,
		Sink:    bk,
		Bus:     bus,
		Address: registry,
		Logger:  newTestLogger(),
	})
	return &harness{c: c, store: st, bank: bk, bus: bus}
}

func as(caller string, at time.Time) context.Context {
	ctx := domain.ContextWithCaller(context.Background(), caller)
	return domain.ContextWithBlockTime(ctx, at)
}

func testGenesis() Genesis {
	return Genesis{
		Config: domain.Config{
			MinTasksPerAgent:        1,
			AgentsEjectThreshold:    600,
			AgentNominationDuration: 360,
			NativeDenom:             "atom",
			AgentFee:                domain.Coin{Denom: "atom", Amount: 5},
			GasPrice:                1,
			ProxyCallbackGas:        3,
			SlotGranularity:         60_000_000_000,
		},
		Available: domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 1000}}},
	}
}

func (h *harness) instantiate(t *testing.T) {
	t.Helper()
	_, err := h.c.Instantiate(as("owner", genesisTime), testGenesis())
	require.NoError(t, err)
	require.NoError(t, h.bank.Deposit(registry, domain.Coin{Denom: "atom", Amount: 5000}))
	h.bus.reset()
}

func (h *harness) snapshot(t *testing.T) *domain.State {
	t.Helper()
	s, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return s
}

func TestInstantiate(t *testing.T) {
	h := newHarness(t)
	resp, err := h.c.Instantiate(as("creator", genesisTime), testGenesis())
	require.NoError(t, err)
	assert.Equal(t, "instantiate", resp.Method)
	assert.Equal(t, []domain.EventType{domain.EventContractInstantiated}, h.bus.types())

	cfg, err := h.c.GetConfig(as("anyone", genesisTime))
	require.NoError(t, err)
	assert.Equal(t, "creator", cfg.OwnerID)
	assert.Nil(t, cfg.AgentNominationBeginTime)

	bal, err := h.c.GetBalances(as("anyone", genesisTime))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), bal.AvailableBalance.NativeAmount("atom"))
	assert.Equal(t, "atom", bal.NativeDenom)

	_, err = h.c.Instantiate(as("creator", genesisTime), testGenesis())
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestInstantiateRejectsZeroCapacity(t *testing.T) {
	h := newHarness(t)
	g := testGenesis()
	g.Config.MinTasksPerAgent = 0
	_, err := h.c.Instantiate(as("owner", genesisTime), g)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = h.store.Load(context.Background())
	require.ErrorIs(t, err, domain.ErrGenesisMissing)
}

func TestCallsBeforeGenesis(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.RegisterAgent(as("agent", genesisTime), "")
	require.ErrorIs(t, err, domain.ErrGenesisMissing)
	_, err = h.c.GetConfig(as("agent", genesisTime))
	require.ErrorIs(t, err, domain.ErrGenesisMissing)
}

func TestUpdateSettingsPausedOnly(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	before := h.snapshot(t)

	paused := true
	resp, err := h.c.UpdateSettings(as("owner", genesisTime), domain.SettingsPatch{Paused: &paused})
	require.NoError(t, err)
	assert.Contains(t, resp.Attributes, domain.Attribute{Key: "paused", Value: "true"})

	after := h.snapshot(t)
	want := before.Config
	want.Paused = true
	assert.Equal(t, want, after.Config)
}

func TestUpdateSettingsNonOwner(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	before := h.snapshot(t)

	paused := true
	_, err := h.c.UpdateSettings(as("michael", genesisTime), domain.SettingsPatch{Paused: &paused})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, before, h.snapshot(t))
	assert.Empty(t, h.bus.types(), "rejected calls emit nothing")
}

func TestUpdateSettingsZeroCapacity(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	zero := uint64(0)
	_, err := h.c.UpdateSettings(as("owner", genesisTime), domain.SettingsPatch{MinTasksPerAgent: &zero})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Equal(t, uint64(1), h.snapshot(t).Config.MinTasksPerAgent)
}

func TestMoveBalances(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)

	resp, err := h.c.MoveBalances(as("owner", genesisTime), "owner", []domain.Movement{
		{Native: []domain.Coin{{Denom: "atom", Amount: 400}}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Instructions, 1)
	assert.NotEmpty(t, resp.BatchID)

	assert.Equal(t, uint64(600), h.snapshot(t).Ledger.Available.NativeAmount("atom"))
	owner, _ := h.bank.AllBalances(context.Background(), "owner")
	assert.Equal(t, []domain.Coin{{Denom: "atom", Amount: 400}}, owner)
	assert.Equal(t, []domain.EventType{domain.EventBalancesMoved, domain.EventInstructionsExecuted}, h.bus.types())
}

func TestMoveBalancesBeyondLedgerWithinChain(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	before := h.snapshot(t)

	// The host holds 5000 but the ledger only 1000.
	_, err := h.c.MoveBalances(as("owner", genesisTime), "owner", []domain.Movement{
		{Native: []domain.Coin{{Denom: "atom", Amount: 1500}}},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, before, h.snapshot(t))

	owner, _ := h.bank.AllBalances(context.Background(), "owner")
	assert.Empty(t, owner, "no instruction reached the host")
}

func TestMoveBalancesAtomicBatch(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	before := h.snapshot(t)

	_, err := h.c.MoveBalances(as("owner", genesisTime), "owner", []domain.Movement{
		{Native: []domain.Coin{{Denom: "atom", Amount: 100}}},
		{Token: &domain.TokenAmount{Address: "cw20", Amount: 1}},
		{Native: []domain.Coin{{Denom: "atom", Amount: 100}}},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, before, h.snapshot(t))
}

func TestMoveBalancesPolicy(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)

	_, err := h.c.MoveBalances(as("michael", genesisTime), "michael", []domain.Movement{
		{Native: []domain.Coin{{Denom: "atom", Amount: 1}}},
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.c.MoveBalances(as("owner", genesisTime), "michael", []domain.Movement{
		{Native: []domain.Coin{{Denom: "atom", Amount: 1}}},
	})
	require.ErrorIs(t, err, domain.ErrPolicyViolation)
}

func TestRegisterAgent(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	ctx := as("a0", genesisTime)

	resp, err := h.c.RegisterAgent(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, resp.Attributes, domain.Attribute{Key: "agent_status", Value: "active"})

	_, err = h.c.RegisterAgent(ctx, "")
	require.ErrorIs(t, err, domain.ErrAgentExists)

	resp, err = h.c.RegisterAgent(as("p0", genesisTime), "payout")
	require.NoError(t, err)
	assert.Contains(t, resp.Attributes, domain.Attribute{Key: "agent_status", Value: "pending"})

	ids, err := h.c.GetAgentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a0"}, ids.Active)
	assert.Equal(t, []string{"p0"}, ids.Pending)

	agent, err := h.c.GetAgent(ctx, "p0")
	require.NoError(t, err)
	assert.Equal(t, "payout", agent.PayableAccountID)
	assert.Equal(t, domain.AgentPending, agent.Status)

	_, err = h.c.GetAgent(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterAgentPaused(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	paused := true
	_, err := h.c.UpdateSettings(as("owner", genesisTime), domain.SettingsPatch{Paused: &paused})
	require.NoError(t, err)

	_, err = h.c.RegisterAgent(as("a0", genesisTime), "")
	require.ErrorIs(t, err, domain.ErrPaused)
}

func TestUpdateAgent(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	ctx := as("a0", genesisTime)

	_, err := h.c.UpdateAgent(ctx, "new-payout")
	require.ErrorIs(t, err, domain.ErrAgentUnregistered)

	_, err = h.c.RegisterAgent(ctx, "")
	require.NoError(t, err)
	_, err = h.c.UpdateAgent(ctx, "new-payout")
	require.NoError(t, err)
	assert.Equal(t, "new-payout", h.snapshot(t).Agents["a0"].PayableAccountID)
}

// setupRotation registers one active and three pending agents and adds two
// tasks so one slot opens.
func setupRotation(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.instantiate(t)
	for _, id := range []string{"a0", "p0", "p1", "p2"} {
		_, err := h.c.RegisterAgent(as(id, genesisTime), "")
		require.NoError(t, err)
	}
	for _, hash := range []string{"t1", "t2"} {
		_, err := h.c.AddTask(as("owner", genesisTime), hash)
		require.NoError(t, err)
	}
	return h
}

func TestWindowOpensWithBacklog(t *testing.T) {
	h := setupRotation(t)

	cfg, err := h.c.GetConfig(as("any", genesisTime))
	require.NoError(t, err)
	require.NotNil(t, cfg.AgentNominationBeginTime)
	assert.True(t, genesisTime.Equal(*cfg.AgentNominationBeginTime))
	assert.Contains(t, h.bus.types(), domain.EventNominationOpened)

	st, err := h.c.GetAgentStatus(as("any", genesisTime), "p0")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentNominated, st.Status)
	st, err = h.c.GetAgentStatus(as("any", genesisTime), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentPending, st.Status)
}

func TestCheckInRequiresNomination(t *testing.T) {
	h := setupRotation(t)
	before := h.snapshot(t)

	_, err := h.c.CheckInAgent(as("p1", genesisTime))
	require.ErrorIs(t, err, domain.ErrNotNominated)
	assert.Equal(t, before, h.snapshot(t))

	_, err = h.c.CheckInAgent(as("a0", genesisTime))
	require.ErrorIs(t, err, domain.ErrNotNominated)

	_, err = h.c.CheckInAgent(as("ghost", genesisTime))
	require.ErrorIs(t, err, domain.ErrAgentUnregistered)
}

func TestCheckInPromotes(t *testing.T) {
	h := setupRotation(t)

	_, err := h.c.CheckInAgent(as("p0", genesisTime.Add(10*time.Second)))
	require.NoError(t, err)

	ids, err := h.c.GetAgentIDs(as("any", genesisTime))
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "p0"}, ids.Active)
	assert.Equal(t, []string{"p1", "p2"}, ids.Pending)

	// Two tasks, two active agents: no backlog, window closes.
	cfg, err := h.c.GetConfig(as("any", genesisTime))
	require.NoError(t, err)
	assert.Nil(t, cfg.AgentNominationBeginTime)
}

func TestCheckInSkipsLateAgents(t *testing.T) {
	h := setupRotation(t)

	// After two full windows p1 is nominated too; p0 never checked in.
	resp, err := h.c.CheckInAgent(as("p1", genesisTime.Add(720*time.Second)))
	require.NoError(t, err)
	assert.Contains(t, resp.Attributes, domain.Attribute{Key: "skipped_agents", Value: "1"})

	ids, err := h.c.GetAgentIDs(as("any", genesisTime))
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "p1"}, ids.Active)
	assert.Equal(t, []string{"p2"}, ids.Pending)

	_, err = h.c.GetAgent(as("any", genesisTime), "p0")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, h.bus.types(), domain.EventAgentSkipped)
}

func TestUnregisterAgentPaysReward(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	_, err := h.c.RegisterAgent(as("a0", genesisTime), "payout")
	require.NoError(t, err)

	// Credit a reward directly in committed state.
	s := h.snapshot(t)
	a := s.Agents["a0"]
	a.Balance = domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 25}}}
	s.Agents["a0"] = a
	require.NoError(t, h.store.Commit(context.Background(), s))

	resp, err := h.c.UnregisterAgent(as("a0", genesisTime))
	require.NoError(t, err)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, "payout", resp.Instructions[0].ToAddress)

	after := h.snapshot(t)
	assert.NotContains(t, after.Agents, "a0")
	assert.Empty(t, after.Registry.Active)
	assert.Equal(t, uint64(975), after.Ledger.Available.NativeAmount("atom"))
	paid, _ := h.bank.AllBalances(context.Background(), "payout")
	assert.Equal(t, []domain.Coin{{Denom: "atom", Amount: 25}}, paid)

	_, err = h.c.UnregisterAgent(as("a0", genesisTime))
	require.ErrorIs(t, err, domain.ErrAgentUnregistered)
}

func TestWithdrawReward(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	_, err := h.c.RegisterAgent(as("a0", genesisTime), "")
	require.NoError(t, err)

	resp, err := h.c.WithdrawReward(as("a0", genesisTime))
	require.NoError(t, err)
	assert.Empty(t, resp.Instructions, "empty balance pays nothing")

	s := h.snapshot(t)
	a := s.Agents["a0"]
	a.Balance = domain.GenericBalance{Native: []domain.Coin{{Denom: "atom", Amount: 2000}}}
	s.Agents["a0"] = a
	require.NoError(t, h.store.Commit(context.Background(), s))

	_, err = h.c.WithdrawReward(as("a0", genesisTime))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds, "reward exceeds the available bucket")
	assert.Equal(t, uint64(2000), h.snapshot(t).Agents["a0"].Balance.NativeAmount("atom"))
}

func TestTaskCommands(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)

	_, err := h.c.AddTask(as("michael", genesisTime), "t1")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.c.AddTask(as("owner", genesisTime), "t1")
	require.NoError(t, err)
	_, err = h.c.AddTask(as("owner", genesisTime), "t1")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.c.RemoveTask(as("owner", genesisTime), "t9")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.c.RemoveTask(as("owner", genesisTime), "t1")
	require.NoError(t, err)

	total, err := h.store.Total(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetAgentTasks(t *testing.T) {
	h := newHarness(t)
	h.instantiate(t)
	for _, id := range []string{"a0", "a1", "p0"} {
		_, err := h.c.RegisterAgent(as(id, genesisTime), "")
		require.NoError(t, err)
	}
	// Promote a1 directly so two agents are active.
	s := h.snapshot(t)
	s.Registry.Active = []string{"a0", "a1"}
	s.Registry.Pending = []string{"p0"}
	require.NoError(t, h.store.Commit(context.Background(), s,
		domain.TaskChange{Hash: "t1"}, domain.TaskChange{Hash: "t2"}, domain.TaskChange{Hash: "t3"},
		domain.TaskChange{Hash: "t4"}, domain.TaskChange{Hash: "t5"},
	))

	ctx := as("any", genesisTime)
	n, err := h.c.GetAgentTasks(ctx, "a0")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	n, err = h.c.GetAgentTasks(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	n, err = h.c.GetAgentTasks(ctx, "p0")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = h.c.GetAgentTasks(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTasksForPosition(t *testing.T) {
	assert.Equal(t, uint64(0), TasksForPosition(10, 0, 0))
	assert.Equal(t, uint64(4), TasksForPosition(10, 3, 0))
	assert.Equal(t, uint64(3), TasksForPosition(10, 3, 1))
	assert.Equal(t, uint64(3), TasksForPosition(10, 3, 2))
	assert.Equal(t, uint64(0), TasksForPosition(10, 3, 3))
}

type failingStore struct {
	*store.MemoryStore
	fail bool
}

func (f *failingStore) Commit(ctx context.Context, s *domain.State, tasks ...domain.TaskChange) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.Commit(ctx, s, tasks...)
}

func TestCommitFailureEmitsNothing(t *testing.T) {
	mem := store.NewMemoryStore()
	fs := &failingStore{MemoryStore: mem}
	bk := bank.NewMemoryBank(newTestLogger())
	require.NoError(t, bk.Deposit(registry, domain.Coin{Denom: "atom", Amount: 5000}))
	bus := &recordingBus{}
	c := New(ContractDeps{Store: fs, Tasks: mem, Bank: bk, Sink: bk, Bus: bus, Address: registry, Logger: newTestLogger()})

	_, err := c.Instantiate(as("owner", genesisTime), testGenesis())
	require.NoError(t, err)
	bus.reset()

	fs.fail = true
	_, err = c.MoveBalances(as("owner", genesisTime), "owner", []domain.Movement{
		{Native: []domain.Coin{{Denom: "atom", Amount: 10}}},
	})
	require.ErrorIs(t, err, domain.ErrStore)
	assert.Empty(t, bus.types())
	owner, _ := bk.AllBalances(context.Background(), "owner")
	assert.Empty(t, owner)
}

func TestMoveBalancesHostBalanceShort(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.Instantiate(as("owner", genesisTime), testGenesis())
	require.NoError(t, err)
	// The ledger holds 1000 but the host only 100.
	require.NoError(t, h.bank.Deposit(registry, domain.Coin{Denom: "atom", Amount: 100}))
	h.bus.reset()

	_, err = h.c.MoveBalances(as("owner", genesisTime), "owner", []domain.Movement{
		{Native: []domain.Coin{{Denom: "atom", Amount: 200}}},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, h.bus.types())
	assert.Equal(t, uint64(1000), h.snapshot(t).Ledger.Available.NativeAmount("atom"))
}

func TestGetSummary(t *testing.T) {
	h := setupRotation(t)

	sum, err := h.c.GetSummary(as("any", genesisTime))
	require.NoError(t, err)
	assert.Equal(t, registry, sum.Address)
	assert.Equal(t, 1, sum.ActiveAgents)
	assert.Equal(t, 3, sum.PendingAgents)
	assert.True(t, sum.NominationOpen)
	assert.Equal(t, uint64(2), sum.TotalTasks)
	assert.False(t, sum.Paused)
}
