package bank

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"croncat/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func atom(n uint64) []domain.Coin { return []domain.Coin{{Denom: "atom", Amount: n}} }

func TestMemoryBankExecute(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBank(newTestLogger())
	require.NoError(t, b.Deposit("registry", atom(100)...))
	require.NoError(t, b.DepositToken("cw20", "registry", 50))

	err := b.Execute(ctx, "registry", "batch-1", []domain.Instruction{
		domain.NativeSend("owner", atom(30)),
		domain.TokenTransfer("cw20", "owner", 20),
	})
	require.NoError(t, err)

	reg, _ := b.AllBalances(ctx, "registry")
	assert.Equal(t, atom(70), reg)
	owner, _ := b.AllBalances(ctx, "owner")
	assert.Equal(t, atom(30), owner)
	tok, _ := b.TokenBalance(ctx, "cw20", "owner")
	assert.Equal(t, uint64(20), tok)
}

func TestMemoryBankBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBank(newTestLogger())
	require.NoError(t, b.Deposit("registry", atom(100)...))

	err := b.Execute(ctx, "registry", "batch-1", []domain.Instruction{
		domain.NativeSend("owner", atom(60)),
		domain.NativeSend("owner", atom(60)),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	reg, _ := b.AllBalances(ctx, "registry")
	assert.Equal(t, atom(100), reg)
	owner, _ := b.AllBalances(ctx, "owner")
	assert.Empty(t, owner)
}

func TestMemoryBankBatchRunsOnce(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBank(newTestLogger())
	require.NoError(t, b.Deposit("registry", atom(100)...))

	batch := []domain.Instruction{domain.NativeSend("owner", atom(10))}
	require.NoError(t, b.Execute(ctx, "registry", "batch-1", batch))
	require.NoError(t, b.Execute(ctx, "registry", "batch-1", batch))

	owner, _ := b.AllBalances(ctx, "owner")
	assert.Equal(t, atom(10), owner)
}

func TestMemoryBankUnknownInstruction(t *testing.T) {
	b := NewMemoryBank(newTestLogger())
	err := b.Execute(context.Background(), "registry", "", []domain.Instruction{{Kind: "burn"}})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

type flakyQuerier struct {
	calls int
	fail  bool
}

func (f *flakyQuerier) AllBalances(context.Context, string) ([]domain.Coin, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("rpc unavailable")
	}
	return atom(5), nil
}

func (f *flakyQuerier) TokenBalance(context.Context, string, string) (uint64, error) {
	f.calls++
	if f.fail {
		return 0, errors.New("rpc unavailable")
	}
	return 7, nil
}

func TestBreakerPassesThrough(t *testing.T) {
	q := NewBreakerQuerier(&flakyQuerier{}, BreakerConfig{}, newTestLogger())
	coins, err := q.AllBalances(context.Background(), "registry")
	require.NoError(t, err)
	assert.Equal(t, atom(5), coins)

	amount, err := q.TokenBalance(context.Background(), "cw20", "registry")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), amount)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &flakyQuerier{fail: true}
	q := NewBreakerQuerier(inner, BreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second, Interval: time.Minute}, newTestLogger())

	for i := 0; i < 3; i++ {
		_, err := q.AllBalances(context.Background(), "registry")
		require.ErrorIs(t, err, domain.ErrHostQuery)
	}
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, gobreaker.StateOpen, q.State())

	_, err := q.AllBalances(context.Background(), "registry")
	require.ErrorIs(t, err, domain.ErrHostQuery)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 3, inner.calls, "host should not be called when circuit is open")
}

func TestBreakerRecovers(t *testing.T) {
	inner := &flakyQuerier{fail: true}
	q := NewBreakerQuerier(inner, BreakerConfig{MaxFailures: 1, Timeout: 50 * time.Millisecond, Interval: time.Minute}, newTestLogger())

	_, err := q.AllBalances(context.Background(), "registry")
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, q.State())

	inner.fail = false
	time.Sleep(100 * time.Millisecond)

	_, err = q.AllBalances(context.Background(), "registry")
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, q.State())
}
