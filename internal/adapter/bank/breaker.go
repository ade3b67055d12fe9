package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"croncat/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker around host queries.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// BreakerQuerier wraps a BankQuerier so a failing host fails fast instead
// of stalling every settlement call.
type BreakerQuerier struct {
	inner    domain.BankQuerier
	balances *gobreaker.CircuitBreaker[[]domain.Coin]
	tokens   *gobreaker.CircuitBreaker[uint64]
}

// NewBreakerQuerier wraps inner with circuit breakers. Zero config values
// fall back to defaults.
func NewBreakerQuerier(inner domain.BankQuerier, cfg BreakerConfig, logger *slog.Logger) *BreakerQuerier {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultCBMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultCBTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultCBInterval
	}
	return &BreakerQuerier{
		inner:    inner,
		balances: gobreaker.NewCircuitBreaker[[]domain.Coin](settings("bank:balances", cfg, logger)),
		tokens:   gobreaker.NewCircuitBreaker[uint64](settings("bank:tokens", cfg, logger)),
	}
}

func settings(name string, cfg BreakerConfig, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about host health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
}

func (q *BreakerQuerier) AllBalances(ctx context.Context, address string) ([]domain.Coin, error) {
	coins, err := q.balances.Execute(func() ([]domain.Coin, error) {
		return q.inner.AllBalances(ctx, address)
	})
	return coins, wrapBreakerErr(err)
}

func (q *BreakerQuerier) TokenBalance(ctx context.Context, contract, address string) (uint64, error) {
	amount, err := q.tokens.Execute(func() (uint64, error) {
		return q.inner.TokenBalance(ctx, contract, address)
	})
	return amount, wrapBreakerErr(err)
}

// State returns the balance breaker state for monitoring.
func (q *BreakerQuerier) State() gobreaker.State {
	return q.balances.State()
}

func wrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open: %w", domain.ErrHostQuery, err)
	}
	if errors.Is(err, domain.ErrHostQuery) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrHostQuery, err)
}

var _ domain.BankQuerier = (*BreakerQuerier)(nil)
