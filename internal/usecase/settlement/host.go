package settlement

import (
	"context"
	"errors"
	"fmt"

	"croncat/internal/domain"
)

// hostView caches the contract's host balances for one batch and tracks what
// earlier movements in the batch already claimed.
type hostView struct {
	bank     domain.BankQuerier
	contract string
	loaded   bool
	tokens   map[string]bool
	balance  domain.GenericBalance
}

func newHostView(bank domain.BankQuerier, contract string) *hostView {
	return &hostView{bank: bank, contract: contract, tokens: make(map[string]bool)}
}

func (h *hostView) consumeNative(ctx context.Context, coins []domain.Coin) error {
	if !h.loaded {
		all, err := h.bank.AllBalances(ctx, h.contract)
		if err != nil {
			return hostError(err)
		}
		h.balance.Native = append([]domain.Coin(nil), all...)
		h.loaded = true
	}
	if err := h.balance.SubtractNative(coins); err != nil {
		return fmt.Errorf("host balance: %w", err)
	}
	return nil
}

func (h *hostView) consumeToken(ctx context.Context, tok domain.TokenAmount) error {
	if !h.tokens[tok.Address] {
		amount, err := h.bank.TokenBalance(ctx, tok.Address, h.contract)
		if err != nil {
			return hostError(err)
		}
		if err := h.balance.AddToken(domain.TokenAmount{Address: tok.Address, Amount: amount}); err != nil {
			return err
		}
		h.tokens[tok.Address] = true
	}
	if err := h.balance.SubtractToken(tok); err != nil {
		return fmt.Errorf("host balance: %w", err)
	}
	return nil
}

func hostError(err error) error {
	if errors.Is(err, domain.ErrHostQuery) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrHostQuery, err)
}

func validateMovement(m domain.Movement) error {
	switch {
	case m.Token != nil && len(m.Native) > 0:
		return errors.New("native and token set in one movement")
	case m.Token != nil:
		if m.Token.Address == "" {
			return errors.New("token address is empty")
		}
		if m.Token.Amount == 0 {
			return errors.New("token amount is zero")
		}
	case len(m.Native) == 0:
		return errors.New("movement is empty")
	default:
		seen := make(map[string]bool, len(m.Native))
		for _, c := range m.Native {
			if c.Denom == "" || c.Amount == 0 {
				return fmt.Errorf("invalid coin %q", c.String())
			}
			if seen[c.Denom] {
				return fmt.Errorf("duplicate denom %q", c.Denom)
			}
			seen[c.Denom] = true
		}
	}
	return nil
}

func movementDetail(i int, err error) string {
	return fmt.Sprintf("movement %d: %v", i, err)
}

func wrapMovement(op string, i int, err error) error {
	return &domain.DomainError{Op: op, Err: err, Detail: fmt.Sprintf("movement %d", i)}
}
