package domain

import (
	"math/bits"
	"strconv"
)

// Coin is an amount of a native denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

func (c Coin) String() string { return strconv.FormatUint(c.Amount, 10) + c.Denom }

// TokenAmount is an amount held on a fungible-token contract.
type TokenAmount struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// GenericBalance holds native coins and token balances side by side.
// Entries are never negative and are kept (not pruned) when they reach zero.
type GenericBalance struct {
	Native []Coin        `json:"native"`
	Tokens []TokenAmount `json:"tokens"`
}

// Clone returns a deep copy so drafts never alias committed state.
func (b GenericBalance) Clone() GenericBalance {
	out := GenericBalance{}
	if b.Native != nil {
		out.Native = append([]Coin(nil), b.Native...)
	}
	if b.Tokens != nil {
		out.Tokens = append([]TokenAmount(nil), b.Tokens...)
	}
	return out
}

// IsEmpty reports whether every entry is zero.
func (b GenericBalance) IsEmpty() bool {
	for _, c := range b.Native {
		if c.Amount > 0 {
			return false
		}
	}
	for _, t := range b.Tokens {
		if t.Amount > 0 {
			return false
		}
	}
	return true
}

// NativeAmount returns the amount held in denom, zero if absent.
func (b GenericBalance) NativeAmount(denom string) uint64 {
	for _, c := range b.Native {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return 0
}

// TokenBalance returns the amount held on the token contract, zero if absent.
func (b GenericBalance) TokenBalance(address string) uint64 {
	for _, t := range b.Tokens {
		if t.Address == address {
			return t.Amount
		}
	}
	return 0
}

// AddNative merges coins into the balance. On overflow nothing is applied.
func (b *GenericBalance) AddNative(coins []Coin) error {
	next := append([]Coin(nil), b.Native...)
	for _, c := range coins {
		i := indexCoin(next, c.Denom)
		if i < 0 {
			next = append(next, c)
			continue
		}
		sum, carry := bits.Add64(next[i].Amount, c.Amount, 0)
		if carry != 0 {
			return NewDomainError("GenericBalance.AddNative", ErrOverflow, c.Denom)
		}
		next[i].Amount = sum
	}
	b.Native = next
	return nil
}

// AddToken merges a token amount into the balance.
func (b *GenericBalance) AddToken(token TokenAmount) error {
	i := indexToken(b.Tokens, token.Address)
	if i < 0 {
		b.Tokens = append(b.Tokens, token)
		return nil
	}
	sum, carry := bits.Add64(b.Tokens[i].Amount, token.Amount, 0)
	if carry != 0 {
		return NewDomainError("GenericBalance.AddToken", ErrOverflow, token.Address)
	}
	b.Tokens[i].Amount = sum
	return nil
}

// SubtractNative removes coins from the balance. Every entry is checked
// before any is changed; a single shortfall rejects the whole call.
func (b *GenericBalance) SubtractNative(coins []Coin) error {
	next := append([]Coin(nil), b.Native...)
	for _, c := range coins {
		if c.Amount == 0 {
			continue
		}
		i := indexCoin(next, c.Denom)
		if i < 0 || next[i].Amount < c.Amount {
			return NewDomainError("GenericBalance.SubtractNative", ErrInsufficientFunds, c.String())
		}
		next[i].Amount -= c.Amount
	}
	b.Native = next
	return nil
}

// SubtractToken removes a token amount from the balance.
func (b *GenericBalance) SubtractToken(token TokenAmount) error {
	if token.Amount == 0 {
		return nil
	}
	i := indexToken(b.Tokens, token.Address)
	if i < 0 || b.Tokens[i].Amount < token.Amount {
		return NewDomainError("GenericBalance.SubtractToken", ErrInsufficientFunds, token.Address)
	}
	b.Tokens[i].Amount -= token.Amount
	return nil
}

// HasToken reports whether the balance holds at least the required token amount.
func (b GenericBalance) HasToken(required TokenAmount) bool {
	return HasToken(b.Tokens, required)
}

// HasNative reports whether the balance holds at least every required coin.
func (b GenericBalance) HasNative(required []Coin) bool {
	for _, c := range required {
		if !HasCoin(b.Native, c) {
			return false
		}
	}
	return true
}

// HasToken returns true if tokens holds at least the required amount on the
// required contract. An absent contract never satisfies a request.
func HasToken(tokens []TokenAmount, required TokenAmount) bool {
	i := indexToken(tokens, required.Address)
	if i < 0 {
		return false
	}
	return tokens[i].Amount >= required.Amount
}

// HasCoin returns true if coins holds at least the required amount of its denom.
func HasCoin(coins []Coin, required Coin) bool {
	i := indexCoin(coins, required.Denom)
	if i < 0 {
		return required.Amount == 0
	}
	return coins[i].Amount >= required.Amount
}

func indexCoin(coins []Coin, denom string) int {
	for i, c := range coins {
		if c.Denom == denom {
			return i
		}
	}
	return -1
}

func indexToken(tokens []TokenAmount, address string) int {
	for i, t := range tokens {
		if t.Address == address {
			return i
		}
	}
	return -1
}

// Ledger is the registry's funds aggregate.
type Ledger struct {
	Available GenericBalance `json:"available_balance"`
	Staked    GenericBalance `json:"staked_balance"`
}

// Clone returns a deep copy of the ledger.
func (l Ledger) Clone() Ledger {
	return Ledger{Available: l.Available.Clone(), Staked: l.Staked.Clone()}
}
