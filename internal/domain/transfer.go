package domain

import "context"

// Movement is one requested outflow: either a set of native coins or a
// single token amount. Exactly one of Native or Token is set.
type Movement struct {
	Native []Coin       `json:"native,omitempty"`
	Token  *TokenAmount `json:"token,omitempty"`
}

// IsNative reports whether the movement moves native coins.
func (m Movement) IsNative() bool { return m.Token == nil }

// InstructionKind identifies an outbound instruction.
type InstructionKind string

const (
	InstructionNativeSend    InstructionKind = "native_send"
	InstructionTokenTransfer InstructionKind = "token_transfer"
)

// Instruction is an outbound fund movement handed to the host after a call
// commits. The core never performs the transfer itself.
type Instruction struct {
	Kind InstructionKind `json:"kind"`

	// native_send
	ToAddress string `json:"to_address,omitempty"`
	Amount    []Coin `json:"amount,omitempty"`

	// token_transfer
	Contract    string `json:"contract,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	TokenAmount uint64 `json:"token_amount,omitempty"`
}

// NativeSend builds a native send instruction.
func NativeSend(to string, amount []Coin) Instruction {
	return Instruction{Kind: InstructionNativeSend, ToAddress: to, Amount: append([]Coin(nil), amount...)}
}

// TokenTransfer builds a token-contract transfer instruction.
func TokenTransfer(contract, recipient string, amount uint64) Instruction {
	return Instruction{Kind: InstructionTokenTransfer, Contract: contract, Recipient: recipient, TokenAmount: amount}
}

// BankQuerier answers fresh on-chain balance questions for an account.
type BankQuerier interface {
	AllBalances(ctx context.Context, address string) ([]Coin, error)
	TokenBalance(ctx context.Context, contract, address string) (uint64, error)
}

// InstructionSink executes committed instructions on the host.
type InstructionSink interface {
	Execute(ctx context.Context, from string, batchID string, instructions []Instruction) error
}
