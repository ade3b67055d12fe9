package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the contract core.
var (
	ErrUnauthorized         = fmt.Errorf("unauthorized")
	ErrAgentUnregistered    = fmt.Errorf("agent not registered")
	ErrInsufficientFunds    = fmt.Errorf("insufficient funds")
	ErrInvalidConfiguration = fmt.Errorf("invalid configuration")
	ErrPolicyViolation      = fmt.Errorf("policy violation")

	ErrNotFound       = fmt.Errorf("not found")
	ErrAgentExists    = fmt.Errorf("agent already registered")
	ErrNotNominated   = fmt.Errorf("agent not nominated")
	ErrPaused         = fmt.Errorf("contract paused")
	ErrOverflow       = fmt.Errorf("amount overflow")
	ErrInvalidInput   = fmt.Errorf("invalid input")
	ErrGenesisMissing = fmt.Errorf("contract not instantiated")
	ErrStore          = fmt.Errorf("state store failed")
	ErrHostQuery      = fmt.Errorf("host query failed")

	// Gateway / RPC errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway authentication failed")
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Contract.MoveBalances")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category returned to RPC clients.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeAgentUnregistered    ErrorCode = "AGENT_UNREGISTERED"
	CodeInsufficientFunds    ErrorCode = "INSUFFICIENT_FUNDS"
	CodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	CodePolicyViolation      ErrorCode = "POLICY_VIOLATION"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeAgentExists          ErrorCode = "AGENT_EXISTS"
	CodeNotNominated         ErrorCode = "NOT_NOMINATED"
	CodePaused               ErrorCode = "PAUSED"
	CodeOverflow             ErrorCode = "OVERFLOW"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeGenesisMissing       ErrorCode = "GENESIS_MISSING"
	CodeStore                ErrorCode = "STORE"
	CodeHostQuery            ErrorCode = "HOST_QUERY"
	CodeGatewayAuth          ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound    ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload    ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrUnauthorized:         CodeUnauthorized,
	ErrAgentUnregistered:    CodeAgentUnregistered,
	ErrInsufficientFunds:    CodeInsufficientFunds,
	ErrInvalidConfiguration: CodeInvalidConfiguration,
	ErrPolicyViolation:      CodePolicyViolation,
	ErrNotFound:             CodeNotFound,
	ErrAgentExists:          CodeAgentExists,
	ErrNotNominated:         CodeNotNominated,
	ErrPaused:               CodePaused,
	ErrOverflow:             CodeOverflow,
	ErrInvalidInput:         CodeInvalidInput,
	ErrGenesisMissing:       CodeGenesisMissing,
	ErrStore:                CodeStore,
	ErrHostQuery:            CodeHostQuery,
	ErrGatewayAuthFailed:    CodeGatewayAuth,
	ErrRPCMethodNotFound:    CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:    CodeRPCInvalidPayload,
	ErrRateLimit:            CodeRateLimit,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
