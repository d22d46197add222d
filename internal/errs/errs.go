package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the stage at which it was rejected.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation covers malformed or out-of-range inputs.
	KindValidation
	// KindAuthorization covers signer or authority mismatches.
	KindAuthorization
	// KindState covers requests that are well-formed but not allowed in the current state.
	KindState
	// KindSlippage covers swaps whose computed output is below the caller's minimum.
	KindSlippage
	// KindArithmetic covers checked overflow and underflow traps.
	KindArithmetic
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindSlippage:
		return "slippage"
	case KindArithmetic:
		return "arithmetic"
	default:
		return "unknown"
	}
}

// Error is a coded protocol failure. Codes are compared by identity, so
// wrapped errors match with errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrInvalidBps      = newError(KindValidation, "InvalidBps", "bps must be within [0, 10000]")
	ErrInvalidFee      = newError(KindValidation, "InvalidFee", "fee bps must be within [0, 10000]")
	ErrInvalidSplit    = newError(KindValidation, "InvalidSplit", "split bps must sum to 10000")
	ErrInvalidBinStep  = newError(KindValidation, "InvalidBinStep", "bin step must be within [1, 10000]")
	ErrInvalidBinRange = newError(KindValidation, "InvalidBinRange", "bin id is out of range for this position or pool")
	ErrZeroAmount      = newError(KindValidation, "ZeroAmount", "amount must be greater than zero")
	ErrInvalidMint     = newError(KindValidation, "InvalidMint", "mint does not belong to this pool")
	ErrInvalidParams   = newError(KindValidation, "InvalidParams", "operation parameters are malformed")

	ErrUnauthorized = newError(KindAuthorization, "Unauthorized", "caller does not match the required authority")

	ErrPoolPaused            = newError(KindState, "PoolPaused", "pool is paused")
	ErrPoolInactive          = newError(KindState, "PoolInactive", "pool has been deactivated")
	ErrPoolStillActive       = newError(KindState, "PoolStillActive", "pool active flag is still set")
	ErrPoolClosed            = newError(KindState, "PoolClosed", "pool is closed")
	ErrInsufficientBalance   = newError(KindState, "InsufficientBalance", "balance is insufficient")
	ErrInsufficientStake     = newError(KindState, "InsufficientStake", "insufficient staked amount")
	ErrInsufficientLiquidity = newError(KindState, "InsufficientLiquidity", "insufficient liquidity")
	ErrNotFound              = newError(KindState, "NotFound", "record not found")
	ErrAlreadyExists         = newError(KindState, "AlreadyExists", "record already exists")
	ErrQuorumNotMet          = newError(KindState, "QuorumNotMet", "governance quorum not met")
	ErrTimelockNotElapsed    = newError(KindState, "TimelockNotElapsed", "governance timelock has not elapsed")

	ErrSlippageExceeded = newError(KindSlippage, "SlippageExceeded", "slippage tolerance exceeded")

	ErrOverflow  = newError(KindArithmetic, "Overflow", "arithmetic overflow")
	ErrUnderflow = newError(KindArithmetic, "Underflow", "arithmetic underflow")
)

type wrapped struct {
	code *Error
	msg  string
}

func (w *wrapped) Error() string {
	return fmt.Sprintf("%s: %s", w.code.Code, w.msg)
}

func (w *wrapped) Unwrap() error {
	return w.code
}

// Wrapf attaches detail to a sentinel code while keeping errors.Is matching.
func Wrapf(code *Error, format string, args ...interface{}) error {
	return &wrapped{code: code, msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of the first coded error in err's chain.
func KindOf(err error) Kind {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first coded error in err's chain, or "".
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
