package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for every rejected transition. Handlers and callers branch
// on these with errors.Is; the parameterized types below wrap their sentinel
// so the discriminant survives wrapping.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	ErrPaused    = errors.New("engine paused")
	ErrNotPaused = errors.New("engine not paused")

	ErrEmptyString       = errors.New("empty string")
	ErrTooManyCategories = errors.New("too many categories")
	ErrCreationDisabled  = errors.New("public opinion creation disabled")

	ErrOpinionNotFound   = errors.New("opinion not found")
	ErrOpinionNotActive  = errors.New("opinion not active")
	ErrAlreadyActive     = errors.New("opinion already in requested state")
	ErrSameOwner         = errors.New("caller already owns the current answer")
	ErrNotForSale        = errors.New("question not listed for sale")
	ErrTradeThrottled    = errors.New("trade throttled for current window")
	ErrPriceOverflow     = errors.New("price computation overflow")
	ErrPriceBelowMinimum = errors.New("price below minimum")

	ErrNoFeesToClaim               = errors.New("no fees to claim")
	ErrInsufficientContractBalance = errors.New("insufficient contract balance")
	ErrTransferFailed              = errors.New("transfer failed")
	ErrWithdrawalFailed            = errors.New("withdrawal failed")

	ErrInvalidPoolID                = errors.New("invalid pool id")
	ErrProposedAnswerMatchesCurrent = errors.New("proposed answer matches current answer")
	ErrDeadlineTooShort             = errors.New("pool deadline too short")
	ErrDeadlineTooLong              = errors.New("pool deadline too long")
	ErrContributionTooLow           = errors.New("contribution below minimum")
	ErrPoolNotActive                = errors.New("pool not active")
	ErrPoolDeadlinePassed           = errors.New("pool deadline passed")
	ErrPoolAlreadyExecuted          = errors.New("pool already executed")
	ErrPoolAlreadyFullyFunded       = errors.New("pool already fully funded")
	ErrPoolNotExpired               = errors.New("pool not expired")
	ErrNoContributionFound          = errors.New("no contribution found")
	ErrAlreadyRefunded              = errors.New("contribution already refunded")
	ErrPoolNameInvalid              = errors.New("pool name invalid")
)

// InsufficientAllowanceError reports that a caller's pre-authorized payment
// does not cover the price of the requested transition.
type InsufficientAllowanceError struct {
	Required uint64
	Provided uint64
}

func (e *InsufficientAllowanceError) Error() string {
	return fmt.Sprintf("insufficient allowance: required %d, provided %d", e.Required, e.Provided)
}

// Unwrap lets errors.Is match ErrTransferFailed, the generic payment sentinel.
func (e *InsufficientAllowanceError) Unwrap() error { return ErrTransferFailed }

// PriceChangeExceedsLimitError reports a computed price step outside the
// configured absolute bound.
type PriceChangeExceedsLimitError struct {
	IncreasePct uint64
	LimitPct    uint64
}

func (e *PriceChangeExceedsLimitError) Error() string {
	return fmt.Sprintf("price change %d%% exceeds limit %d%%", e.IncreasePct, e.LimitPct)
}

func (e *PriceChangeExceedsLimitError) Unwrap() error { return ErrPriceOverflow }

// MaxTradesExceededError reports per-opinion throttling within one discrete
// block window.
type MaxTradesExceededError struct {
	Current uint32
	Max     uint32
}

func (e *MaxTradesExceededError) Error() string {
	return fmt.Sprintf("max trades exceeded: %d of %d in current window", e.Current, e.Max)
}

func (e *MaxTradesExceededError) Unwrap() error { return ErrTradeThrottled }

// TextTooLongError reports a field exceeding its configured length limit.
type TextTooLongError struct {
	Field string
	Len   int
	Max   int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("%s too long: %d bytes, maximum %d", e.Field, e.Len, e.Max)
}
