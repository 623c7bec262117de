package domain

import "errors"

// Operation failures surfaced to callers. Layers wrap these with context;
// callers branch with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrMarketNotFound    = errors.New("market not found")
	ErrMarketNotActive   = errors.New("market not active")
	ErrMarketExpired     = errors.New("market expired")
	ErrMarketNotExpired  = errors.New("market not expired")
	ErrAlreadyResolved   = errors.New("market already resolved")
	ErrMarketNotResolved = errors.New("market not resolved")
	ErrInvalidOption     = errors.New("invalid option")
	ErrInvalidAnswer     = errors.New("invalid answer")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNoBetFound        = errors.New("no bet found")
	ErrAlreadyClaimed    = errors.New("reward already claimed")
	ErrNoReward          = errors.New("no reward")
	ErrTransferFailed    = errors.New("transfer failed")
)

// Infrastructure failures.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)

var sentinels = []error{
	ErrInvalidInput,
	ErrUnauthenticated,
	ErrForbidden,
	ErrMarketNotFound,
	ErrMarketNotActive,
	ErrMarketExpired,
	ErrMarketNotExpired,
	ErrAlreadyResolved,
	ErrMarketNotResolved,
	ErrInvalidOption,
	ErrInvalidAnswer,
	ErrInvalidAmount,
	ErrNoBetFound,
	ErrAlreadyClaimed,
	ErrNoReward,
	ErrInsufficientFunds,
	ErrRateLimited,
	ErrLockHeld,
	ErrTransferFailed,
	ErrNotFound,
}

// Sentinels returns every error a caller may branch on, checked in order of
// specificity. Transports use it to map wrapped errors to stable messages.
func Sentinels() []error {
	return sentinels
}
