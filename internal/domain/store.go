package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries. The deadline
// filters are applied by the store, before Limit and Offset, so filtered
// pages fill completely.
type ListOpts struct {
	Limit   int
	Offset  int
	Status  MarketStatus // persisted status filter; empty means all
	Creator string

	// EndedBy keeps only markets whose deadline is at or before the given
	// instant; EndsAfter only those still open at it. Zero means no filter.
	EndedBy   time.Time
	EndsAfter time.Time
}

// MarketStore persists markets. IDs are assigned by the store and are
// strictly monotonically increasing from 1.
type MarketStore interface {
	Create(ctx context.Context, m Market) (Market, error)
	GetByID(ctx context.Context, id uint64) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)

	// Resolve marks the market resolved and settles every winning bet's
	// reward in one atomic mutation.
	Resolve(ctx context.Context, id uint64, answer int, resolvedAt time.Time, rewards []RewardUpdate) error
}

// BetStore persists bets keyed (market, bettor, option).
type BetStore interface {
	// ApplyWager upserts the bet row (accumulating amount) and increments
	// the market's option pool atomically.
	ApplyWager(ctx context.Context, b Bet) (Bet, error)
	Get(ctx context.Context, marketID uint64, bettor string, option int) (Bet, error)
	ListByMarket(ctx context.Context, marketID uint64, bettor string) ([]Bet, error)
	ListClaimable(ctx context.Context, bettor string) ([]ClaimableReward, error)

	// SetClaimed flips the claimed flag. Used forward on claim and in
	// reverse as the compensating step when the payout transfer fails.
	SetClaimed(ctx context.Context, marketID uint64, bettor string, option int, claimed bool) error
}

// Treasury moves funds between accounts. Debit fails with
// ErrInsufficientFunds and leaves no trace when the balance is short.
type Treasury interface {
	Debit(ctx context.Context, t Transfer) error
	Credit(ctx context.Context, t Transfer) error
	Balance(ctx context.Context, address string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit, offset int) ([]AuditEntry, error)
}
