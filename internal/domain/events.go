package domain

import "time"

// EventKind identifies a ledger event.
type EventKind string

const (
	EventMarketCreated  EventKind = "market_created"
	EventBetPlaced      EventKind = "bet_placed"
	EventMarketResolved EventKind = "market_resolved"
	EventRewardClaimed  EventKind = "reward_claimed"
)

// Event is the envelope published on the signal bus and appended to the
// durable event stream after every successful mutation.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	MarketID  uint64    `json:"market_id"`
	Actor     string    `json:"actor"`
	Option    *int      `json:"option,omitempty"`
	Amount    *int64    `json:"amount,omitempty"`
	TotalPool int64     `json:"total_pool"`
	At        time.Time `json:"at"`
}
