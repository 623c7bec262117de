package domain

import "time"

// Account is a treasury balance row. Amounts are int64 base units so all
// arithmetic stays exact.
type Account struct {
	Address   string    `json:"address"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransferKind classifies a treasury journal entry.
type TransferKind string

const (
	TransferWager  TransferKind = "wager"
	TransferReward TransferKind = "reward"
	TransferRefund TransferKind = "refund"
)

// Transfer is one journal row of the treasury.
type Transfer struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Amount    int64        `json:"amount"`
	Kind      TransferKind `json:"kind"`
	MarketID  uint64       `json:"market_id"`
	CreatedAt time.Time    `json:"created_at"`
}
