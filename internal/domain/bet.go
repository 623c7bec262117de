package domain

import "time"

// Bet is a bettor's cumulative wager on one option of one market. Repeat
// wagers on the same (market, bettor, option) key accumulate into a single
// row rather than creating new ones.
type Bet struct {
	MarketID     uint64    `json:"market_id"`
	Bettor       string    `json:"bettor"`
	Option       int       `json:"option"`
	Amount       int64     `json:"amount"`
	PlacedAt     time.Time `json:"placed_at"`
	Claimed      bool      `json:"claimed"`
	RewardAmount int64     `json:"reward_amount"`
}

// Claimable reports whether the bet holds an unclaimed winning reward.
func (b Bet) Claimable() bool {
	return b.RewardAmount > 0 && !b.Claimed
}

// ClaimableReward pairs a claimable bet with its market's question for the
// per-bettor rewards listing.
type ClaimableReward struct {
	Bet      Bet    `json:"bet"`
	Question string `json:"question"`
}

// RewardUpdate carries one bet's settled reward during market resolution.
type RewardUpdate struct {
	Bettor string
	Option int
	Amount int64
}
