package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	// MarketStatusActive and MarketStatusResolved are the persisted states.
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"

	// MarketStatusLocked is never stored. It is the presented state of an
	// unresolved market whose deadline has passed.
	MarketStatusLocked MarketStatus = "locked"
)

// NoAnswer is the CorrectAnswer value of an unresolved market.
const NoAnswer = -1

// Market is a prediction market settled by its creator.
type Market struct {
	ID                 uint64       `json:"id"`
	Creator            string       `json:"creator"`
	Question           string       `json:"question"`
	Description        string       `json:"description,omitempty"`
	Options            []string     `json:"options"`
	EndTime            time.Time    `json:"end_time"`
	Status             MarketStatus `json:"status"`
	BetsByOption       []int64      `json:"bets_by_option"`
	CorrectAnswer      int          `json:"correct_answer"` // NoAnswer until resolved
	MaxRewardPerWinner int64        `json:"max_reward_per_winner"`
	CreatedAt          time.Time    `json:"created_at"`
	ResolvedAt         *time.Time   `json:"resolved_at,omitempty"`
}

// TotalPool is the sum of all wagers across options. It always equals the
// sum of the amounts of every bet on the market.
func (m Market) TotalPool() int64 {
	var total int64
	for _, amt := range m.BetsByOption {
		total += amt
	}
	return total
}

// DerivedStatus reports the market status as seen by readers at the given
// instant: an active market past its deadline presents as locked.
func (m Market) DerivedStatus(now time.Time) MarketStatus {
	if m.Status == MarketStatusActive && !now.Before(m.EndTime) {
		return MarketStatusLocked
	}
	return m.Status
}

// Expired reports whether the wagering deadline has passed.
func (m Market) Expired(now time.Time) bool {
	return !now.Before(m.EndTime)
}

// ValidOption reports whether idx addresses one of the market's options.
func (m Market) ValidOption(idx int) bool {
	return idx >= 0 && idx < len(m.Options)
}
