package service

import "math"

// rewardMultiplier is the fixed payout multiplier applied to winning stakes.
const rewardMultiplier = 2

// ComputeReward returns the settled reward for a winning stake: the stake
// doubled, capped at the market's per-winner maximum. Payouts are not
// pro-rated against the pool, so the sum of capped rewards may exceed the
// wagered total; the shortfall is carried by the market escrow account.
func ComputeReward(stake, maxPerWinner int64) int64 {
	if stake <= 0 || maxPerWinner <= 0 {
		return 0
	}
	if stake > math.MaxInt64/rewardMultiplier {
		return maxPerWinner
	}
	reward := stake * rewardMultiplier
	if reward > maxPerWinner {
		return maxPerWinner
	}
	return reward
}
