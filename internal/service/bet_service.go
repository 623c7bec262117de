package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// BetService owns wagering and reward claims. Every mutation runs under the
// market's lock and pairs fund movement with the store mutation: the second
// step failing triggers a compensating transfer or flag reversal so funds
// and state never drift apart.
type BetService struct {
	markets    domain.MarketStore
	bets       domain.BetStore
	treasury   domain.Treasury
	cache      domain.MarketCache
	locks      *Locks
	limiter    domain.RateLimiter
	bus        domain.SignalBus
	audit      domain.AuditStore
	logger     *slog.Logger
	now        func() time.Time
	rateLimit  int
	rateWindow time.Duration
}

// NewBetService creates a BetService with all required dependencies. The
// cache, rate limiter, signal bus and audit store may be nil.
func NewBetService(
	markets domain.MarketStore,
	bets domain.BetStore,
	treasury domain.Treasury,
	cache domain.MarketCache,
	locks *Locks,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		markets:    markets,
		bets:       bets,
		treasury:   treasury,
		cache:      cache,
		locks:      locks,
		limiter:    limiter,
		bus:        bus,
		audit:      audit,
		logger:     logger,
		now:        nowUTC,
		rateLimit:  30,
		rateWindow: time.Minute,
	}
}

// WithNow overrides the clock. Used by tests.
func (s *BetService) WithNow(now func() time.Time) *BetService {
	s.now = now
	return s
}

// WithRateLimit overrides how many wagers one bettor may place per window.
func (s *BetService) WithRateLimit(limit int, window time.Duration) *BetService {
	if limit > 0 && window > 0 {
		s.rateLimit = limit
		s.rateWindow = window
	}
	return s
}

// escrowAddress is the treasury account holding a market's pool.
func escrowAddress(marketID uint64) string {
	return fmt.Sprintf("market:%d", marketID)
}

// PlaceBet wagers amount on one option of an active market. The stake is
// debited into the market escrow before the bet row is written; if the
// write fails the debit is refunded. Repeat wagers on the same option
// accumulate, and wagers on different options of one market are allowed.
func (s *BetService) PlaceBet(ctx context.Context, caller string, marketID uint64, option int, amount int64) (domain.Bet, error) {
	if caller == "" {
		return domain.Bet{}, fmt.Errorf("bet_service: place bet: %w", domain.ErrUnauthenticated)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "bets:"+caller, s.rateLimit, s.rateWindow)
		if err != nil {
			return domain.Bet{}, fmt.Errorf("bet_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.Bet{}, fmt.Errorf("bet_service: place bet: %w", domain.ErrRateLimited)
		}
	}

	unlock, err := s.locks.lock(ctx, marketID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("bet_service: place bet on market %d: %w", marketID, err)
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("bet_service: place bet on market %d: %w", marketID, err)
	}

	now := s.now()
	switch {
	case m.Status == domain.MarketStatusResolved:
		return domain.Bet{}, fmt.Errorf("bet_service: place bet on market %d: %w", marketID, domain.ErrMarketNotActive)
	case m.Expired(now):
		return domain.Bet{}, fmt.Errorf("bet_service: place bet on market %d: %w", marketID, domain.ErrMarketExpired)
	case !m.ValidOption(option):
		return domain.Bet{}, fmt.Errorf("bet_service: place bet on market %d: option %d out of range: %w", marketID, option, domain.ErrInvalidOption)
	case amount <= 0:
		return domain.Bet{}, fmt.Errorf("bet_service: place bet on market %d: %w", marketID, domain.ErrInvalidAmount)
	}

	wager := domain.Transfer{
		ID:        uuid.NewString(),
		From:      caller,
		To:        escrowAddress(marketID),
		Amount:    amount,
		Kind:      domain.TransferWager,
		MarketID:  marketID,
		CreatedAt: now,
	}
	if err := s.treasury.Debit(ctx, wager); err != nil {
		return domain.Bet{}, fmt.Errorf("bet_service: wager debit: %w: %w", err, domain.ErrTransferFailed)
	}

	bet, err := s.bets.ApplyWager(ctx, domain.Bet{
		MarketID: marketID,
		Bettor:   caller,
		Option:   option,
		Amount:   amount,
		PlacedAt: now,
	})
	if err != nil {
		// Compensate the debit so the stake is not stranded in escrow.
		refund := domain.Transfer{
			ID:        uuid.NewString(),
			From:      escrowAddress(marketID),
			To:        caller,
			Amount:    amount,
			Kind:      domain.TransferRefund,
			MarketID:  marketID,
			CreatedAt: s.now(),
		}
		if refundErr := s.treasury.Credit(ctx, refund); refundErr != nil {
			s.logger.ErrorContext(ctx, "bet_service: wager refund failed",
				slog.Uint64("market_id", marketID),
				slog.String("bettor", caller),
				slog.Int64("amount", amount),
				slog.String("error", refundErr.Error()),
			)
			s.auditLog(ctx, "wager_refund_failed", map[string]any{
				"market_id": marketID,
				"bettor":    caller,
				"amount":    amount,
			})
		}
		return domain.Bet{}, fmt.Errorf("bet_service: apply wager: %w", err)
	}

	if cacheErr := s.cacheInvalidate(ctx, marketID); cacheErr != nil {
		s.logger.WarnContext(ctx, "bet_service: cache invalidate failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}

	publishEvent(ctx, s.bus, s.logger, domain.Event{
		Kind:      domain.EventBetPlaced,
		MarketID:  marketID,
		Actor:     caller,
		Option:    intPtr(option),
		Amount:    int64Ptr(amount),
		TotalPool: m.TotalPool() + amount,
		At:        now,
	})
	s.auditLog(ctx, "bet_placed", map[string]any{
		"market_id": marketID,
		"bettor":    caller,
		"option":    option,
		"amount":    amount,
	})

	s.logger.InfoContext(ctx, "bet_service: bet placed",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", caller),
		slog.Int("option", option),
		slog.Int64("amount", amount),
	)

	return bet, nil
}

// ClaimReward pays out the caller's winning bet exactly once. The winning
// option is the resolved market's correct answer, so the caller only names
// the market. The bet is marked claimed before the payout credit; a failed
// credit reverses the mark so the reward stays claimable. Retries after a
// successful claim fail with ErrAlreadyClaimed and move no funds.
func (s *BetService) ClaimReward(ctx context.Context, caller string, marketID uint64) (int64, error) {
	if caller == "" {
		return 0, fmt.Errorf("bet_service: claim: %w", domain.ErrUnauthenticated)
	}

	unlock, err := s.locks.lock(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("bet_service: claim on market %d: %w", marketID, err)
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("bet_service: claim on market %d: %w", marketID, err)
	}
	if m.Status != domain.MarketStatusResolved {
		return 0, fmt.Errorf("bet_service: claim on market %d: %w", marketID, domain.ErrMarketNotResolved)
	}

	option := m.CorrectAnswer
	callerBets, err := s.bets.ListByMarket(ctx, marketID, caller)
	if err != nil {
		return 0, fmt.Errorf("bet_service: claim on market %d: %w", marketID, err)
	}
	if len(callerBets) == 0 {
		return 0, fmt.Errorf("bet_service: claim on market %d: %w", marketID, domain.ErrNoBetFound)
	}

	var bet domain.Bet
	won := false
	for _, b := range callerBets {
		if b.Option == option {
			bet = b
			won = true
			break
		}
	}
	switch {
	case !won || bet.RewardAmount <= 0:
		return 0, fmt.Errorf("bet_service: claim on market %d: %w", marketID, domain.ErrNoReward)
	case bet.Claimed:
		return 0, fmt.Errorf("bet_service: claim on market %d: %w", marketID, domain.ErrAlreadyClaimed)
	}

	if err := s.bets.SetClaimed(ctx, marketID, caller, option, true); err != nil {
		return 0, fmt.Errorf("bet_service: mark claimed: %w", err)
	}

	payout := domain.Transfer{
		ID:        uuid.NewString(),
		From:      escrowAddress(marketID),
		To:        caller,
		Amount:    bet.RewardAmount,
		Kind:      domain.TransferReward,
		MarketID:  marketID,
		CreatedAt: s.now(),
	}
	if err := s.treasury.Credit(ctx, payout); err != nil {
		// Reverse the mark so the reward stays claimable.
		if revErr := s.bets.SetClaimed(ctx, marketID, caller, option, false); revErr != nil {
			s.logger.ErrorContext(ctx, "bet_service: claim reversal failed",
				slog.Uint64("market_id", marketID),
				slog.String("bettor", caller),
				slog.String("error", revErr.Error()),
			)
			s.auditLog(ctx, "claim_reversal_failed", map[string]any{
				"market_id": marketID,
				"bettor":    caller,
				"option":    option,
				"amount":    bet.RewardAmount,
			})
		}
		return 0, fmt.Errorf("bet_service: payout credit: %w: %w", err, domain.ErrTransferFailed)
	}

	publishEvent(ctx, s.bus, s.logger, domain.Event{
		Kind:      domain.EventRewardClaimed,
		MarketID:  marketID,
		Actor:     caller,
		Option:    intPtr(option),
		Amount:    int64Ptr(bet.RewardAmount),
		TotalPool: m.TotalPool(),
		At:        s.now(),
	})
	s.auditLog(ctx, "reward_claimed", map[string]any{
		"market_id": marketID,
		"bettor":    caller,
		"option":    option,
		"amount":    bet.RewardAmount,
	})

	s.logger.InfoContext(ctx, "bet_service: reward claimed",
		slog.Uint64("market_id", marketID),
		slog.String("bettor", caller),
		slog.Int64("amount", bet.RewardAmount),
	)

	return bet.RewardAmount, nil
}

// GetBets returns the bets on a market, optionally filtered to one bettor.
func (s *BetService) GetBets(ctx context.Context, marketID uint64, bettor string) ([]domain.Bet, error) {
	if _, err := s.markets.GetByID(ctx, marketID); err != nil {
		return nil, fmt.Errorf("bet_service: get bets for market %d: %w", marketID, err)
	}
	bets, err := s.bets.ListByMarket(ctx, marketID, bettor)
	if err != nil {
		return nil, fmt.Errorf("bet_service: get bets for market %d: %w", marketID, err)
	}
	return bets, nil
}

// GetClaimableRewards returns the bettor's unclaimed winning bets across
// all resolved markets, each paired with its market's question.
func (s *BetService) GetClaimableRewards(ctx context.Context, bettor string) ([]domain.ClaimableReward, error) {
	rewards, err := s.bets.ListClaimable(ctx, bettor)
	if err != nil {
		return nil, fmt.Errorf("bet_service: claimable rewards for %q: %w", bettor, err)
	}
	return rewards, nil
}

// Balance reports the bettor's treasury balance.
func (s *BetService) Balance(ctx context.Context, address string) (int64, error) {
	bal, err := s.treasury.Balance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("bet_service: balance for %q: %w", address, err)
	}
	return bal, nil
}

func (s *BetService) cacheInvalidate(ctx context.Context, id uint64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, id)
}

func (s *BetService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "bet_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
