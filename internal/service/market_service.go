package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// ReceiptSigner countersigns settlements with the operator key. The service
// layer never depends on concrete key-management implementations.
type ReceiptSigner interface {
	SignSettlement(marketID uint64, answer int, totalPool int64, resolvedAt time.Time) (string, error)
}

// MarketService owns the market lifecycle: creation, resolution and reads.
type MarketService struct {
	markets        domain.MarketStore
	bets           domain.BetStore
	cache          domain.MarketCache
	locks          *Locks
	bus            domain.SignalBus
	audit          domain.AuditStore
	receipts       ReceiptSigner
	logger         *slog.Logger
	now            func() time.Time
	maxOptions     int
	maxQuestionLen int
}

// NewMarketService creates a MarketService with all required dependencies.
// The cache, signal bus and audit store may be nil in single-instance setups.
func NewMarketService(
	markets domain.MarketStore,
	bets domain.BetStore,
	cache domain.MarketCache,
	locks *Locks,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:        markets,
		bets:           bets,
		cache:          cache,
		locks:          locks,
		bus:            bus,
		audit:          audit,
		logger:         logger,
		now:            nowUTC,
		maxOptions:     16,
		maxQuestionLen: 500,
	}
}

// WithLimits overrides the option count and question length caps.
func (s *MarketService) WithLimits(maxOptions, maxQuestionLen int) *MarketService {
	if maxOptions >= 2 {
		s.maxOptions = maxOptions
	}
	if maxQuestionLen > 0 {
		s.maxQuestionLen = maxQuestionLen
	}
	return s
}

// WithReceiptSigner attaches an operator signer so resolutions produce a
// signed settlement receipt. Without one, resolutions settle unsigned.
func (s *MarketService) WithReceiptSigner(signer ReceiptSigner) *MarketService {
	s.receipts = signer
	return s
}

// WithNow overrides the clock. Used by tests.
func (s *MarketService) WithNow(now func() time.Time) *MarketService {
	s.now = now
	return s
}

// CreateMarket validates the request, assigns the next market id and
// persists the new market in the active state.
func (s *MarketService) CreateMarket(
	ctx context.Context,
	caller, question, description string,
	options []string,
	duration time.Duration,
	maxRewardPerWinner int64,
) (domain.Market, error) {
	if caller == "" {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", domain.ErrUnauthenticated)
	}
	if err := s.validateMarketInput(question, options, duration, maxRewardPerWinner); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	now := s.now()
	m := domain.Market{
		Creator:            caller,
		Question:           question,
		Description:        description,
		Options:            options,
		EndTime:            now.Add(duration),
		Status:             domain.MarketStatusActive,
		BetsByOption:       make([]int64, len(options)),
		CorrectAnswer:      domain.NoAnswer,
		MaxRewardPerWinner: maxRewardPerWinner,
		CreatedAt:          now,
	}

	created, err := s.markets.Create(ctx, m)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}

	if cacheErr := s.cacheSet(ctx, created); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Uint64("market_id", created.ID),
			slog.String("error", cacheErr.Error()),
		)
	}

	publishEvent(ctx, s.bus, s.logger, domain.Event{
		Kind:     domain.EventMarketCreated,
		MarketID: created.ID,
		Actor:    caller,
		At:       now,
	})
	s.auditLog(ctx, "market_created", map[string]any{
		"market_id": created.ID,
		"creator":   caller,
		"question":  question,
		"options":   len(options),
		"end_time":  created.EndTime,
	})

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.Uint64("market_id", created.ID),
		slog.String("creator", caller),
	)

	return created, nil
}

// ResolveMarket settles a market: only the creator may resolve, only after
// the deadline, only once. Every bet on the winning option gets its reward
// set to the doubled stake capped per winner, in one atomic store mutation.
func (s *MarketService) ResolveMarket(ctx context.Context, caller string, marketID uint64, answer int) (domain.Market, error) {
	if caller == "" {
		return domain.Market{}, fmt.Errorf("market_service: resolve: %w", domain.ErrUnauthenticated)
	}

	unlock, err := s.locks.lock(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: %w", marketID, err)
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: %w", marketID, err)
	}

	now := s.now()
	switch {
	case m.Creator != caller:
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: only the creator may resolve: %w", marketID, domain.ErrForbidden)
	case m.Status == domain.MarketStatusResolved:
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: %w", marketID, domain.ErrAlreadyResolved)
	case !m.Expired(now):
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: %w", marketID, domain.ErrMarketNotExpired)
	case !m.ValidOption(answer):
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: answer %d out of range: %w", marketID, answer, domain.ErrInvalidAnswer)
	}

	bets, err := s.bets.ListByMarket(ctx, marketID, "")
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: list bets: %w", marketID, err)
	}

	var rewards []domain.RewardUpdate
	for _, b := range bets {
		if b.Option != answer {
			continue
		}
		rewards = append(rewards, domain.RewardUpdate{
			Bettor: b.Bettor,
			Option: b.Option,
			Amount: ComputeReward(b.Amount, m.MaxRewardPerWinner),
		})
	}

	if err := s.markets.Resolve(ctx, marketID, answer, now, rewards); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %d: %w", marketID, err)
	}

	m.Status = domain.MarketStatusResolved
	m.CorrectAnswer = answer
	m.ResolvedAt = &now

	if cacheErr := s.cacheInvalidate(ctx, marketID); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}

	detail := map[string]any{
		"market_id":  marketID,
		"answer":     answer,
		"winners":    len(rewards),
		"total_pool": m.TotalPool(),
	}
	if s.receipts != nil {
		sig, sigErr := s.receipts.SignSettlement(marketID, answer, m.TotalPool(), now)
		if sigErr != nil {
			s.logger.ErrorContext(ctx, "market_service: settlement receipt signing failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", sigErr.Error()),
			)
		} else {
			detail["receipt"] = sig
		}
	}

	publishEvent(ctx, s.bus, s.logger, domain.Event{
		Kind:      domain.EventMarketResolved,
		MarketID:  marketID,
		Actor:     caller,
		Option:    intPtr(answer),
		TotalPool: m.TotalPool(),
		At:        now,
	})
	s.auditLog(ctx, "market_resolved", detail)

	s.logger.InfoContext(ctx, "market_service: market resolved",
		slog.Uint64("market_id", marketID),
		slog.Int("answer", answer),
		slog.Int("winners", len(rewards)),
	)

	return m, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the persistent store on a cache miss. The returned status is the
// derived view: an unresolved market past its deadline presents as locked.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.cacheGet(ctx, id)
	if err != nil {
		// Cache miss or error -- fall through to store.
		m, err = s.markets.GetByID(ctx, id)
		if err != nil {
			return domain.Market{}, fmt.Errorf("market_service: get market %d: %w", id, err)
		}
		if cacheErr := s.cacheSet(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}

	m.Status = m.DerivedStatus(s.now())
	return m, nil
}

// ListMarkets returns markets newest first. The store only knows the
// persisted active/resolved states, so the locked and active filters are
// mapped onto a persisted-status filter plus a deadline bound, applied by
// the store before pagination so pages fill completely.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	now := s.now()

	switch opts.Status {
	case domain.MarketStatusLocked:
		opts.Status = domain.MarketStatusActive
		opts.EndedBy = now
	case domain.MarketStatusActive:
		opts.EndsAfter = now
	}

	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}

	for i := range markets {
		markets[i].Status = markets[i].DerivedStatus(now)
	}
	return markets, nil
}

// Count returns the total number of markets in the persistent store.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// cacheSet stores the persisted form of the market; derived status is
// recomputed on every read so the cache never pins a stale locked view.
func (s *MarketService) cacheSet(ctx context.Context, m domain.Market) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Set(ctx, m)
}

func (s *MarketService) cacheGet(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache == nil {
		return domain.Market{}, domain.ErrNotFound
	}
	return s.cache.Get(ctx, id)
}

func (s *MarketService) cacheInvalidate(ctx context.Context, id uint64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, id)
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) validateMarketInput(question string, options []string, duration time.Duration, maxReward int64) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("question must not be empty: %w", domain.ErrInvalidInput)
	}
	if len(question) > s.maxQuestionLen {
		return fmt.Errorf("question exceeds %d bytes: %w", s.maxQuestionLen, domain.ErrInvalidInput)
	}
	if len(options) < 2 {
		return fmt.Errorf("at least two options required: %w", domain.ErrInvalidInput)
	}
	if len(options) > s.maxOptions {
		return fmt.Errorf("at most %d options allowed: %w", s.maxOptions, domain.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("options must not be empty: %w", domain.ErrInvalidInput)
		}
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("options must be distinct: %w", domain.ErrInvalidInput)
		}
		seen[opt] = struct{}{}
	}
	if duration <= 0 {
		return fmt.Errorf("duration must be positive: %w", domain.ErrInvalidInput)
	}
	if maxReward <= 0 {
		return fmt.Errorf("max reward per winner must be positive: %w", domain.ErrInvalidInput)
	}
	return nil
}
