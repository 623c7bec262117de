package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

type betKey struct {
	marketID uint64
	bettor   string
	option   int
}

// BetStore is an in-memory domain.BetStore. Attach it to a MarketStore with
// NewMarketStore so wagers keep the option pools in step.
type BetStore struct {
	mu      sync.RWMutex
	bets    map[betKey]domain.Bet
	markets *MarketStore
}

// NewBetStore creates an empty BetStore.
func NewBetStore() *BetStore {
	return &BetStore{bets: make(map[betKey]domain.Bet)}
}

// Bind attaches the market store whose pools track the wagers.
func (s *BetStore) Bind(markets *MarketStore) {
	s.markets = markets
}

// ApplyWager accumulates the wager into the bet row and the option pool.
// The pool is bumped before this store's lock is taken so the lock order
// stays markets-then-bets everywhere.
func (s *BetStore) ApplyWager(_ context.Context, b domain.Bet) (domain.Bet, error) {
	if s.markets != nil {
		if err := s.markets.addToPool(b.MarketID, b.Option, b.Amount); err != nil {
			return domain.Bet{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := betKey{b.MarketID, b.Bettor, b.Option}
	if existing, ok := s.bets[key]; ok {
		existing.Amount += b.Amount
		existing.PlacedAt = b.PlacedAt
		s.bets[key] = existing
		return existing, nil
	}
	s.bets[key] = b
	return b, nil
}

// Get retrieves one bet by its key.
func (s *BetStore) Get(_ context.Context, marketID uint64, bettor string, option int) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[betKey{marketID, bettor, option}]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

// ListByMarket returns a market's bets, optionally filtered to one bettor.
func (s *BetStore) ListByMarket(_ context.Context, marketID uint64, bettor string) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for key, b := range s.bets {
		if key.marketID != marketID {
			continue
		}
		if bettor != "" && key.bettor != bettor {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bettor != out[j].Bettor {
			return out[i].Bettor < out[j].Bettor
		}
		return out[i].Option < out[j].Option
	})
	return out, nil
}

// ListClaimable returns the bettor's unclaimed winning bets on resolved
// markets, paired with each market's question.
func (s *BetStore) ListClaimable(_ context.Context, bettor string) ([]domain.ClaimableReward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ClaimableReward
	for key, b := range s.bets {
		if key.bettor != bettor || !b.Claimable() {
			continue
		}
		question := ""
		if s.markets != nil {
			q, resolved := s.markets.question(key.marketID)
			if !resolved {
				continue
			}
			question = q
		}
		out = append(out, domain.ClaimableReward{Bet: b, Question: question})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Bet.MarketID < out[j].Bet.MarketID
	})
	return out, nil
}

// SetClaimed flips the claimed flag on one bet.
func (s *BetStore) SetClaimed(_ context.Context, marketID uint64, bettor string, option int, claimed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := betKey{marketID, bettor, option}
	b, ok := s.bets[key]
	if !ok {
		return domain.ErrNotFound
	}
	b.Claimed = claimed
	s.bets[key] = b
	return nil
}

// settle writes the reward amounts computed at resolution. Called by the
// market store with its lock held.
func (s *BetStore) settle(marketID uint64, rewards []domain.RewardUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rewards {
		key := betKey{marketID, r.Bettor, r.Option}
		b, ok := s.bets[key]
		if !ok {
			return domain.ErrNotFound
		}
		b.RewardAmount = r.Amount
		s.bets[key] = b
	}
	return nil
}
