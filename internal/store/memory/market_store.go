// Package memory implements the domain store interfaces with in-process
// maps. It backs tests and the no-infrastructure dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// MarketStore is an in-memory domain.MarketStore.
type MarketStore struct {
	mu      sync.RWMutex
	nextID  uint64
	markets map[uint64]domain.Market
	bets    *BetStore
}

// NewMarketStore creates an empty MarketStore. The bet store is attached so
// resolution can settle rewards under the same lock discipline the SQL
// implementation gets from its transaction.
func NewMarketStore(bets *BetStore) *MarketStore {
	return &MarketStore{
		nextID:  1,
		markets: make(map[uint64]domain.Market),
		bets:    bets,
	}
}

func cloneMarket(m domain.Market) domain.Market {
	m.Options = append([]string(nil), m.Options...)
	m.BetsByOption = append([]int64(nil), m.BetsByOption...)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		m.ResolvedAt = &t
	}
	return m
}

// Create assigns the next id and stores the market.
func (s *MarketStore) Create(_ context.Context, m domain.Market) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.nextID
	s.nextID++
	if m.BetsByOption == nil {
		m.BetsByOption = make([]int64, len(m.Options))
	}
	s.markets[m.ID] = cloneMarket(m)
	return cloneMarket(m), nil
}

// GetByID retrieves a market by id.
func (s *MarketStore) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return cloneMarket(m), nil
}

// List returns markets newest first with optional filters.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Market
	for _, m := range s.markets {
		if opts.Status != "" && m.Status != opts.Status {
			continue
		}
		if opts.Creator != "" && m.Creator != opts.Creator {
			continue
		}
		if !opts.EndedBy.IsZero() && m.EndTime.After(opts.EndedBy) {
			continue
		}
		if !opts.EndsAfter.IsZero() && !m.EndTime.After(opts.EndsAfter) {
			continue
		}
		out = append(out, cloneMarket(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Count returns the number of stored markets.
func (s *MarketStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

// Resolve marks the market resolved and settles the given rewards.
func (s *MarketStore) Resolve(_ context.Context, id uint64, answer int, resolvedAt time.Time, rewards []domain.RewardUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.ErrMarketNotFound
	}
	if m.Status != domain.MarketStatusActive {
		return domain.ErrAlreadyResolved
	}

	m.Status = domain.MarketStatusResolved
	m.CorrectAnswer = answer
	t := resolvedAt
	m.ResolvedAt = &t
	s.markets[id] = m

	return s.bets.settle(id, rewards)
}

// addToPool is called by the bet store when a wager lands.
func (s *MarketStore) addToPool(marketID uint64, option int, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return domain.ErrMarketNotFound
	}
	if option < 0 || option >= len(m.BetsByOption) {
		return domain.ErrNotFound
	}
	m.BetsByOption[option] += amount
	s.markets[marketID] = m
	return nil
}

// question is used by the bet store's claimable listing.
func (s *MarketStore) question(marketID uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[marketID]
	if !ok {
		return "", false
	}
	return m.Question, m.Status == domain.MarketStatusResolved
}
