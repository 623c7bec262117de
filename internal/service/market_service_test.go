package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/store/memory"
)

const (
	creator = "0xc0ffee"
	alice   = "0xa11ce"
	bob     = "0xb0b"
)

// fixture wires both services onto the in-memory stores with a controllable
// clock. Advance the clock by reassigning f.now.
type fixture struct {
	markets  *MarketService
	bets     *BetService
	betStore *memory.BetStore
	treasury *memory.Treasury
	audit    *memory.AuditStore
	now      time.Time
}

func newFixture() *fixture {
	betStore := memory.NewBetStore()
	marketStore := memory.NewMarketStore(betStore)
	betStore.Bind(marketStore)

	f := &fixture{
		betStore: betStore,
		treasury: memory.NewTreasury(),
		audit:    memory.NewAuditStore(),
		now:      time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := NewLocks(nil)

	f.markets = NewMarketService(marketStore, betStore, nil, locks, nil, f.audit, logger).
		WithNow(clock)
	f.bets = NewBetService(marketStore, betStore, f.treasury, nil, locks, nil, nil, f.audit, logger).
		WithNow(clock)
	return f
}

// createMarket creates a yes/no market open for one hour with the given
// per-winner cap.
func (f *fixture) createMarket(t *testing.T, cap int64) domain.Market {
	t.Helper()
	m, err := f.markets.CreateMarket(context.Background(), creator,
		"Will it rain tomorrow?", "", []string{"Yes", "No"}, time.Hour, cap)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func TestCreateMarket(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	m, err := f.markets.CreateMarket(ctx, creator, "Will it rain tomorrow?",
		"Settled against the airport station.", []string{"Yes", "No"}, time.Hour, 10)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	if m.ID != 1 {
		t.Errorf("first market id = %d, want 1", m.ID)
	}
	if m.Status != domain.MarketStatusActive {
		t.Errorf("status = %q, want active", m.Status)
	}
	if m.CorrectAnswer != domain.NoAnswer {
		t.Errorf("correct answer = %d, want %d", m.CorrectAnswer, domain.NoAnswer)
	}
	if len(m.BetsByOption) != 2 || m.TotalPool() != 0 {
		t.Errorf("pools = %v, want two empty pools", m.BetsByOption)
	}
	if want := f.now.Add(time.Hour); !m.EndTime.Equal(want) {
		t.Errorf("end time = %v, want %v", m.EndTime, want)
	}
	if !m.CreatedAt.Equal(f.now) {
		t.Errorf("created at = %v, want %v", m.CreatedAt, f.now)
	}

	second, err := f.markets.CreateMarket(ctx, creator, "Another question?",
		"", []string{"A", "B", "C"}, time.Hour, 10)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if second.ID != 2 {
		t.Errorf("second market id = %d, want 2", second.ID)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	tests := []struct {
		name     string
		caller   string
		question string
		options  []string
		duration time.Duration
		cap      int64
		wantErr  error
	}{
		{"empty caller", "", "q?", []string{"Yes", "No"}, time.Hour, 10, domain.ErrUnauthenticated},
		{"empty question", creator, "  ", []string{"Yes", "No"}, time.Hour, 10, domain.ErrInvalidInput},
		{"question too long", creator, strings.Repeat("q", 501), []string{"Yes", "No"}, time.Hour, 10, domain.ErrInvalidInput},
		{"single option", creator, "q?", []string{"Yes"}, time.Hour, 10, domain.ErrInvalidInput},
		{"no options", creator, "q?", nil, time.Hour, 10, domain.ErrInvalidInput},
		{"blank option", creator, "q?", []string{"Yes", " "}, time.Hour, 10, domain.ErrInvalidInput},
		{"duplicate options", creator, "q?", []string{"Yes", "Yes"}, time.Hour, 10, domain.ErrInvalidInput},
		{"zero duration", creator, "q?", []string{"Yes", "No"}, 0, 10, domain.ErrInvalidInput},
		{"negative duration", creator, "q?", []string{"Yes", "No"}, -time.Hour, 10, domain.ErrInvalidInput},
		{"zero cap", creator, "q?", []string{"Yes", "No"}, time.Hour, 0, domain.ErrInvalidInput},
		{"negative cap", creator, "q?", []string{"Yes", "No"}, time.Hour, -1, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.markets.CreateMarket(context.Background(), tt.caller,
				tt.question, "", tt.options, tt.duration, tt.cap)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateMarket error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateMarketLimits(t *testing.T) {
	f := newFixture()
	f.markets.WithLimits(3, 20)
	ctx := context.Background()

	if _, err := f.markets.CreateMarket(ctx, creator, "q?", "",
		[]string{"A", "B", "C", "D"}, time.Hour, 10); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("four options under a three-option limit: error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.markets.CreateMarket(ctx, creator, strings.Repeat("q", 21), "",
		[]string{"A", "B"}, time.Hour, 10); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("question over the length limit: error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.markets.CreateMarket(ctx, creator, "short question?", "",
		[]string{"A", "B", "C"}, time.Hour, 10); err != nil {
		t.Errorf("within limits: unexpected error %v", err)
	}
}

func TestResolveMarketChecks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.createMarket(t, 10)

	if _, err := f.markets.ResolveMarket(ctx, "", m.ID, 0); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("empty caller: error = %v, want ErrUnauthenticated", err)
	}
	if _, err := f.markets.ResolveMarket(ctx, creator, 999, 0); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("unknown market: error = %v, want ErrMarketNotFound", err)
	}
	if _, err := f.markets.ResolveMarket(ctx, alice, m.ID, 0); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-creator: error = %v, want ErrForbidden", err)
	}
	if _, err := f.markets.ResolveMarket(ctx, creator, m.ID, 0); !errors.Is(err, domain.ErrMarketNotExpired) {
		t.Errorf("before deadline: error = %v, want ErrMarketNotExpired", err)
	}

	f.now = f.now.Add(2 * time.Hour)
	if _, err := f.markets.ResolveMarket(ctx, creator, m.ID, 2); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Errorf("answer out of range: error = %v, want ErrInvalidAnswer", err)
	}
	if _, err := f.markets.ResolveMarket(ctx, creator, m.ID, -1); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Errorf("negative answer: error = %v, want ErrInvalidAnswer", err)
	}

	resolved, err := f.markets.ResolveMarket(ctx, creator, m.ID, 0)
	if err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	if resolved.Status != domain.MarketStatusResolved {
		t.Errorf("status = %q, want resolved", resolved.Status)
	}
	if resolved.CorrectAnswer != 0 {
		t.Errorf("correct answer = %d, want 0", resolved.CorrectAnswer)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(f.now) {
		t.Errorf("resolved at = %v, want %v", resolved.ResolvedAt, f.now)
	}

	if _, err := f.markets.ResolveMarket(ctx, creator, m.ID, 0); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second resolve: error = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolveMarketSettlesCappedRewards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.createMarket(t, 10)

	f.treasury.Seed(alice, 100)
	f.treasury.Seed(bob, 100)
	if _, err := f.bets.PlaceBet(ctx, alice, m.ID, 0, 3); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if _, err := f.bets.PlaceBet(ctx, bob, m.ID, 0, 8); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	f.now = f.now.Add(2 * time.Hour)
	if _, err := f.markets.ResolveMarket(ctx, creator, m.ID, 0); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	aliceBet, err := f.betStore.Get(ctx, m.ID, alice, 0)
	if err != nil {
		t.Fatalf("Get alice bet: %v", err)
	}
	if aliceBet.RewardAmount != 6 {
		t.Errorf("stake 3 cap 10: reward = %d, want 6", aliceBet.RewardAmount)
	}

	bobBet, err := f.betStore.Get(ctx, m.ID, bob, 0)
	if err != nil {
		t.Fatalf("Get bob bet: %v", err)
	}
	if bobBet.RewardAmount != 10 {
		t.Errorf("stake 8 cap 10: reward = %d, want 10", bobBet.RewardAmount)
	}
}

func TestGetMarketDerivedStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.createMarket(t, 10)

	got, err := f.markets.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.Status != domain.MarketStatusActive {
		t.Errorf("before deadline: status = %q, want active", got.Status)
	}

	f.now = m.EndTime
	got, err = f.markets.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.Status != domain.MarketStatusLocked {
		t.Errorf("at deadline: status = %q, want locked", got.Status)
	}

	if _, err := f.markets.ResolveMarket(ctx, creator, m.ID, 1); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	got, err = f.markets.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.Status != domain.MarketStatusResolved {
		t.Errorf("after resolve: status = %q, want resolved", got.Status)
	}

	if _, err := f.markets.GetMarket(ctx, 999); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("unknown market: error = %v, want ErrMarketNotFound", err)
	}
}

func TestListMarketsStatusFilter(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	open := f.createMarket(t, 10)
	f.now = f.now.Add(30 * time.Minute)

	// Opens later, so it is still active when the first market locks.
	late, err := f.markets.CreateMarket(ctx, creator, "Later question?", "",
		[]string{"Yes", "No"}, 2*time.Hour, 10)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	f.now = open.EndTime // first market locked, second still open

	locked, err := f.markets.ListMarkets(ctx, domain.ListOpts{Status: domain.MarketStatusLocked})
	if err != nil {
		t.Fatalf("ListMarkets locked: %v", err)
	}
	if len(locked) != 1 || locked[0].ID != open.ID {
		t.Fatalf("locked filter = %+v, want just market %d", locked, open.ID)
	}
	if locked[0].Status != domain.MarketStatusLocked {
		t.Errorf("locked market status = %q, want locked", locked[0].Status)
	}

	active, err := f.markets.ListMarkets(ctx, domain.ListOpts{Status: domain.MarketStatusActive})
	if err != nil {
		t.Fatalf("ListMarkets active: %v", err)
	}
	if len(active) != 1 || active[0].ID != late.ID {
		t.Fatalf("active filter = %+v, want just market %d", active, late.ID)
	}

	all, err := f.markets.ListMarkets(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered list has %d markets, want 2", len(all))
	}
	if all[0].ID != late.ID {
		t.Errorf("list order = [%d, %d], want newest first", all[0].ID, all[1].ID)
	}

	count, err := f.markets.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}
}

func TestListMarketsFilteredPagesFill(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Three markets close in an hour, the two newest stay open far longer.
	// A filtered page must be cut from the filtered set, not filtered after
	// the store already paginated.
	for i := 0; i < 3; i++ {
		f.createMarket(t, 10)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.markets.CreateMarket(ctx, creator, "Long runner?", "",
			[]string{"Yes", "No"}, 5*time.Hour, 10); err != nil {
			t.Fatalf("CreateMarket: %v", err)
		}
	}

	f.now = f.now.Add(2 * time.Hour)

	page, err := f.markets.ListMarkets(ctx, domain.ListOpts{Status: domain.MarketStatusLocked, Limit: 2})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(page) != 2 || page[0].ID != 3 || page[1].ID != 2 {
		t.Fatalf("locked page = %+v, want markets 3 and 2", page)
	}

	rest, err := f.markets.ListMarkets(ctx, domain.ListOpts{Status: domain.MarketStatusLocked, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != 1 {
		t.Fatalf("locked offset page = %+v, want just market 1", rest)
	}

	active, err := f.markets.ListMarkets(ctx, domain.ListOpts{Status: domain.MarketStatusActive, Limit: 3})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(active) != 2 || active[0].ID != 5 || active[1].ID != 4 {
		t.Fatalf("active page = %+v, want markets 5 and 4", active)
	}
}
