package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

func newStores() (*MarketStore, *BetStore) {
	bets := NewBetStore()
	markets := NewMarketStore(bets)
	bets.Bind(markets)
	return markets, bets
}

func activeMarket(question string, createdAt time.Time) domain.Market {
	return domain.Market{
		Creator:            "0xc0ffee",
		Question:           question,
		Options:            []string{"Yes", "No"},
		EndTime:            createdAt.Add(time.Hour),
		Status:             domain.MarketStatusActive,
		BetsByOption:       []int64{0, 0},
		CorrectAnswer:      domain.NoAnswer,
		MaxRewardPerWinner: 10,
		CreatedAt:          createdAt,
	}
}

func TestMarketStoreAssignsMonotonicIDs(t *testing.T) {
	markets, _ := newStores()
	ctx := context.Background()
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	for want := uint64(1); want <= 3; want++ {
		m, err := markets.Create(ctx, activeMarket("q?", base))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if m.ID != want {
			t.Errorf("market id = %d, want %d", m.ID, want)
		}
	}

	count, err := markets.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}

	if _, err := markets.GetByID(ctx, 99); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("GetByID unknown: error = %v, want ErrMarketNotFound", err)
	}
}

func TestMarketStoreListFilters(t *testing.T) {
	markets, _ := newStores()
	ctx := context.Background()
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	first, _ := markets.Create(ctx, activeMarket("first?", base))
	m := activeMarket("second?", base.Add(time.Minute))
	m.Creator = "0xother"
	second, _ := markets.Create(ctx, m)
	if err := markets.Resolve(ctx, first.ID, 0, base.Add(2*time.Hour), nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	all, err := markets.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("List = %+v, want newest first", all)
	}

	resolved, err := markets.List(ctx, domain.ListOpts{Status: domain.MarketStatusResolved})
	if err != nil {
		t.Fatalf("List resolved: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ID != first.ID {
		t.Errorf("resolved filter = %+v, want market %d", resolved, first.ID)
	}

	byCreator, err := markets.List(ctx, domain.ListOpts{Creator: "0xother"})
	if err != nil {
		t.Fatalf("List by creator: %v", err)
	}
	if len(byCreator) != 1 || byCreator[0].ID != second.ID {
		t.Errorf("creator filter = %+v, want market %d", byCreator, second.ID)
	}

	page, err := markets.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) != 1 || page[0].ID != first.ID {
		t.Errorf("page = %+v, want market %d", page, first.ID)
	}
	if past, _ := markets.List(ctx, domain.ListOpts{Offset: 10}); len(past) != 0 {
		t.Errorf("offset past the end = %+v, want empty", past)
	}

	// Deadline bounds: first closes at base+1h, second a minute later.
	ended, err := markets.List(ctx, domain.ListOpts{EndedBy: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("List ended: %v", err)
	}
	if len(ended) != 1 || ended[0].ID != first.ID {
		t.Errorf("EndedBy filter = %+v, want market %d", ended, first.ID)
	}
	stillOpen, err := markets.List(ctx, domain.ListOpts{EndsAfter: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("List open: %v", err)
	}
	if len(stillOpen) != 1 || stillOpen[0].ID != second.ID {
		t.Errorf("EndsAfter filter = %+v, want market %d", stillOpen, second.ID)
	}
}

func TestApplyWagerAccumulatesIntoPool(t *testing.T) {
	markets, bets := newStores()
	ctx := context.Background()
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	m, _ := markets.Create(ctx, activeMarket("q?", base))

	wager := domain.Bet{MarketID: m.ID, Bettor: "0xa11ce", Option: 0, Amount: 5, PlacedAt: base}
	if _, err := bets.ApplyWager(ctx, wager); err != nil {
		t.Fatalf("ApplyWager: %v", err)
	}
	wager.Amount = 3
	wager.PlacedAt = base.Add(time.Minute)
	got, err := bets.ApplyWager(ctx, wager)
	if err != nil {
		t.Fatalf("ApplyWager: %v", err)
	}
	if got.Amount != 8 {
		t.Errorf("cumulative amount = %d, want 8", got.Amount)
	}
	if !got.PlacedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("placed at = %v, want the latest wager time", got.PlacedAt)
	}

	stored, err := markets.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.BetsByOption[0] != 8 {
		t.Errorf("pool = %v, want option 0 at 8", stored.BetsByOption)
	}

	if _, err := bets.ApplyWager(ctx, domain.Bet{MarketID: 99, Bettor: "0xa11ce", Option: 0, Amount: 1}); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("wager on unknown market: error = %v, want ErrMarketNotFound", err)
	}
	if _, err := bets.Get(ctx, m.ID, "0xa11ce", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing bet: error = %v, want ErrNotFound", err)
	}
}

func TestResolveSettlesRewards(t *testing.T) {
	markets, bets := newStores()
	ctx := context.Background()
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	m, _ := markets.Create(ctx, activeMarket("q?", base))

	bets.ApplyWager(ctx, domain.Bet{MarketID: m.ID, Bettor: "0xa11ce", Option: 0, Amount: 5, PlacedAt: base})
	bets.ApplyWager(ctx, domain.Bet{MarketID: m.ID, Bettor: "0xb0b", Option: 1, Amount: 3, PlacedAt: base})

	resolvedAt := base.Add(2 * time.Hour)
	err := markets.Resolve(ctx, m.ID, 0, resolvedAt, []domain.RewardUpdate{
		{Bettor: "0xa11ce", Option: 0, Amount: 10},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	stored, _ := markets.GetByID(ctx, m.ID)
	if stored.Status != domain.MarketStatusResolved || stored.CorrectAnswer != 0 {
		t.Errorf("market after resolve = %+v, want resolved with answer 0", stored)
	}
	if stored.ResolvedAt == nil || !stored.ResolvedAt.Equal(resolvedAt) {
		t.Errorf("resolved at = %v, want %v", stored.ResolvedAt, resolvedAt)
	}

	winner, _ := bets.Get(ctx, m.ID, "0xa11ce", 0)
	if winner.RewardAmount != 10 {
		t.Errorf("winner reward = %d, want 10", winner.RewardAmount)
	}
	loser, _ := bets.Get(ctx, m.ID, "0xb0b", 1)
	if loser.RewardAmount != 0 {
		t.Errorf("loser reward = %d, want 0", loser.RewardAmount)
	}

	if err := markets.Resolve(ctx, m.ID, 0, resolvedAt, nil); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second Resolve: error = %v, want ErrAlreadyResolved", err)
	}
	if err := markets.Resolve(ctx, 99, 0, resolvedAt, nil); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("Resolve unknown: error = %v, want ErrMarketNotFound", err)
	}
}

func TestListClaimableSkipsUnresolvedMarkets(t *testing.T) {
	markets, bets := newStores()
	ctx := context.Background()
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	settled, _ := markets.Create(ctx, activeMarket("settled?", base))
	open, _ := markets.Create(ctx, activeMarket("open?", base))

	bets.ApplyWager(ctx, domain.Bet{MarketID: settled.ID, Bettor: "0xa11ce", Option: 0, Amount: 5, PlacedAt: base})
	bets.ApplyWager(ctx, domain.Bet{MarketID: open.ID, Bettor: "0xa11ce", Option: 0, Amount: 5, PlacedAt: base})

	markets.Resolve(ctx, settled.ID, 0, base.Add(2*time.Hour), []domain.RewardUpdate{
		{Bettor: "0xa11ce", Option: 0, Amount: 10},
	})

	claimable, err := bets.ListClaimable(ctx, "0xa11ce")
	if err != nil {
		t.Fatalf("ListClaimable: %v", err)
	}
	if len(claimable) != 1 {
		t.Fatalf("claimable = %d entries, want 1", len(claimable))
	}
	if claimable[0].Bet.MarketID != settled.ID || claimable[0].Question != "settled?" {
		t.Errorf("claimable = %+v, want the settled market's bet", claimable[0])
	}

	if err := bets.SetClaimed(ctx, settled.ID, "0xa11ce", 0, true); err != nil {
		t.Fatalf("SetClaimed: %v", err)
	}
	if claimable, _ := bets.ListClaimable(ctx, "0xa11ce"); len(claimable) != 0 {
		t.Errorf("claimable after claim = %d entries, want 0", len(claimable))
	}

	if err := bets.SetClaimed(ctx, settled.ID, "0xnobody", 0, true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SetClaimed missing bet: error = %v, want ErrNotFound", err)
	}
}

func TestTreasuryDebitGuard(t *testing.T) {
	tr := NewTreasury()
	ctx := context.Background()
	tr.Seed("0xa11ce", 5)

	err := tr.Debit(ctx, domain.Transfer{From: "0xa11ce", To: "market:1", Amount: 8, Kind: domain.TransferWager})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("over-debit: error = %v, want ErrInsufficientFunds", err)
	}
	if bal, _ := tr.Balance(ctx, "0xa11ce"); bal != 5 {
		t.Errorf("balance after failed debit = %d, want 5", bal)
	}
	if len(tr.Transfers()) != 0 {
		t.Errorf("journal after failed debit = %d entries, want 0", len(tr.Transfers()))
	}

	if err := tr.Debit(ctx, domain.Transfer{From: "0xa11ce", To: "market:1", Amount: 5, Kind: domain.TransferWager}); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal, _ := tr.Balance(ctx, "market:1"); bal != 5 {
		t.Errorf("escrow balance = %d, want 5", bal)
	}
}

func TestTreasuryCreditAllowsNegativeEscrow(t *testing.T) {
	tr := NewTreasury()
	ctx := context.Background()

	// Capped rewards can pay out more than the pool took in; the escrow
	// account absorbs the difference.
	err := tr.Credit(ctx, domain.Transfer{From: "market:1", To: "0xa11ce", Amount: 10, Kind: domain.TransferReward})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if bal, _ := tr.Balance(ctx, "market:1"); bal != -10 {
		t.Errorf("escrow balance = %d, want -10", bal)
	}
	if bal, _ := tr.Balance(ctx, "0xa11ce"); bal != 10 {
		t.Errorf("bettor balance = %d, want 10", bal)
	}
}

func TestTreasuryDefaultBalance(t *testing.T) {
	tr := NewTreasury().WithDefaultBalance(1000)
	ctx := context.Background()

	if bal, _ := tr.Balance(ctx, "0xfresh"); bal != 1000 {
		t.Errorf("untouched account balance = %d, want 1000", bal)
	}
	if err := tr.Debit(ctx, domain.Transfer{From: "0xfresh", To: "market:1", Amount: 400, Kind: domain.TransferWager}); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal, _ := tr.Balance(ctx, "0xfresh"); bal != 600 {
		t.Errorf("balance after debit = %d, want 600", bal)
	}
}

func TestSignalBusPubSub(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exact, err := bus.Subscribe(ctx, "market:1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	pattern, err := bus.Subscribe(ctx, "market:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	other, err := bus.Subscribe(ctx, "bets")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "market:1", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, ch := range map[string]<-chan []byte{"exact": exact, "pattern": pattern} {
		select {
		case msg := <-ch:
			if string(msg) != "hello" {
				t.Errorf("%s subscriber got %q, want %q", name, msg, "hello")
			}
		case <-time.After(time.Second):
			t.Errorf("%s subscriber received nothing", name)
		}
	}
	select {
	case msg := <-other:
		t.Errorf("unrelated subscriber got %q", msg)
	default:
	}
}

func TestSignalBusStream(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()

	for _, payload := range []string{"one", "two", "three"} {
		if err := bus.StreamAppend(ctx, "ledger:events", []byte(payload)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}

	all, err := bus.StreamRead(ctx, "ledger:events", "0", 0)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("StreamRead = %d entries, want 3", len(all))
	}
	for i, want := range []string{"one", "two", "three"} {
		if string(all[i].Payload) != want {
			t.Errorf("entry %d = %q, want %q", i, all[i].Payload, want)
		}
	}

	rest, err := bus.StreamRead(ctx, "ledger:events", all[0].ID, 1)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(rest) != 1 || string(rest[0].Payload) != "two" {
		t.Errorf("resumed read = %+v, want just %q", rest, "two")
	}

	if empty, _ := bus.StreamRead(ctx, "missing", "0", 0); len(empty) != 0 {
		t.Errorf("read of missing stream = %d entries, want 0", len(empty))
	}
}

func TestAuditStoreList(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	for _, event := range []string{"market_created", "bet_placed", "market_resolved"} {
		if err := store.Log(ctx, event, map[string]any{"market_id": uint64(1)}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	entries, err := store.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List = %d entries, want 2", len(entries))
	}
	if entries[0].Event != "market_resolved" || entries[1].Event != "bet_placed" {
		t.Errorf("List order = [%s %s], want newest first", entries[0].Event, entries[1].Event)
	}

	page, err := store.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 1 || page[0].Event != "market_created" {
		t.Errorf("second page = %+v, want just market_created", page)
	}
}
