package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/server/middleware"
	"github.com/alanyoungcy/marketledger/internal/service"
	"github.com/alanyoungcy/marketledger/internal/store/memory"
)

const (
	testCreator = "0xc0ffee"
	testAlice   = "0xa11ce"
	testBob     = "0xb0b"
)

// apiHarness runs the market and bet handlers behind the identity middleware
// on the same routes the server registers, backed by the in-memory stores.
type apiHarness struct {
	mux      http.Handler
	treasury *memory.Treasury
	now      time.Time
	markets  *service.MarketService
}

func newAPIHarness() *apiHarness {
	betStore := memory.NewBetStore()
	marketStore := memory.NewMarketStore(betStore)
	betStore.Bind(marketStore)

	h := &apiHarness{
		treasury: memory.NewTreasury(),
		now:      time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := service.NewLocks(nil)

	h.markets = service.NewMarketService(marketStore, betStore, nil, locks, nil, nil, logger).
		WithNow(clock)
	bets := service.NewBetService(marketStore, betStore, h.treasury, nil, locks, nil, nil, nil, logger).
		WithNow(clock)

	marketHandler := NewMarketHandler(h.markets, logger)
	betHandler := NewBetHandler(bets, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", marketHandler.ListMarkets)
	mux.HandleFunc("POST /api/markets", marketHandler.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", marketHandler.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", marketHandler.ResolveMarket)
	mux.HandleFunc("GET /api/markets/{id}/bets", betHandler.ListBets)
	mux.HandleFunc("POST /api/markets/{id}/bets", betHandler.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/claims", betHandler.ClaimReward)
	mux.HandleFunc("GET /api/rewards/{address}", betHandler.ListClaimable)
	mux.HandleFunc("GET /api/balances/{address}", betHandler.GetBalance)
	h.mux = middleware.Identity()(mux)
	return h
}

// do performs a request as the given caller and decodes the JSON response
// into out when it is non-nil.
func (h *apiHarness) do(t *testing.T, method, path, as string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if as != "" {
		req.Header.Set("X-Ledger-Address", as)
	}

	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func (h *apiHarness) createMarket(t *testing.T) domain.Market {
	t.Helper()
	var m domain.Market
	rec := h.do(t, http.MethodPost, "/api/markets", testCreator, map[string]any{
		"question":              "Will it rain tomorrow?",
		"options":               []string{"Yes", "No"},
		"duration_seconds":      3600,
		"max_reward_per_winner": 10,
	}, &m)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: status %d body %s", rec.Code, rec.Body.String())
	}
	return m
}

func TestMarketAndClaimFlow(t *testing.T) {
	h := newAPIHarness()
	h.treasury.Seed(testAlice, 100)
	h.treasury.Seed(testBob, 100)

	m := h.createMarket(t)
	if m.ID != 1 || m.Status != domain.MarketStatusActive {
		t.Fatalf("created market = %+v", m)
	}

	var bet domain.Bet
	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/bets", m.ID), testAlice,
		map[string]any{"option": 0, "amount": 5}, &bet)
	if rec.Code != http.StatusCreated {
		t.Fatalf("place bet: status %d body %s", rec.Code, rec.Body.String())
	}
	if bet.Amount != 5 || bet.Option != 0 || bet.Bettor != testAlice {
		t.Errorf("bet = %+v", bet)
	}

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/bets", m.ID), testBob,
		map[string]any{"option": 1, "amount": 3}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("place bet: status %d body %s", rec.Code, rec.Body.String())
	}

	var got domain.Market
	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/markets/%d", m.ID), "", nil, &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("get market: status %d", rec.Code)
	}
	if got.TotalPool() != 8 {
		t.Errorf("pool = %d, want 8", got.TotalPool())
	}

	// Resolution needs the deadline to pass.
	h.now = h.now.Add(2 * time.Hour)
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/resolve", m.ID), testCreator,
		map[string]any{"answer": 0}, &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d body %s", rec.Code, rec.Body.String())
	}
	if got.Status != domain.MarketStatusResolved || got.CorrectAnswer != 0 {
		t.Errorf("resolved market = %+v", got)
	}

	var rewards claimableResponse
	rec = h.do(t, http.MethodGet, "/api/rewards/"+testAlice, "", nil, &rewards)
	if rec.Code != http.StatusOK {
		t.Fatalf("list claimable: status %d", rec.Code)
	}
	if len(rewards.Rewards) != 1 || rewards.Rewards[0].Bet.RewardAmount != 10 {
		t.Fatalf("claimable = %+v, want one reward of 10", rewards.Rewards)
	}

	// The claim names only the market; the winning option is derived.
	var claim claimResponse
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", m.ID), testAlice, nil, &claim)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d body %s", rec.Code, rec.Body.String())
	}
	if claim.Amount != 10 {
		t.Errorf("claimed = %d, want 10", claim.Amount)
	}

	// A repeat claim conflicts and pays nothing.
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", m.ID), testAlice, nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("repeat claim: status %d, want 409", rec.Code)
	}

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", m.ID), testBob, nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("losing claim: status %d, want 409", rec.Code)
	}

	var balance balanceResponse
	rec = h.do(t, http.MethodGet, "/api/balances/"+testAlice, "", nil, &balance)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: status %d", rec.Code)
	}
	if balance.Balance != 105 {
		t.Errorf("alice balance = %d, want 105", balance.Balance)
	}
}

func TestHandlerErrorStatuses(t *testing.T) {
	h := newAPIHarness()
	h.treasury.Seed(testAlice, 100)
	m := h.createMarket(t)

	tests := []struct {
		name   string
		method string
		path   string
		as     string
		body   any
		want   int
	}{
		{"create without identity", http.MethodPost, "/api/markets", "",
			map[string]any{"question": "q?", "options": []string{"A", "B"}, "duration_seconds": 60, "max_reward_per_winner": 1},
			http.StatusUnauthorized},
		{"create with one option", http.MethodPost, "/api/markets", testCreator,
			map[string]any{"question": "q?", "options": []string{"A"}, "duration_seconds": 60, "max_reward_per_winner": 1},
			http.StatusBadRequest},
		{"get unknown market", http.MethodGet, "/api/markets/999", "", nil, http.StatusNotFound},
		{"get malformed market id", http.MethodGet, "/api/markets/abc", "", nil, http.StatusBadRequest},
		{"bet on unknown market", http.MethodPost, "/api/markets/999/bets", testAlice,
			map[string]any{"option": 0, "amount": 5}, http.StatusNotFound},
		{"bet with bad option", http.MethodPost, fmt.Sprintf("/api/markets/%d/bets", m.ID), testAlice,
			map[string]any{"option": 9, "amount": 5}, http.StatusBadRequest},
		{"bet with zero amount", http.MethodPost, fmt.Sprintf("/api/markets/%d/bets", m.ID), testAlice,
			map[string]any{"option": 0, "amount": 0}, http.StatusBadRequest},
		{"bet over balance", http.MethodPost, fmt.Sprintf("/api/markets/%d/bets", m.ID), testBob,
			map[string]any{"option": 0, "amount": 5}, http.StatusPaymentRequired},
		{"resolve by non-creator", http.MethodPost, fmt.Sprintf("/api/markets/%d/resolve", m.ID), testAlice,
			map[string]any{"answer": 0}, http.StatusForbidden},
		{"resolve before deadline", http.MethodPost, fmt.Sprintf("/api/markets/%d/resolve", m.ID), testCreator,
			map[string]any{"answer": 0}, http.StatusConflict},
		{"claim before resolve", http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", m.ID), testAlice,
			nil, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.as, tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			var errBody map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil {
				t.Fatalf("error body %q is not JSON: %v", rec.Body.String(), err)
			}
			if errBody["error"] == "" {
				t.Errorf("error body %q has no error message", rec.Body.String())
			}
		})
	}
}

func TestListMarketsPaginationAndFilters(t *testing.T) {
	h := newAPIHarness()
	for i := 0; i < 3; i++ {
		h.createMarket(t)
		h.now = h.now.Add(time.Minute)
	}

	var list listMarketsResponse
	rec := h.do(t, http.MethodGet, "/api/markets?limit=2&offset=1", "", nil, &list)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	if list.Total != 3 || len(list.Markets) != 2 {
		t.Fatalf("list = %d markets of %d total, want 2 of 3", len(list.Markets), list.Total)
	}
	if list.Markets[0].ID != 2 || list.Markets[1].ID != 1 {
		t.Errorf("page ids = [%d %d], want [2 1]", list.Markets[0].ID, list.Markets[1].ID)
	}
	if list.Limit != 2 || list.Offset != 1 {
		t.Errorf("echoed limit/offset = %d/%d, want 2/1", list.Limit, list.Offset)
	}

	// The locked filter is served from the derived status.
	h.now = h.now.Add(2 * time.Hour)
	rec = h.do(t, http.MethodGet, "/api/markets?status=locked", "", nil, &list)
	if rec.Code != http.StatusOK {
		t.Fatalf("list locked: status %d", rec.Code)
	}
	if len(list.Markets) != 3 {
		t.Errorf("locked markets = %d, want 3", len(list.Markets))
	}
	for _, m := range list.Markets {
		if m.Status != domain.MarketStatusLocked {
			t.Errorf("market %d status = %q, want locked", m.ID, m.Status)
		}
	}
}

func TestListBetsFilterByBettor(t *testing.T) {
	h := newAPIHarness()
	h.treasury.Seed(testAlice, 100)
	h.treasury.Seed(testBob, 100)
	m := h.createMarket(t)

	h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/bets", m.ID), testAlice,
		map[string]any{"option": 0, "amount": 5}, nil)
	h.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/bets", m.ID), testBob,
		map[string]any{"option": 1, "amount": 3}, nil)

	var list listBetsResponse
	rec := h.do(t, http.MethodGet, fmt.Sprintf("/api/markets/%d/bets", m.ID), "", nil, &list)
	if rec.Code != http.StatusOK {
		t.Fatalf("list bets: status %d", rec.Code)
	}
	if len(list.Bets) != 2 {
		t.Fatalf("bets = %d, want 2", len(list.Bets))
	}

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/markets/%d/bets?bettor=%s", m.ID, testAlice), "", nil, &list)
	if rec.Code != http.StatusOK {
		t.Fatalf("list bets filtered: status %d", rec.Code)
	}
	if len(list.Bets) != 1 || list.Bets[0].Bettor != testAlice {
		t.Errorf("filtered bets = %+v, want just alice's", list.Bets)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrInvalidOption, http.StatusBadRequest},
		{domain.ErrInvalidAnswer, http.StatusBadRequest},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrMarketNotFound, http.StatusNotFound},
		{domain.ErrNoBetFound, http.StatusNotFound},
		{domain.ErrMarketNotActive, http.StatusConflict},
		{domain.ErrMarketExpired, http.StatusConflict},
		{domain.ErrMarketNotExpired, http.StatusConflict},
		{domain.ErrAlreadyResolved, http.StatusConflict},
		{domain.ErrMarketNotResolved, http.StatusConflict},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrNoReward, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrLockHeld, http.StatusServiceUnavailable},
		{errors.New("database on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("bet_service: op: %w", tt.err)
		if got := errorStatus(wrapped); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSentinelTextUnwraps(t *testing.T) {
	err := fmt.Errorf("bet_service: claim on market 7: %w", domain.ErrAlreadyClaimed)
	if got := sentinelText(err); got != domain.ErrAlreadyClaimed.Error() {
		t.Errorf("sentinelText = %q, want %q", got, domain.ErrAlreadyClaimed.Error())
	}

	plain := errors.New("database on fire")
	if got := sentinelText(plain); got != "database on fire" {
		t.Errorf("sentinelText = %q, want the original message", got)
	}
}
