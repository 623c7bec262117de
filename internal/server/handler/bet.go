package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// BetService defines the methods that the bet handler requires from the
// service layer.
type BetService interface {
	PlaceBet(ctx context.Context, caller string, marketID uint64, option int, amount int64) (domain.Bet, error)
	ClaimReward(ctx context.Context, caller string, marketID uint64) (int64, error)
	GetBets(ctx context.Context, marketID uint64, bettor string) ([]domain.Bet, error)
	GetClaimableRewards(ctx context.Context, bettor string) ([]domain.ClaimableReward, error)
	Balance(ctx context.Context, address string) (int64, error)
}

// BetHandler serves wagering and reward-claim HTTP endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetRequest is the JSON body for placing a wager.
type placeBetRequest struct {
	Option int   `json:"option"`
	Amount int64 `json:"amount"`
}

// PlaceBet wagers an amount on one option of an active market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bet, err := h.bets.PlaceBet(r.Context(), caller(r), id, req.Option, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}

	writeJSON(w, http.StatusCreated, bet)
}

// listBetsResponse wraps the bet list output.
type listBetsResponse struct {
	Bets []domain.Bet `json:"bets"`
}

// ListBets returns a market's bets, optionally filtered to one bettor.
// GET /api/markets/{id}/bets?bettor=0xabc
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	bets, err := h.bets.GetBets(r.Context(), id, r.URL.Query().Get("bettor"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bets", err)
		return
	}

	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets})
}

// claimResponse reports the paid-out amount.
type claimResponse struct {
	MarketID uint64 `json:"market_id"`
	Amount   int64  `json:"amount"`
}

// ClaimReward pays out the caller's winning bet on a resolved market. The
// winning option is the market's correct answer, so the request carries no
// body. A repeat claim is rejected and moves no funds.
// POST /api/markets/{id}/claims
func (h *BetHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	amount, err := h.bets.ClaimReward(r.Context(), caller(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim reward", err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		MarketID: id,
		Amount:   amount,
	})
}

// claimableResponse wraps the claimable rewards output.
type claimableResponse struct {
	Rewards []domain.ClaimableReward `json:"rewards"`
}

// ListClaimable returns the address's unclaimed winning bets across all
// resolved markets.
// GET /api/rewards/{address}
func (h *BetHandler) ListClaimable(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	rewards, err := h.bets.GetClaimableRewards(r.Context(), address)
	if err != nil {
		writeServiceError(w, r, h.logger, "list claimable rewards", err)
		return
	}

	if rewards == nil {
		rewards = []domain.ClaimableReward{}
	}
	writeJSON(w, http.StatusOK, claimableResponse{Rewards: rewards})
}

// balanceResponse reports an account balance.
type balanceResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// GetBalance returns the treasury balance of an account.
// GET /api/balances/{address}
func (h *BetHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}

	balance, err := h.bets.Balance(r.Context(), address)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Address: address,
		Balance: balance,
	})
}
