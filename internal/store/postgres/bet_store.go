package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `market_id, bettor, option, amount, placed_at, claimed, reward_amount`

func scanBet(row pgx.Row) (domain.Bet, error) {
	var b domain.Bet
	err := row.Scan(
		&b.MarketID, &b.Bettor, &b.Option, &b.Amount,
		&b.PlacedAt, &b.Claimed, &b.RewardAmount,
	)
	return b, err
}

// ApplyWager upserts the bet row, accumulating the amount on repeat wagers,
// and increments the market's option pool in the same transaction.
func (s *BetStore) ApplyWager(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: apply wager: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO bets (market_id, bettor, option, amount, placed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, bettor, option) DO UPDATE SET
			amount    = bets.amount + EXCLUDED.amount,
			placed_at = EXCLUDED.placed_at
		RETURNING `+betCols,
		b.MarketID, b.Bettor, b.Option, b.Amount, b.PlacedAt,
	)
	stored, err := scanBet(row)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: apply wager: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE market_pools SET amount = amount + $3
		WHERE market_id = $1 AND option = $2`,
		b.MarketID, b.Option, b.Amount,
	)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: apply wager: pool update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Bet{}, fmt.Errorf("postgres: apply wager: market %d option %d pool missing: %w",
			b.MarketID, b.Option, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: apply wager: commit: %w", err)
	}
	return stored, nil
}

// Get retrieves one bet by its (market, bettor, option) key.
func (s *BetStore) Get(ctx context.Context, marketID uint64, bettor string, option int) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+betCols+` FROM bets
		WHERE market_id = $1 AND bettor = $2 AND option = $3`,
		marketID, bettor, option,
	)
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d/%s/%d: %w", marketID, bettor, option, err)
	}
	return b, nil
}

// ListByMarket returns a market's bets, optionally filtered to one bettor.
func (s *BetStore) ListByMarket(ctx context.Context, marketID uint64, bettor string) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE market_id = $1`
	args := []any{marketID}
	if bettor != "" {
		query += ` AND bettor = $2`
		args = append(args, bettor)
	}
	query += ` ORDER BY placed_at DESC, bettor, option`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// ListClaimable returns the bettor's unclaimed winning bets on resolved
// markets, paired with each market's question.
func (s *BetStore) ListClaimable(ctx context.Context, bettor string) ([]domain.ClaimableReward, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.market_id, b.bettor, b.option, b.amount,
		       b.placed_at, b.claimed, b.reward_amount, m.question
		FROM bets b
		JOIN markets m ON m.id = b.market_id
		WHERE b.bettor = $1 AND b.reward_amount > 0 AND NOT b.claimed
		      AND m.status = 'resolved'
		ORDER BY b.market_id`,
		bettor,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claimable for %s: %w", bettor, err)
	}
	defer rows.Close()

	var out []domain.ClaimableReward
	for rows.Next() {
		var c domain.ClaimableReward
		if err := rows.Scan(
			&c.Bet.MarketID, &c.Bet.Bettor, &c.Bet.Option, &c.Bet.Amount,
			&c.Bet.PlacedAt, &c.Bet.Claimed, &c.Bet.RewardAmount, &c.Question,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan claimable: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list claimable rows: %w", err)
	}
	return out, nil
}

// ListSettledBefore returns bets on markets resolved strictly before the
// cutoff. Used by the settlement archiver.
func (s *BetStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.market_id, b.bettor, b.option, b.amount,
		       b.placed_at, b.claimed, b.reward_amount
		FROM bets b
		JOIN markets m ON m.id = b.market_id
		WHERE m.status = 'resolved' AND m.resolved_at < $1
		ORDER BY b.market_id, b.bettor, b.option`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settled bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settled rows: %w", err)
	}
	return bets, nil
}

// SetClaimed flips the claimed flag on one bet.
func (s *BetStore) SetClaimed(ctx context.Context, marketID uint64, bettor string, option int, claimed bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bets SET claimed = $4
		WHERE market_id = $1 AND bettor = $2 AND option = $3`,
		marketID, bettor, option, claimed,
	)
	if err != nil {
		return fmt.Errorf("postgres: set claimed %d/%s/%d: %w", marketID, bettor, option, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
