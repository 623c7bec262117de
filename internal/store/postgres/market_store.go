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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// marketCols selects a full market including its aggregated per-option
// pools, which requires the GROUP BY in marketQuery.
const marketQuery = `
	SELECT m.id, m.creator, m.question, m.description, m.options,
	       m.end_time, m.status, m.correct_answer, m.max_reward_per_winner,
	       m.created_at, m.resolved_at,
	       COALESCE(array_agg(p.amount ORDER BY p.option)
	                FILTER (WHERE p.option IS NOT NULL), '{}')
	FROM markets m
	LEFT JOIN market_pools p ON p.market_id = m.id`

const marketGroup = ` GROUP BY m.id`

// Create inserts the market and one zeroed pool row per option, returning
// the stored market with its assigned id. IDs are generated by the database
// identity sequence and are strictly monotonically increasing.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) (domain.Market, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: create market: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO markets (
			creator, question, description, options, end_time,
			status, correct_answer, max_reward_per_winner, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		m.Creator, m.Question, m.Description, m.Options, m.EndTime,
		string(m.Status), m.CorrectAnswer, m.MaxRewardPerWinner, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: create market: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO market_pools (market_id, option)
		SELECT $1, generate_series(0, $2 - 1)`,
		m.ID, len(m.Options),
	); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: create market %d pools: %w", m.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: create market %d: commit: %w", m.ID, err)
	}

	m.BetsByOption = make([]int64, len(m.Options))
	return m, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.Creator, &m.Question, &m.Description, &m.Options,
		&m.EndTime, &status, &m.CorrectAnswer, &m.MaxRewardPerWinner,
		&m.CreatedAt, &m.ResolvedAt, &m.BetsByOption,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, marketQuery+` WHERE m.id = $1`+marketGroup, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first with optional persisted-status and
// creator filters.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := marketQuery + ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND m.status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Creator != "" {
		query += fmt.Sprintf(" AND m.creator = $%d", argIdx)
		args = append(args, opts.Creator)
		argIdx++
	}
	if !opts.EndedBy.IsZero() {
		query += fmt.Sprintf(" AND m.end_time <= $%d", argIdx)
		args = append(args, opts.EndedBy)
		argIdx++
	}
	if !opts.EndsAfter.IsZero() {
		query += fmt.Sprintf(" AND m.end_time > $%d", argIdx)
		args = append(args, opts.EndsAfter)
		argIdx++
	}

	query += marketGroup + " ORDER BY m.created_at DESC, m.id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// ListResolvedBefore returns markets resolved strictly before the cutoff,
// oldest first. Used by the settlement archiver.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		marketQuery+` WHERE m.status = 'resolved' AND m.resolved_at < $1`+marketGroup+
			` ORDER BY m.resolved_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolved market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolved rows: %w", err)
	}
	return markets, nil
}

// Resolve flips the market to resolved and settles every winning bet's
// reward in one transaction. A market that is already resolved (or gone)
// is reported as such rather than silently re-settled.
func (s *MarketStore) Resolve(ctx context.Context, id uint64, answer int, resolvedAt time.Time, rewards []domain.RewardUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %d: begin: %w", id, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE markets
		SET status = 'resolved', correct_answer = $2, resolved_at = $3
		WHERE id = $1 AND status = 'active'`,
		id, answer, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: resolve market %d: %w", id, err)
		}
		if !exists {
			return domain.ErrMarketNotFound
		}
		return domain.ErrAlreadyResolved
	}

	if len(rewards) > 0 {
		batch := &pgx.Batch{}
		for _, r := range rewards {
			batch.Queue(`
				UPDATE bets SET reward_amount = $4
				WHERE market_id = $1 AND bettor = $2 AND option = $3`,
				id, r.Bettor, r.Option, r.Amount,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range rewards {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: resolve market %d: reward %d: %w", id, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: resolve market %d: close batch: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: resolve market %d: commit: %w", id, err)
	}
	return nil
}
