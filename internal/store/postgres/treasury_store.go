package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// TreasuryStore implements domain.Treasury using PostgreSQL. Every transfer
// writes a journal row alongside the balance updates in one transaction.
type TreasuryStore struct {
	pool *pgxpool.Pool
}

// NewTreasuryStore creates a new TreasuryStore backed by the given pool.
func NewTreasuryStore(pool *pgxpool.Pool) *TreasuryStore {
	return &TreasuryStore{pool: pool}
}

// Debit moves funds with a balance guard on the source account. A short
// balance fails with ErrInsufficientFunds and leaves nothing behind.
func (s *TreasuryStore) Debit(ctx context.Context, t domain.Transfer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: debit: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $2, updated_at = NOW()
		WHERE address = $1 AND balance >= $2`,
		t.From, t.Amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", t.From, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s amount %d: %w", t.From, t.Amount, domain.ErrInsufficientFunds)
	}

	if err := creditAccount(ctx, tx, t.To, t.Amount); err != nil {
		return fmt.Errorf("postgres: debit: credit %s: %w", t.To, err)
	}
	if err := journal(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: debit: commit: %w", err)
	}
	return nil
}

// Credit moves funds without guarding the source balance. Market escrow
// accounts may run negative when capped rewards exceed the wagered pool.
func (s *TreasuryStore) Credit(ctx context.Context, t domain.Transfer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: credit: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := creditAccount(ctx, tx, t.From, -t.Amount); err != nil {
		return fmt.Errorf("postgres: credit: debit %s: %w", t.From, err)
	}
	if err := creditAccount(ctx, tx, t.To, t.Amount); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", t.To, err)
	}
	if err := journal(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: credit: commit: %w", err)
	}
	return nil
}

// Balance reports an account's balance. Unknown accounts read as zero.
func (s *TreasuryStore) Balance(ctx context.Context, address string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE address = $1", address,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", address, err)
	}
	return balance, nil
}

func creditAccount(ctx context.Context, tx pgx.Tx, address string, delta int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			balance    = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`,
		address, delta,
	)
	return err
}

func journal(ctx context.Context, tx pgx.Tx, t domain.Transfer) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transfers (id, from_address, to_address, amount, kind, market_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.From, t.To, t.Amount, string(t.Kind), t.MarketID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: journal transfer %s: %w", t.ID, err)
	}
	return nil
}
