package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Treasury is an in-memory domain.Treasury with a transfer journal.
type Treasury struct {
	mu         sync.Mutex
	balances   map[string]int64
	transfers  []domain.Transfer
	defaultBal int64
}

// NewTreasury creates an empty Treasury.
func NewTreasury() *Treasury {
	return &Treasury{balances: make(map[string]int64)}
}

// WithDefaultBalance makes accounts start at balance on first touch instead
// of zero. Used by dev mode so any caller can wager immediately.
func (t *Treasury) WithDefaultBalance(balance int64) *Treasury {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultBal = balance
	return t
}

// Seed sets an account balance directly. Used by tests and dev mode.
func (t *Treasury) Seed(address string, balance int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[address] = balance
}

// ensure initialises an account at the default balance on first touch.
// Caller holds the mutex.
func (t *Treasury) ensure(address string) {
	if _, ok := t.balances[address]; !ok {
		t.balances[address] = t.defaultBal
	}
}

// Debit moves funds with a balance guard on the source account.
func (t *Treasury) Debit(_ context.Context, tr domain.Transfer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure(tr.From)
	if t.balances[tr.From] < tr.Amount {
		return fmt.Errorf("memory: debit %s amount %d: %w", tr.From, tr.Amount, domain.ErrInsufficientFunds)
	}
	t.balances[tr.From] -= tr.Amount
	t.balances[tr.To] += tr.Amount
	t.journal(tr)
	return nil
}

// Credit moves funds without guarding the source balance; escrow accounts
// may run negative when capped rewards exceed the pool.
func (t *Treasury) Credit(_ context.Context, tr domain.Transfer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure(tr.To)
	t.balances[tr.From] -= tr.Amount
	t.balances[tr.To] += tr.Amount
	t.journal(tr)
	return nil
}

// Balance reports an account's balance. Untouched accounts read as the
// default balance.
func (t *Treasury) Balance(_ context.Context, address string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bal, ok := t.balances[address]; ok {
		return bal, nil
	}
	return t.defaultBal, nil
}

// Transfers returns a copy of the journal, oldest first.
func (t *Treasury) Transfers() []domain.Transfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Transfer(nil), t.transfers...)
}

func (t *Treasury) journal(tr domain.Transfer) {
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	t.transfers = append(t.transfers, tr)
}
