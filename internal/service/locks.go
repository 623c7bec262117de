package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

const (
	// marketLockTTL bounds how long a crashed holder can block a market.
	marketLockTTL     = 10 * time.Second
	lockRetryInterval = 25 * time.Millisecond
)

// Locks serializes mutating operations per market. A process-local mutex
// provides the single-writer discipline within one instance; the optional
// distributed LockManager extends it across replicas. The market and bet
// services must share one instance.
type Locks struct {
	local sync.Map // market id -> *sync.Mutex
	dist  domain.LockManager
}

// NewLocks creates the per-market lock set. dist may be nil in
// single-instance setups.
func NewLocks(dist domain.LockManager) *Locks {
	return &Locks{dist: dist}
}

// lock blocks until the market's lock is held or ctx is done. The returned
// unlock is safe to call more than once.
func (l *Locks) lock(ctx context.Context, marketID uint64) (func(), error) {
	v, _ := l.local.LoadOrStore(marketID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	if l.dist == nil {
		var once sync.Once
		return func() { once.Do(mu.Unlock) }, nil
	}

	key := fmt.Sprintf("market:%d", marketID)
	for {
		release, err := l.dist.Acquire(ctx, key, marketLockTTL)
		if err == nil {
			var once sync.Once
			return func() {
				once.Do(func() {
					release()
					mu.Unlock()
				})
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			mu.Unlock()
			return nil, fmt.Errorf("service: acquire market lock %q: %w", key, err)
		}
		select {
		case <-ctx.Done():
			mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
