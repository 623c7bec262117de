package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Watcher bridges the signal bus to the notifier: it subscribes to the
// ledger event channels and turns each event into an operator notification,
// subject to the notifier's event filter.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher reading from the given bus.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// Run consumes events until ctx is done. It subscribes to both event
// groups; delivery failures are logged and consumption continues.
func (w *Watcher) Run(ctx context.Context) error {
	markets, err := w.bus.Subscribe(ctx, "markets")
	if err != nil {
		return fmt.Errorf("notify: subscribe markets: %w", err)
	}
	bets, err := w.bus.Subscribe(ctx, "bets")
	if err != nil {
		return fmt.Errorf("notify: subscribe bets: %w", err)
	}

	for {
		var payload []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-markets:
			if !ok {
				return nil
			}
			payload = msg
		case msg, ok := <-bets:
			if !ok {
				return nil
			}
			payload = msg
		}

		var evt domain.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			w.logger.WarnContext(ctx, "bad event payload",
				slog.String("error", err.Error()),
			)
			continue
		}

		title, message := format(evt)
		if err := w.notifier.Notify(ctx, string(evt.Kind), title, message); err != nil {
			w.logger.WarnContext(ctx, "notification failed",
				slog.String("event", string(evt.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func format(evt domain.Event) (title, message string) {
	switch evt.Kind {
	case domain.EventMarketCreated:
		return "Market created",
			fmt.Sprintf("Market %d created by %s", evt.MarketID, evt.Actor)
	case domain.EventBetPlaced:
		amount := int64(0)
		if evt.Amount != nil {
			amount = *evt.Amount
		}
		return "Bet placed",
			fmt.Sprintf("Market %d: %s wagered %d (pool %d)", evt.MarketID, evt.Actor, amount, evt.TotalPool)
	case domain.EventMarketResolved:
		answer := -1
		if evt.Option != nil {
			answer = *evt.Option
		}
		return "Market resolved",
			fmt.Sprintf("Market %d resolved by %s, answer %d, pool %d", evt.MarketID, evt.Actor, answer, evt.TotalPool)
	case domain.EventRewardClaimed:
		amount := int64(0)
		if evt.Amount != nil {
			amount = *evt.Amount
		}
		return "Reward claimed",
			fmt.Sprintf("Market %d: %s claimed %d", evt.MarketID, evt.Actor, amount)
	default:
		return string(evt.Kind), fmt.Sprintf("Market %d: %s", evt.MarketID, evt.Actor)
	}
}
