package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// EventStream is the durable stream every ledger event is appended to, in
// addition to the volatile pub/sub channels the dashboard listens on. The
// archiver drains it into object storage.
const EventStream = "ledger:events"

// publishEvent fans a ledger event out to the per-market channel, the
// kind-group channel, and the durable stream. Delivery is best-effort:
// failures are logged and never fail the operation that produced the event.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, evt domain.Event) {
	if bus == nil {
		return
	}
	evt.ID = uuid.NewString()

	payload, err := json.Marshal(evt)
	if err != nil {
		logger.WarnContext(ctx, "service: marshal event failed",
			slog.String("kind", string(evt.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	group := "markets"
	if evt.Kind == domain.EventBetPlaced || evt.Kind == domain.EventRewardClaimed {
		group = "bets"
	}

	for _, channel := range []string{fmt.Sprintf("market:%d", evt.MarketID), group} {
		if pubErr := bus.Publish(ctx, channel, payload); pubErr != nil {
			logger.WarnContext(ctx, "service: publish event failed",
				slog.String("channel", channel),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	if streamErr := bus.StreamAppend(ctx, EventStream, payload); streamErr != nil {
		logger.WarnContext(ctx, "service: stream append failed",
			slog.String("kind", string(evt.Kind)),
			slog.String("error", streamErr.Error()),
		)
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func nowUTC() time.Time { return time.Now().UTC() }
