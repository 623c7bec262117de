package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketledger/internal/notify"
	"github.com/alanyoungcy/marketledger/internal/server"
	"github.com/alanyoungcy/marketledger/internal/server/handler"
	"github.com/alanyoungcy/marketledger/internal/server/ws"
	"github.com/alanyoungcy/marketledger/internal/service"
)

// services bundles the two domain services built on top of the wired
// dependencies. Both share one lock set so market mutations serialize.
type services struct {
	markets *service.MarketService
	bets    *service.BetService
}

// buildServices constructs the market and bet services from the wired
// dependencies, applying the configured ledger limits.
func (a *App) buildServices(deps *Dependencies) *services {
	locks := service.NewLocks(deps.LockManager)

	markets := service.NewMarketService(
		deps.MarketStore, deps.BetStore, deps.MarketCache,
		locks, deps.SignalBus, deps.AuditStore, a.logger,
	).WithLimits(a.cfg.Ledger.MaxOptions, a.cfg.Ledger.MaxQuestionLen)
	if deps.Signer != nil {
		markets.WithReceiptSigner(deps.Signer)
	}

	bets := service.NewBetService(
		deps.MarketStore, deps.BetStore, deps.Treasury, deps.MarketCache,
		locks, deps.RateLimiter, deps.SignalBus, deps.AuditStore, a.logger,
	).WithRateLimit(a.cfg.Ledger.BetRateLimit, a.cfg.Ledger.BetRateWindow.Duration)

	return &services{markets: markets, bets: bets}
}

// ServerMode starts the HTTP + WebSocket API and the notification watcher.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	a.startNotifyWatcher(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// ArchiveMode runs the settlement archiver on its configured interval and
// nothing else. Useful as a standalone cron-style worker.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode starts every subsystem: the API server, the notification watcher,
// and the settlement archiver when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	a.startNotifyWatcher(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, svcs)

	if a.cfg.Archive.Enabled {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}

	return g.Wait()
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; no API will be served")
		return
	}

	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		AuthToken:     a.cfg.Server.AuthToken,
		Limiter:       deps.RateLimiter,
		RequestLimit:  120,
		RequestWindow: time.Minute,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, startedAt),
		Markets: handler.NewMarketHandler(svcs.markets, a.logger),
		Bets:    handler.NewBetHandler(svcs.bets, a.logger),
		Audit:   handler.NewAuditHandler(deps.AuditStore, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startNotifyWatcher forwards ledger events to the configured notification
// channels. Skipped when no senders are configured.
func (a *App) startNotifyWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil || !deps.Notifier.HasSenders() {
		return
	}

	watcher := notify.NewWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := watcher.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startArchiver runs periodic settlement archive sweeps: markets resolved
// longer than the retention window ago, and their bets, are exported to
// object storage as monthly JSONL files.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archiver requires postgres stores and s3 storage")
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	runOnce := func() {
		cutoff := time.Now().UTC().Add(-retention)

		markets, err := deps.Archiver.ArchiveMarkets(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: markets sweep failed",
				slog.String("error", err.Error()),
			)
			return
		}
		bets, err := deps.Archiver.ArchiveBets(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: bets sweep failed",
				slog.String("error", err.Error()),
			)
			return
		}
		events, err := deps.Archiver.ArchiveEvents(ctx, time.Now().UTC())
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: event export failed",
				slog.String("error", err.Error()),
			)
			return
		}
		if markets > 0 || bets > 0 || events > 0 {
			a.logger.InfoContext(ctx, "archive: sweep complete",
				slog.Int64("markets", markets),
				slog.Int64("bets", bets),
				slog.Int64("events", events),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	g.Go(func() error {
		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archive worker started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
	return nil
}
