package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/opinionmkt/opiniond/internal/crypto"
	"github.com/opinionmkt/opiniond/internal/engine"
	"github.com/opinionmkt/opiniond/internal/notify"
	"github.com/opinionmkt/opiniond/internal/server"
	"github.com/opinionmkt/opiniond/internal/server/handler"
	"github.com/opinionmkt/opiniond/internal/server/ws"
	"github.com/opinionmkt/opiniond/internal/service"
)

// writerLockTTL bounds the startup leader lock. The lock catches two daemons
// racing to become the writer at boot; the journal's sequence uniqueness
// constraint is the hard guarantee against a split brain after that.
const writerLockTTL = 30 * time.Second

// ServeMode rebuilds the engine from the journal and runs the full daemon:
// writer, HTTP API, websocket hub, notification dispatcher, and the archive
// schedule when enabled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	unlock, err := deps.LockManager.Acquire(ctx, "engine.writer", writerLockTTL)
	if err != nil {
		return fmt.Errorf("serve mode: another writer holds the lock: %w", err)
	}
	defer unlock()

	eng, err := a.rebuildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	startedAt := time.Now().UTC()
	writer := service.NewWriter(
		eng,
		deps.Stores,
		deps.Cache,
		deps.Bus,
		a.cfg.Engine.BlockWindow.Duration,
		a.logger,
	)

	opinionSvc := service.NewOpinionService(writer, deps.Stores.Opinions, deps.Stores.History, deps.Cache, a.logger)
	poolSvc := service.NewPoolService(writer, deps.Stores.Pools, a.logger)
	feeSvc := service.NewFeeService(writer, deps.Stores.Fees, a.logger)
	adminSvc := service.NewAdminService(writer, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// Websocket hub bridging committed events to connected clients.
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Channel:   service.EventChannel,
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// Notification dispatcher tailing the durable event stream.
	dispatcher := notify.NewDispatcher(deps.Bus, service.EventStream, deps.Notifier, a.logger)
	g.Go(func() error {
		err := dispatcher.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// Monthly archive schedule, when enabled.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		sched := cron.New()
		_, err := sched.AddFunc(a.cfg.Archive.Cron, func() {
			if err := a.runArchive(ctx, deps); err != nil {
				a.logger.ErrorContext(ctx, "scheduled archive failed",
					slog.String("error", err.Error()),
				)
			}
		})
		if err != nil {
			return fmt.Errorf("serve mode: archive schedule %q: %w", a.cfg.Archive.Cron, err)
		}
		sched.Start()
		a.closers = append(a.closers, func() { <-sched.Stop().Done() })
	}

	// HTTP server.
	if a.cfg.Server.Enabled {
		adminAuth, err := a.adminRequestAuth()
		if err != nil {
			return fmt.Errorf("serve mode: %w", err)
		}

		handlers := server.Handlers{
			Health: handler.NewHealthHandler(map[string]handler.Pinger{
				"postgres": deps.PG.Pool(),
				"redis":    deps.Redis,
			}, a.logger),
			Status:   handler.NewStatusHandler(writer.Engine(), a.cfg.Mode, startedAt),
			Opinions: handler.NewOpinionHandler(opinionSvc, a.logger),
			Pools:    handler.NewPoolHandler(poolSvc, a.logger),
			Fees:     handler.NewFeeHandler(feeSvc, a.logger),
			Admin:    handler.NewAdminHandler(adminSvc, a.logger),
		}

		srv := server.NewServer(server.Config{
			Port:             a.cfg.Server.Port,
			CORSOrigins:      a.cfg.Server.CORSOrigins,
			APIKey:           a.cfg.Server.APIKey,
			RequireWalletSig: a.cfg.Server.RequireWalletSig,
			AdminAuth:        adminAuth,
			RateLimit:        a.cfg.Server.RateLimit,
			RateLimitWindow:  a.cfg.Server.RateLimitWindow.Duration,
		}, handlers, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}

// ReplayMode rebuilds the engine from the journal, reports the recovered
// state, and exits. It is the offline integrity check: a journal that fails
// to replay cleanly means the daemon must not be started against it.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	start := time.Now()
	eng, err := a.rebuildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}

	totals := eng.FeeTotals()
	a.logger.InfoContext(ctx, "journal replayed cleanly",
		slog.Uint64("seq", eng.Seq()),
		slog.Uint64("next_opinion_id", eng.NextOpinionID()),
		slog.Uint64("next_pool_id", eng.NextPoolID()),
		slog.Uint64("accumulated_lifetime", totals.AccumulatedLifetime),
		slog.Uint64("claimed_lifetime", totals.ClaimedLifetime),
		slog.Bool("paused", eng.Paused()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ArchiveMode runs one archival pass over the journal and answer history,
// then exits. Intended for operators running archival out of process, e.g.
// from a system cron.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 storage not configured")
	}
	return a.runArchive(ctx, deps)
}

// runArchive archives journal entries and answer history older than the
// retention window.
func (a *App) runArchive(ctx context.Context, deps *Dependencies) error {
	retention := a.cfg.Archive.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retention)

	journaled, err := deps.Archiver.ArchiveJournal(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive journal: %w", err)
	}
	history, err := deps.Archiver.ArchiveAnswerHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive answer history: %w", err)
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("journal_entries", journaled),
		slog.Int64("history_entries", history),
	)
	return nil
}

// rebuildEngine replays the persisted journal into a fresh engine using the
// configured parameters and bootstrap accounts.
func (a *App) rebuildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	replayer := service.NewReplayer(deps.Stores.Journal, a.logger)
	return replayer.Rebuild(
		ctx,
		a.cfg.Engine.Params(),
		common.HexToAddress(a.cfg.Engine.TreasuryAddress),
		common.HexToAddress(a.cfg.Engine.AdminAddress),
	)
}

// adminRequestAuth builds the HMAC verifier for the privileged route group,
// or nil when admin signing is not configured.
func (a *App) adminRequestAuth() (*crypto.RequestAuth, error) {
	if a.cfg.Server.AdminKey == "" {
		return nil, nil
	}
	secret, err := a.cfg.Server.ResolveAdminSecret()
	if err != nil {
		return nil, fmt.Errorf("resolve admin secret: %w", err)
	}
	return &crypto.RequestAuth{Key: a.cfg.Server.AdminKey, Secret: secret}, nil
}
