package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/quadpoll/internal/archive"
	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/engine"
	"github.com/alanyoungcy/quadpoll/internal/fixedpoint"
	"github.com/alanyoungcy/quadpoll/internal/server"
	"github.com/alanyoungcy/quadpoll/internal/server/handler"
	"github.com/alanyoungcy/quadpoll/internal/server/ws"
	"github.com/alanyoungcy/quadpoll/internal/service"
)

// shutdownTimeout bounds the wait for in-flight HTTP requests.
const shutdownTimeout = 5 * time.Second

// ServerMode restores the engine from the journal and serves the API. In
// full mode the archiver runs alongside, reading the live engine.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.newEngine(deps, true)
	if err != nil {
		return err
	}
	svc := service.NewPollService(eng, deps.Journal, deps.SignalBus, deps.Audit, a.logger)
	if _, err := svc.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, eng, svc)

	if a.cfg.ArchiveEnabled() {
		a.startArchiver(ctx, g, deps, eng)
	}

	return g.Wait()
}

// ArchiveMode runs only the archiver. Poll state is rebuilt from the journal
// before every run, so this process never serves writes.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Journal == nil {
		return fmt.Errorf("app: archive mode needs the postgres journal")
	}

	g, ctx := errgroup.WithContext(ctx)
	src := &replayingSource{
		journal: deps.Journal,
		build:   func() (*engine.Engine, error) { return a.newEngine(deps, false) },
		logger:  a.logger,
	}
	a.startArchiver(ctx, g, deps, src)
	return g.Wait()
}

// newEngine builds an engine from the configured parameters. record attaches
// the journal as the recorder.
func (a *App) newEngine(deps *Dependencies, record bool) (*engine.Engine, error) {
	rep, err := a.cfg.Engine.ReputationParams()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	prices, err := a.cfg.Engine.PricingParams()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithReputation(rep),
		engine.WithPricing(prices),
	}
	if record && deps.Recorder != nil {
		opts = append(opts, engine.WithRecorder(deps.Recorder))
	}
	return engine.New(deps.Tokens, a.cfg.Engine.Escrow(), opts...), nil
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	eng *engine.Engine,
	svc *service.PollService,
) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(eng, a.cfg.Mode, a.logger),
		Polls:      handler.NewPollHandler(eng, svc, a.logger),
		Reputation: handler.NewReputationHandler(eng, a.logger),
		Audit:      handler.NewAuditHandler(deps.Audit, a.logger),
	}
	if a.cfg.Server.DevFaucet {
		a.logger.WarnContext(ctx, "development faucet enabled",
			slog.Int64("amount", a.cfg.Token.FaucetAmount),
		)
		handlers.Faucet = handler.NewFaucetHandler(
			deps.Minter, a.cfg.Engine.Escrow(), fixedpoint.Tokens(a.cfg.Token.FaucetAmount), a.logger,
		)
	}

	// The hub relays bus events, so it exists only with Redis wired.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequireSignatures: a.cfg.Server.RequireSignatures,
		SignatureMaxSkew:  a.cfg.Server.SignatureMaxSkew.Duration,
		Nonces:            deps.LockManager,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, src archive.SnapshotSource) {
	arch := archive.New(
		src,
		deps.BlobWriter,
		deps.BlobReader,
		deps.LockManager,
		deps.Audit,
		a.cfg.Archive.LockTTL.Duration,
		a.logger,
	)
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		arch.WithNotifier(deps.Notifier)
	}
	g.Go(func() error {
		return arch.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// replayingSource serves archive snapshots from an engine rebuilt from the
// journal on every Refresh.
type replayingSource struct {
	journal domain.JournalStore
	build   func() (*engine.Engine, error)
	logger  *slog.Logger

	mu  sync.RWMutex
	eng *engine.Engine
}

func (s *replayingSource) Refresh(ctx context.Context) error {
	eng, err := s.build()
	if err != nil {
		return err
	}
	if _, err := service.NewPollService(eng, s.journal, nil, nil, s.logger).Restore(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.eng = eng
	s.mu.Unlock()
	return nil
}

func (s *replayingSource) current() *engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eng
}

func (s *replayingSource) Ended() []domain.Poll {
	eng := s.current()
	if eng == nil {
		return nil
	}
	return eng.Ended()
}

func (s *replayingSource) Snapshot(id string) (domain.PollSnapshot, error) {
	eng := s.current()
	if eng == nil {
		return domain.PollSnapshot{}, domain.ErrPollNotFound
	}
	return eng.Snapshot(id)
}
