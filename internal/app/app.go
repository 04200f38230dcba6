// Package app builds every long-lived component from configuration and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrasignum-crawler/internal/adapter"
	"github.com/JakeFAU/terrasignum-crawler/internal/adapter/httpfetch"
	"github.com/JakeFAU/terrasignum-crawler/internal/api"
	"github.com/JakeFAU/terrasignum-crawler/internal/backoff"
	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
	"github.com/JakeFAU/terrasignum-crawler/internal/cleaner"
	"github.com/JakeFAU/terrasignum-crawler/internal/clock"
	"github.com/JakeFAU/terrasignum-crawler/internal/config"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
	"github.com/JakeFAU/terrasignum-crawler/internal/executor"
	"github.com/JakeFAU/terrasignum-crawler/internal/id/uuid"
	"github.com/JakeFAU/terrasignum-crawler/internal/ledger"
	"github.com/JakeFAU/terrasignum-crawler/internal/notify"
	"github.com/JakeFAU/terrasignum-crawler/internal/ranker"
	"github.com/JakeFAU/terrasignum-crawler/internal/scheduler"
	"github.com/JakeFAU/terrasignum-crawler/internal/storage/gcs"
	"github.com/JakeFAU/terrasignum-crawler/internal/storage/local"
	"github.com/JakeFAU/terrasignum-crawler/internal/storage/memory"
	"github.com/JakeFAU/terrasignum-crawler/internal/storage/postgres"
	redistail "github.com/JakeFAU/terrasignum-crawler/internal/storage/redis"
	"github.com/JakeFAU/terrasignum-crawler/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Catalog   *catalog.Catalog
	Scheduler *scheduler.Scheduler
	Server    *api.Server

	closers []func() error
	checks  []api.ReadinessCheck
}

type stores struct {
	configs store.ConfigStore
	events  store.EventStore
	entries store.EntryStore
}

// New wires the application. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Catalog, err = buildCatalog(cfg); err != nil {
		return nil, err
	}
	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	tail, err := a.openTail()
	if err != nil {
		return nil, err
	}
	archive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.openNotifier(ctx)
	if err != nil {
		return nil, err
	}

	fetcher := httpfetch.New(httpfetch.Config{
		UserAgent:         cfg.Crawl.UserAgent,
		Timeout:           cfg.FetchTimeout(),
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		Burst:             cfg.Crawl.Burst,
		MaxBodySize:       cfg.Crawl.MaxBodyBytes,
	})
	registry, err := adapter.NewRegistry(fetcher, nil)
	if err != nil {
		return nil, fmt.Errorf("adapter registry: %w", err)
	}

	events, err := ledger.New(st.events, tail, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	clean, err := cleaner.New(st.entries, cfg.Crawl.MinCommentLength, logger)
	if err != nil {
		return nil, fmt.Errorf("cleaner: %w", err)
	}
	rank, err := ranker.New(a.Catalog, events)
	if err != nil {
		return nil, fmt.Errorf("ranker: %w", err)
	}
	sysClock := clock.New()
	exec, err := executor.New(a.Catalog, registry, st.entries, events, archive, sysClock, executor.Config{
		FetchTimeout:  cfg.FetchTimeout(),
		ArchivePrefix: cfg.Archive.Prefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	a.Scheduler, err = scheduler.New(scheduler.Deps{
		Catalog:  a.Catalog,
		Configs:  st.configs,
		Entries:  st.entries,
		Ledger:   events,
		Cleaner:  clean,
		Ranker:   rank,
		Executor: exec,
		Backoff:  backoff.New(cfg.BackoffDelay()),
		Notifier: notifier,
		Clock:    sysClock,
		IDs:      uuid.New(),
		Logger:   logger,
	}, scheduler.Config{
		Tick:                  cfg.Tick(),
		MaxConcurrentProjects: cfg.Scheduler.MaxConcurrentProjects,
		Projects:              cfg.Scheduler.Projects,
		RunOnStart:            cfg.Scheduler.RunOnStart,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	a.Server = api.NewServer(a.Scheduler, a.Catalog, cfg, a.ready, logger)
	logger.Info("application wired",
		zap.String("db", cfg.DB.Driver),
		zap.String("ledger_tail", cfg.Ledger.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Int("sources", len(a.Catalog.IDs())),
	)
	return a, nil
}

func buildCatalog(cfg config.Config) (*catalog.Catalog, error) {
	defs := catalog.DefaultDefinitions()
	for i := range defs {
		defs[i].IntervalSeconds = cfg.Crawl.DefaultIntervalSeconds
	}
	cat, err := catalog.WithOverrides(defs, cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return cat, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	switch a.Config.DB.Driver {
	case config.BackendPostgres:
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      a.Config.DB.DSN,
			MaxConns: a.Config.DB.MaxConns,
			MinConns: a.Config.DB.MinConns,
		})
		if err != nil {
			return stores{}, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.checks = append(a.checks, pg.Ping)
		if err := pg.Migrate(ctx); err != nil {
			return stores{}, fmt.Errorf("postgres: %w", err)
		}
		return stores{configs: pg, events: pg, entries: pg}, nil
	default:
		a.Logger.Warn("using in-memory stores; state is lost on restart")
		return stores{
			configs: memory.NewConfigStore(),
			events:  memory.NewEventStore(),
			entries: memory.NewEntryStore(),
		}, nil
	}
}

func (a *App) openTail() (store.Tail, error) {
	if a.Config.Ledger.Backend != config.BackendRedis {
		return memory.NewTail(a.Config.Ledger.TailSize), nil
	}
	rcfg := redistail.Config{
		Addr:      a.Config.Redis.Addr,
		Password:  a.Config.Redis.Password,
		DB:        a.Config.Redis.DB,
		KeyPrefix: a.Config.Redis.KeyPrefix,
		TTL:       a.Config.RedisTTL(),
	}
	client, err := redistail.NewClient(rcfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.checks = append(a.checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })
	tail, err := redistail.NewTail(client, rcfg, a.Config.Ledger.TailSize)
	if err != nil {
		return nil, fmt.Errorf("redis tail: %w", err)
	}
	return tail, nil
}

func (a *App) openArchive(ctx context.Context) (store.BlobStore, error) {
	switch a.Config.Archive.Backend {
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		bs, err := local.New(local.Config{BaseDir: a.Config.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return bs, nil
	case config.BackendGCS:
		bs, err := gcs.New(ctx, gcs.Config{Bucket: a.Config.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		a.closers = append(a.closers, bs.Close)
		return bs, nil
	default:
		return nil, nil
	}
}

func (a *App) openNotifier(ctx context.Context) (crawl.AlertNotifier, error) {
	var sinks notify.Multi
	if a.Config.Alerts.Log {
		sinks = append(sinks, notify.NewLogNotifier(a.Logger))
	}
	if a.Config.Alerts.PubSubTopic != "" {
		ps, err := notify.NewPubSub(ctx, a.Config.Alerts.PubSubProjectID, a.Config.Alerts.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("pubsub alerts: %w", err)
		}
		a.closers = append(a.closers, ps.Close)
		sinks = append(sinks, ps)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func (a *App) ready(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs the scheduler loop and the HTTP server until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- a.Scheduler.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() {
		a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	a.Logger.Info("shutdown initiated")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown error", zap.Error(err))
	}
	schedErr := <-schedDone
	select {
	case err := <-srvErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	return schedErr
}

// Close releases every opened resource in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
