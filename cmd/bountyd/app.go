package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-bounties/adapters/gocommand"
	"github.com/goliatone/go-bounties/adapters/gojob"
	"github.com/goliatone/go-bounties/adapters/gologger"
	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/forge"
	"github.com/goliatone/go-bounties/forge/github"
	"github.com/goliatone/go-bounties/migrations"
	"github.com/goliatone/go-bounties/notify"
	"github.com/goliatone/go-bounties/orchestrator"
	"github.com/goliatone/go-bounties/payment"
	"github.com/goliatone/go-bounties/payment/stripe"
	"github.com/goliatone/go-bounties/ratelimit"
	sqlstore "github.com/goliatone/go-bounties/store/sql"
	"github.com/goliatone/go-bounties/webhooks"
	"github.com/goliatone/go-command"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	db      core.DatabaseConfig
	service string
}

func (c persistenceConfig) GetDebug() bool {
	return c.db.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.db.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.db.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return c.service
}

// app owns the process wide resources: config, logging and the database.
type app struct {
	cfg     core.Config
	loggers gologger.Loggers
	client  *persistence.Client
	stores  *sqlstore.RepositoryFactory
	metrics *core.MemoryMetrics
}

func openApp(ctx context.Context, cfg core.Config, logger *gologger.SlogLogger) (*app, error) {
	sqlDB, dialect, migrationDialect, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	client, err := persistence.New(persistenceConfig{db: cfg.Database, service: cfg.ServiceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open persistence: %w", err)
	}
	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == migrationDialect {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, migrations.WithValidationTargets(migrationDialect))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		loggers: gologger.ResolveForJob(cfg.ServiceName, gologger.NewSlogProvider(logger), nil),
		client:  client,
		stores:  stores,
		metrics: core.NewMemoryMetrics(),
	}, nil
}

func openDatabase(cfg core.DatabaseConfig) (*sql.DB, schema.Dialect, string, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil, "", fmt.Errorf("database dsn is required")
	}
	migrationDialect, err := migrations.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, nil, "", err
	}
	if migrationDialect == migrations.DialectPostgres {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return db, pgdialect.New(), migrationDialect, nil
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, sqlitedialect.New(), migrationDialect, nil
}

func (a *app) Migrate(ctx context.Context) error {
	return a.client.Migrate(ctx)
}

func (a *app) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *app) named(name string) core.Logger {
	return a.loggers.Named(name)
}

// runtime is the orchestrator and everything it talks to.
type runtime struct {
	orchestrator *orchestrator.Orchestrator
	coordinator  *payment.Coordinator
	processor    *webhooks.Processor
	queue        *gojob.MemoryQueue
	worker       *notify.Worker
	bus          *gocommand.Bus
}

func (a *app) newForge() (core.Forge, error) {
	gh := a.cfg.GitHub
	config := github.Config{
		BaseURL:        gh.BaseURL,
		Token:          gh.Token,
		AppID:          gh.AppID,
		InstallationID: gh.InstallationID,
		Logger:         a.named("github"),
	}
	if path := strings.TrimSpace(gh.PrivateKeyPath); path != "" {
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read github private key: %w", err)
		}
		config.PrivateKey = key
	}
	return github.NewClient(config)
}

func (a *app) newGateway() (core.PaymentGateway, error) {
	return stripe.NewGateway(a.cfg.Stripe.SecretKey, stripe.WithLogger(a.named("stripe")))
}

func (a *app) buildRuntime(forgeClient core.Forge, gateway core.PaymentGateway) (*runtime, error) {
	cfg := a.cfg
	store := a.stores.Store()
	coordination := a.stores.CoordinationStore()

	coordinator, err := payment.NewCoordinator(coordination,
		payment.WithGateway(gateway, store),
		payment.WithLockOptions(payment.LockOptions{
			TTL: cfg.LockTTL(),
			Retry: payment.RetryPolicy{
				MaxAttempts: cfg.Payment.LockMaxRetries,
				Delay:       cfg.LockRetryDelay(),
			},
		}),
		payment.WithLedgerTTL(cfg.LedgerTTL()),
		payment.WithPermanentLedger(cfg.Payment.PermanentLedger),
		payment.WithLogger(a.named("payment")),
		payment.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.NewLimiter(coordination, ratelimit.PoliciesFromConfig(cfg.RateLimit)...)
	if err != nil {
		return nil, err
	}
	cache, err := forge.NewPermissionCache(cfg.PermissionTTL())
	if err != nil {
		return nil, fmt.Errorf("permission cache: %w", err)
	}
	permissions := forge.NewPermissionGate(forgeClient,
		forge.WithPermissionCache(cache),
		forge.WithPermissionLogger(a.named("permissions")),
	)

	queue := gojob.NewMemoryQueue(gojob.WithQueueLogger(a.loggers.NamedJob("queue")))
	orch, err := orchestrator.New(orchestrator.Dependencies{
		Store:       store,
		Forge:       forgeClient,
		Permissions: permissions,
		Limiter:     limiter,
		Payments:    coordinator,
		Notifier:    notify.NewQueuedNotifier(gojob.NewEnqueuerAdapter(queue)),
	}, orchestrator.ConfigFrom(cfg),
		orchestrator.WithLogger(a.named("orchestrator")),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	worker := notify.NewWorker(
		gojob.NewDequeuerAdapter(queue, gojob.RetryPolicy{MaxAttempts: 5, MaxDelay: time.Minute, DeadLetterOnMax: true}),
		forgeClient,
		notify.WithWorkerLogger(a.named("notify")),
	)

	processor := webhooks.NewProcessor(webhooks.NewGitHubWebhookTemplate(cfg.Webhook.Secret), a.stores.DeliveryLedger(), orch)
	processor.Logger = a.named("webhooks")
	processor.Metrics = a.metrics

	bus := gocommand.NewBus(command.NewRegistry())
	if err := gocommand.Register(bus, orchestrator.NewFundCommand(orch)); err != nil {
		return nil, err
	}
	if err := gocommand.Register(bus, orchestrator.NewCancelCommand(orch)); err != nil {
		bus.Close()
		return nil, err
	}
	if err := bus.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}

	return &runtime{
		orchestrator: orch,
		coordinator:  coordinator,
		processor:    processor,
		queue:        queue,
		worker:       worker,
		bus:          bus,
	}, nil
}

// flush posts every queued notification before a short lived command exits.
func (r *runtime) flush(ctx context.Context) error {
	for r.queue.Len() > 0 {
		if err := r.worker.RunOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	r.bus.Close()
	r.queue.Close()
}
