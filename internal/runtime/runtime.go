// Package runtime wires every chengisd collaborator and engine together
// explicitly — no package-level singletons — the way
// internal/app/runtime/application.go composes the teacher's service layer.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sremani/chengis/internal/approvalengine"
	"github.com/sremani/chengis/internal/cacheengine"
	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/config"
	"github.com/sremani/chengis/internal/cronengine"
	"github.com/sremani/chengis/internal/eventbus"
	"github.com/sremani/chengis/internal/executor"
	"github.com/sremani/chengis/internal/executor/plugins"
	"github.com/sremani/chengis/internal/lifecycle"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/metrics"
	"github.com/sremani/chengis/internal/secrets/azurekeyvault"
	"github.com/sremani/chengis/internal/secrets/envsecrets"
	"github.com/sremani/chengis/internal/storage"
	"github.com/sremani/chengis/internal/storage/postgres"
	"github.com/sremani/chengis/internal/storage/postgres/migrations"
	"github.com/sremani/chengis/internal/workerpool"
	"github.com/sremani/chengis/internal/workspace"
)

// Stores bundles every persistence collaborator interface a CoreRuntime
// needs, satisfied by both *storage.Memory and *postgres.Store.
type Stores interface {
	storage.JobStore
	storage.BuildStore
	storage.ApprovalGateStore
	storage.PolicyStore
	storage.CronScheduleStore
	storage.CronRunStore
	storage.CacheEntryStore
	storage.NotificationStore
}

// CoreRuntime is the process-wide wiring root: every engine and collaborator
// constructed once, explicitly, and held here rather than in package
// variables. cmd/chengisd depends only on this type.
type CoreRuntime struct {
	Config  *config.Config
	Log     *logging.Logger
	Metrics *metrics.Registry
	Bus     *eventbus.Bus

	Stores Stores

	Registry  *workerpool.Registry
	Pool      *workerpool.Pool
	Workspace *workspace.Manager
	Plugins   *plugins.Registry
	Cache     *cacheengine.Engine
	Approvals *approvalengine.Engine

	Executor  *executor.Executor
	Lifecycle *lifecycle.Manager
	Scheduler *cronengine.Poller

	db *sql.DB
}

// New loads configuration and constructs every collaborator and engine,
// returning a CoreRuntime ready for Start.
func New() (*CoreRuntime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("runtime: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: invalid config: %w", err)
	}

	log := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	metricsReg := metrics.New()

	stores, db, err := buildStores(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: configure stores: %w", err)
	}

	bus := eventbus.New(log,
		eventbus.WithPublishTimeout(cfg.EventBusPublishTimeout),
		eventbus.WithDepthGauge(metricsReg.RecordEventBusDepth),
	)

	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("runtime: workspace: %w", err)
	}

	registry := workerpool.NewRegistry()
	pool := workerpool.New(cfg.MaxConcurrentBuilds)

	cache := cacheengine.New(stores, cfg.CacheRoot, log, metricsReg)
	approvals := approvalengine.New(stores, cfg.ApprovalPollInterval, log)

	process := collaborators.NewLocalProcessExecutor()
	pluginRegistry := plugins.NewDefaultRegistry(process)

	secretStore, err := buildSecretStore()
	if err != nil {
		log.WithError(err).Warn("runtime: falling back to environment-backed secret store")
		secretStore = envsecrets.New()
	}

	exec := executor.New(executor.Deps{
		Log:       log,
		Bus:       bus,
		Workspace: ws,
		Plugins:   pluginRegistry,

		Cache:    cache,
		Approval: approvals,
		Policies: stores,

		VCS:            nil,
		Secrets:        secretStore,
		Metrics:        metricsReg,
		StatusReporter: collaborators.NoopStatusReporter{},
		Notifier:       collaborators.NoopNotifier{},
		FeatureFlags:   collaborators.NewStaticFeatureFlags(),

		MaxConcurrentStages: cfg.MaxConcurrentStages,
		MaxParallelSteps:    cfg.MaxParallelSteps,
		MaxMatrixCombos:     cfg.MaxMatrixCombos,
		ArtifactsRoot:       cfg.ArtifactsRoot,
	})

	lifecycleMgr := lifecycle.New(stores, registry, pool, exec, metricsReg, log)

	scheduler := cronengine.New(stores, stores, stores, lifecycleMgr, bus, cfg.CronPollInterval, cfg.CronMissedRunThreshold, log)

	return &CoreRuntime{
		Config:  cfg,
		Log:     log,
		Metrics: metricsReg,
		Bus:     bus,

		Stores: stores,

		Registry:  registry,
		Pool:      pool,
		Workspace: ws,
		Plugins:   pluginRegistry,
		Cache:     cache,
		Approvals: approvals,

		Executor:  exec,
		Lifecycle: lifecycleMgr,
		Scheduler: scheduler,

		db: db,
	}, nil
}

// Start begins background processing: the event-bus depth sampler and the
// scheduler poll loop. It does not block.
func (r *CoreRuntime) Start(ctx context.Context) {
	r.Bus.StartSampler(ctx, 5*time.Second)
	r.Scheduler.Start(ctx)
	r.Log.Info("runtime: core services started")
}

// Shutdown stops background processing and releases the database
// connection, if any. In-flight builds already submitted to the worker
// pool are not interrupted; callers that need a hard stop should cancel
// their builds via Lifecycle.Cancel first.
func (r *CoreRuntime) Shutdown(ctx context.Context) error {
	r.Scheduler.Stop()
	r.Bus.Stop()

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.Log.WithError(err).Warn("runtime: error closing database connection")
			return err
		}
	}
	return nil
}

func buildStores(ctx context.Context, cfg *config.Config) (Stores, *sql.DB, error) {
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return storage.NewMemory(), nil, nil
	}

	store, err := postgres.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	db := store.DB()
	if cfg.Database.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
	}
	if cfg.Database.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.Database.IdleTimeout)
	}

	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return store, db, nil
}

// buildSecretStore constructs the azurekeyvault-backed SecretStore when
// AZURE_KEYVAULT_URL is configured, falling back to the in-memory
// environment-seeded store otherwise.
func buildSecretStore() (collaborators.SecretStore, error) {
	vaultURL := strings.TrimSpace(os.Getenv("AZURE_KEYVAULT_URL"))
	if vaultURL == "" {
		return envsecrets.New(), nil
	}

	names := func(_ context.Context, jobID, orgID string) ([]string, error) {
		raw := os.Getenv("AZURE_KEYVAULT_SECRET_NAMES")
		if raw == "" {
			return nil, nil
		}
		var out []string
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				out = append(out, n)
			}
		}
		return out, nil
	}

	return azurekeyvault.NewFromVaultURL(vaultURL, names)
}
