package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vexsearch/offstore/internal/backup"
	"github.com/vexsearch/offstore/internal/cache"
	"github.com/vexsearch/offstore/internal/config"
	"github.com/vexsearch/offstore/internal/gc"
	"github.com/vexsearch/offstore/internal/logging"
	"github.com/vexsearch/offstore/internal/metrics"
	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/prune"
	"github.com/vexsearch/offstore/internal/query"
	"github.com/vexsearch/offstore/pkg/objectstore"
)

// runtime holds the collaborators shared by the subcommands.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	source *partition.Source

	// backups is the store new backups are written to; remote is always
	// available so records of either mode can be deleted.
	backups backup.Store
	remote  *backup.Remote
	local   *backup.Local

	sql    *query.SQLService
	poller *query.Poller

	metricsSrv *http.Server
}

func newRuntime(ctx context.Context, cfg *config.Config, opts *rootOptions) (*runtime, error) {
	logger, err := logging.NewWithOptions(opts.stderr, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, &usageError{err: err}
	}
	rt := &runtime{cfg: cfg, logger: logger}

	store, err := objectstore.New(objectstore.Config{
		Type:      cfg.ObjectStore.Type,
		Endpoint:  cfg.ObjectStore.Endpoint,
		Bucket:    cfg.ObjectStore.Bucket,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Region:    cfg.ObjectStore.Region,
		UseSSL:    cfg.ObjectStore.UseSSL,
		RootPath:  cfg.ObjectStore.RootPath,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	policy := objectstore.DefaultRetryPolicy()
	if cfg.Batch.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.Batch.RetryAttempts
	}
	if cfg.Batch.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.Batch.RetryBaseDelay
	}
	// Every attempt is observed; only the retried call is visible to callers.
	store = objectstore.NewRetryingStore(objectstore.NewInstrumentedStore(store), policy)
	rt.source = partition.NewSource(store, cfg.Dataset.FileSuffix)
	if cfg.Batch.ReadCacheBytes > 0 {
		rt.source.WithCache(cache.NewMemoryCache(cfg.Batch.ReadCacheBytes))
	}

	rt.remote = backup.NewRemote(rt.source)
	if cfg.Batch.BackupDir != "" {
		if rt.local, err = backup.NewLocal(cfg.Batch.BackupDir, cfg.Dataset.FileSuffix); err != nil {
			return nil, fmt.Errorf("backup dir: %w", err)
		}
	}
	switch cfg.Batch.GetBackupMode() {
	case config.BackupRemote:
		rt.backups = rt.remote
	default:
		if rt.local == nil {
			return nil, &usageError{err: errors.New("batch.backup_dir is required for local backups")}
		}
		rt.backups = rt.local
	}

	if cfg.Query.Enabled() {
		svc, err := query.Open(ctx, cfg.Query)
		if err != nil {
			// Counting and pruning fall back to scanning partitions.
			logger.Warn("query service unavailable; continuing without it", "driver", cfg.Query.Driver, "error", err)
		} else {
			rt.sql = svc
			rt.poller = &query.Poller{Service: svc, Interval: cfg.Query.PollInterval, MaxWait: cfg.Query.MaxWait}
		}
	}

	if cfg.MetricsAddr != "" {
		rt.serveMetrics(cfg.MetricsAddr)
	}
	return rt, nil
}

func (rt *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	rt.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           logging.Middleware(rt.logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		rt.logger.Info("serving metrics", "addr", addr)
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// backupStores returns every configured backup store.
func (rt *runtime) backupStores() []backup.Store {
	stores := []backup.Store{rt.remote}
	if rt.local != nil {
		stores = append(stores, rt.local)
	}
	return stores
}

func (rt *runtime) collector(minAge time.Duration) *gc.Collector {
	cfg := gc.DefaultConfig()
	if minAge > 0 {
		cfg.MinBackupAge = minAge
	}
	return gc.NewCollector(rt.source, cfg, rt.logger, rt.backupStores()...)
}

func (rt *runtime) pruner(dataset string) *prune.Pruner {
	return prune.New(rt.poller, rt.cfg.Query.TableFor(dataset), rt.cfg.Query.PathColumn, rt.logger)
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, rt.metricsSrv.Shutdown(ctx))
		cancel()
	}
	if rt.sql != nil {
		errs = append(errs, rt.sql.Close())
	}
	return errors.Join(errs...)
}
