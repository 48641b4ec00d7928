// Package gc removes partition backups: the backups of one run after the
// operator confirmed its result, and backups older than a retention window.
package gc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/vexsearch/offstore/internal/backup"
	"github.com/vexsearch/offstore/internal/logging"
	"github.com/vexsearch/offstore/internal/partition"
)

var (
	ErrGCInProgress = errors.New("backup collection already in progress")
	ErrUnknownMode  = errors.New("no backup store for mode")
)

// Config configures the collector.
type Config struct {
	// MinBackupAge is the minimum age a backup must have before a sweep
	// deletes it.
	MinBackupAge time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		MinBackupAge: 7 * 24 * time.Hour,
	}
}

// Result is the outcome of one collection.
type Result struct {
	Deleted []string
	// Retained counts backups a sweep kept because they were too young.
	Retained int
	Errors   []error
	Duration time.Duration
}

// Collector deletes backups through the backup store that created them.
type Collector struct {
	stores map[string]backup.Store
	source *partition.Source
	config *Config
	logger *logging.Logger

	mu      sync.Mutex
	running bool
}

// NewCollector creates a collector. source is used to find remote backups
// during sweeps and may be nil.
func NewCollector(source *partition.Source, config *Config, logger *logging.Logger, stores ...backup.Store) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Collector{
		stores: make(map[string]backup.Store, len(stores)),
		source: source,
		config: config,
		logger: logger,
	}
	for _, s := range stores {
		c.stores[s.Mode()] = s
	}
	return c
}

func (c *Collector) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrGCInProgress
	}
	c.running = true
	return nil
}

func (c *Collector) end() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// DeleteRecords deletes the given backups. Failures are collected, not
// fatal.
func (c *Collector) DeleteRecords(ctx context.Context, records []backup.Record) (*Result, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	start := time.Now()
	result := &Result{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}
		store, ok := c.stores[rec.Mode]
		if !ok {
			result.Errors = append(result.Errors, fmt.Errorf("%w %q: %s", ErrUnknownMode, rec.Mode, rec.Location))
			continue
		}
		if err := store.Delete(ctx, rec.Location); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", rec.Location, err))
			continue
		}
		result.Deleted = append(result.Deleted, rec.Location)
	}
	result.Duration = time.Since(start)
	c.logger.Info("deleted run backups", "deleted", len(result.Deleted), "errors", len(result.Errors))
	return result, nil
}

// Sweep deletes backups under prefix older than MinBackupAge at now: remote
// backups next to the partitions and local backups under the local store's
// directory.
func (c *Collector) Sweep(ctx context.Context, prefix string, now time.Time) (*Result, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	start := time.Now()
	result := &Result{}
	cutoff := now.Add(-c.config.MinBackupAge)

	var candidates []backup.Record
	if remote, ok := c.stores["remote"]; ok && c.source != nil {
		objects, err := c.source.ListBackups(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range objects {
			candidates = append(candidates, backup.Record{Location: obj.Key, Mode: remote.Mode()})
		}
	}
	if local, ok := c.stores["local"].(*backup.Local); ok {
		root := filepath.Join(local.Dir(), filepath.FromSlash(prefix))
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && partition.IsBackupKey(d.Name()) {
				candidates = append(candidates, backup.Record{Location: path, Mode: local.Mode()})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	for _, rec := range candidates {
		created, ok := backup.ParseTime(rec.Location)
		if !ok || created.After(cutoff) {
			result.Retained++
			continue
		}
		if err := c.stores[rec.Mode].Delete(ctx, rec.Location); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", rec.Location, err))
			continue
		}
		result.Deleted = append(result.Deleted, rec.Location)
	}
	result.Duration = time.Since(start)
	c.logger.Info("swept stale backups", "prefix", prefix, "deleted", len(result.Deleted),
		"retained", result.Retained, "errors", len(result.Errors))
	return result, nil
}
