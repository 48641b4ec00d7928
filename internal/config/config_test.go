package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ObjectStore.Endpoint != "http://localhost:9000" {
		t.Errorf("expected endpoint http://localhost:9000, got %s", cfg.ObjectStore.Endpoint)
	}
	if cfg.Batch.EventTimeBump != 10*time.Second {
		t.Errorf("expected event time bump 10s, got %s", cfg.Batch.EventTimeBump)
	}
	if cfg.Query.MaxWait != 5*time.Minute {
		t.Errorf("expected max wait 5m, got %s", cfg.Query.MaxWait)
	}
	if cfg.Batch.GetBackupMode() != BackupLocal {
		t.Errorf("expected local backups by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OFFSTORE_OBJECT_STORE_BUCKET", "other-bucket")
	t.Setenv("OFFSTORE_BATCH_MUTATE_WORKERS", "3")
	t.Setenv("OFFSTORE_BATCH_EVENT_TIME_BUMP", "5s")
	t.Setenv("OFFSTORE_QUERY_DRIVER", "sqlite")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ObjectStore.Bucket != "other-bucket" {
		t.Errorf("expected bucket other-bucket, got %s", cfg.ObjectStore.Bucket)
	}
	if cfg.Batch.GetMutateWorkers() != 3 {
		t.Errorf("expected 3 mutate workers, got %d", cfg.Batch.GetMutateWorkers())
	}
	if cfg.Batch.EventTimeBump != 5*time.Second {
		t.Errorf("expected bump 5s, got %s", cfg.Batch.EventTimeBump)
	}
	if cfg.Query.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Query.Driver)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offstore.yaml")
	content := `
log_level: debug
object_store:
  type: fs
  root_path: /data/store
dataset:
  location: lake/{dataset}/
  identity_column: customer_id
query:
  driver: pgx
  dsn: postgres://localhost/catalog
  poll_interval: 1s
batch:
  backup_mode: remote
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %s", cfg.LogLevel)
	}
	if cfg.ObjectStore.Type != "fs" || cfg.ObjectStore.RootPath != "/data/store" {
		t.Errorf("unexpected object store config: %+v", cfg.ObjectStore)
	}
	if cfg.Dataset.IdentityColumn != "customer_id" {
		t.Errorf("expected identity column customer_id, got %s", cfg.Dataset.IdentityColumn)
	}
	// Keys missing from the file keep their defaults.
	if cfg.Dataset.FileSuffix != ".parquet" {
		t.Errorf("expected default suffix, got %s", cfg.Dataset.FileSuffix)
	}
	if cfg.Query.PollInterval != time.Second {
		t.Errorf("expected poll interval 1s, got %s", cfg.Query.PollInterval)
	}
	if !cfg.Query.Enabled() {
		t.Error("expected query service enabled")
	}
	if cfg.Batch.GetBackupMode() != BackupRemote {
		t.Errorf("expected remote backup mode")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("OFFSTORE_DATASET_IDENTITY_COLUMN=order_id\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("OFFSTORE_ENV_FILE", envPath)
	// godotenv.Load sets process env; make sure the value is cleared afterwards.
	t.Setenv("OFFSTORE_DATASET_IDENTITY_COLUMN", "")
	os.Unsetenv("OFFSTORE_DATASET_IDENTITY_COLUMN")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dataset.IdentityColumn != "order_id" {
		t.Errorf("expected identity column from env file, got %s", cfg.Dataset.IdentityColumn)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"store type", func(c *Config) { c.ObjectStore.Type = "gcs" }},
		{"driver", func(c *Config) { c.Query.Driver = "oracle" }},
		{"backup mode", func(c *Config) { c.Batch.BackupMode = "tape" }},
		{"identity column", func(c *Config) { c.Dataset.IdentityColumn = "" }},
		{"negative bump", func(c *Config) { c.Batch.EventTimeBump = -time.Second }},
		{"negative read cache", func(c *Config) { c.Batch.ReadCacheBytes = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestResolveLocation(t *testing.T) {
	d := DatasetConfig{Location: "lake/{dataset}/data"}
	got, err := d.ResolveLocation("customers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "lake/customers/data/" {
		t.Errorf("expected lake/customers/data/, got %s", got)
	}

	if _, err := d.ResolveLocation(" "); !errors.Is(err, ErrUnresolvedDataset) {
		t.Errorf("expected ErrUnresolvedDataset, got %v", err)
	}
	if _, err := (DatasetConfig{}).ResolveLocation("x"); !errors.Is(err, ErrUnresolvedDataset) {
		t.Errorf("expected ErrUnresolvedDataset for empty location, got %v", err)
	}
}

func TestTableFor(t *testing.T) {
	q := QueryConfig{Database: "catalog", Table: "fs_{dataset}"}
	if got := q.TableFor("orders"); got != "catalog.fs_orders" {
		t.Errorf("expected catalog.fs_orders, got %s", got)
	}
	if got := (QueryConfig{}).TableFor("orders"); got != "orders" {
		t.Errorf("expected orders, got %s", got)
	}
}

func TestWorkerDefaults(t *testing.T) {
	var b BatchConfig
	if got, want := b.GetCountWorkers(), min(runtime.NumCPU(), 10); got != want {
		t.Errorf("count workers: expected %d, got %d", want, got)
	}
	if got, want := b.GetMutateWorkers(), min(runtime.NumCPU(), 5); got != want {
		t.Errorf("mutate workers: expected %d, got %d", want, got)
	}
}
