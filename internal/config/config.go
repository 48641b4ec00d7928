package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OFFSTORE_QUERY_DSN.
const EnvPrefix = "OFFSTORE"

// DatasetPlaceholder is replaced by the dataset id in Dataset.Location.
const DatasetPlaceholder = "{dataset}"

// ErrUnresolvedDataset is returned when a dataset id cannot be mapped to a storage location.
var ErrUnresolvedDataset = errors.New("cannot resolve storage location for dataset")

// BackupMode selects where partition backups are written.
type BackupMode string

const (
	BackupLocal  BackupMode = "local"
	BackupRemote BackupMode = "remote"
)

type Config struct {
	LogLevel    string            `mapstructure:"log_level" json:"log_level"`
	LogFormat   string            `mapstructure:"log_format" json:"log_format"`
	MetricsAddr string            `mapstructure:"metrics_addr" json:"metrics_addr"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" json:"object_store"`
	Dataset     DatasetConfig     `mapstructure:"dataset" json:"dataset"`
	Query       QueryConfig       `mapstructure:"query" json:"query"`
	Batch       BatchConfig       `mapstructure:"batch" json:"batch"`
}

type ObjectStoreConfig struct {
	Type      string `mapstructure:"type" json:"type"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	Bucket    string `mapstructure:"bucket" json:"bucket"`
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`
	Region    string `mapstructure:"region" json:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" json:"use_ssl"`
	RootPath  string `mapstructure:"root_path" json:"root_path"`
}

// DatasetConfig describes how a logical dataset maps onto partitions.
type DatasetConfig struct {
	// Location is the partition key prefix; may contain {dataset}.
	Location string `mapstructure:"location" json:"location"`
	// FileSuffix selects partition objects under Location.
	FileSuffix string `mapstructure:"file_suffix" json:"file_suffix"`
	// IdentityColumn holds the record identifier.
	IdentityColumn string `mapstructure:"identity_column" json:"identity_column"`
	// EventTimeColumn is detected from the schema when empty.
	EventTimeColumn string `mapstructure:"event_time_column" json:"event_time_column"`
}

// ResolveLocation returns the partition prefix for a dataset id.
func (c DatasetConfig) ResolveLocation(dataset string) (string, error) {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		return "", fmt.Errorf("%w: empty dataset id", ErrUnresolvedDataset)
	}
	loc := strings.TrimSpace(c.Location)
	if loc == "" {
		return "", fmt.Errorf("%w %q: dataset.location is not set", ErrUnresolvedDataset, dataset)
	}
	loc = strings.ReplaceAll(loc, DatasetPlaceholder, dataset)
	if !strings.HasSuffix(loc, "/") {
		loc += "/"
	}
	return loc, nil
}

// QueryConfig configures the indexed query service.
type QueryConfig struct {
	// Driver is sqlite, pgx or snowflake. Empty disables the query service.
	Driver       string        `mapstructure:"driver" json:"driver"`
	DSN          string        `mapstructure:"dsn" json:"dsn"`
	Database     string        `mapstructure:"database" json:"database"`
	Table        string        `mapstructure:"table" json:"table"`
	PathColumn   string        `mapstructure:"path_column" json:"path_column"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait" json:"max_wait"`
}

// Enabled reports whether a query service is configured.
func (c QueryConfig) Enabled() bool {
	return c.Driver != "" && c.DSN != ""
}

// TableFor returns the table name for a dataset, substituting {dataset}.
func (c QueryConfig) TableFor(dataset string) string {
	table := c.Table
	if table == "" {
		table = DatasetPlaceholder
	}
	table = strings.ReplaceAll(table, DatasetPlaceholder, dataset)
	if c.Database != "" {
		return c.Database + "." + table
	}
	return table
}

// BatchConfig holds worker bounds and mutation behavior.
type BatchConfig struct {
	// CountWorkers bounds the counting pass. 0 means min(NumCPU, 10).
	CountWorkers int `mapstructure:"count_workers" json:"count_workers"`
	// MutateWorkers bounds the mutation pass. 0 means min(NumCPU, 5).
	MutateWorkers  int           `mapstructure:"mutate_workers" json:"mutate_workers"`
	RetryAttempts  int           `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" json:"retry_base_delay"`
	// EventTimeBump is added to the event time of mutated rows. 0 disables.
	EventTimeBump time.Duration `mapstructure:"event_time_bump" json:"event_time_bump"`
	BackupMode    string        `mapstructure:"backup_mode" json:"backup_mode"`
	BackupDir     string        `mapstructure:"backup_dir" json:"backup_dir"`
	ReportDir     string        `mapstructure:"report_dir" json:"report_dir"`
	// ReadCacheBytes bounds the in-memory cache of partitions read by the
	// counting pass. 0 disables it.
	ReadCacheBytes int64 `mapstructure:"read_cache_bytes" json:"read_cache_bytes"`
}

// GetCountWorkers returns CountWorkers with default fallback.
func (c BatchConfig) GetCountWorkers() int {
	if c.CountWorkers <= 0 {
		return min(runtime.NumCPU(), 10)
	}
	return c.CountWorkers
}

// GetMutateWorkers returns MutateWorkers with default fallback.
func (c BatchConfig) GetMutateWorkers() int {
	if c.MutateWorkers <= 0 {
		return min(runtime.NumCPU(), 5)
	}
	return c.MutateWorkers
}

// GetBackupMode returns the typed backup mode, defaulting to local.
func (c BatchConfig) GetBackupMode() BackupMode {
	if strings.EqualFold(c.BackupMode, string(BackupRemote)) {
		return BackupRemote
	}
	return BackupLocal
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		ObjectStore: ObjectStoreConfig{
			Type:      "s3",
			Endpoint:  "http://localhost:9000",
			Bucket:    "offline-store",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Region:    "us-east-1",
			UseSSL:    false,
		},
		Dataset: DatasetConfig{
			Location:       "datasets/" + DatasetPlaceholder + "/data/",
			FileSuffix:     ".parquet",
			IdentityColumn: "record_id",
		},
		Query: QueryConfig{
			PathColumn:   "source_file",
			PollInterval: 5 * time.Second,
			MaxWait:      5 * time.Minute,
		},
		Batch: BatchConfig{
			RetryAttempts:  4,
			RetryBaseDelay: 200 * time.Millisecond,
			EventTimeBump:  10 * time.Second,
			BackupMode:     string(BackupLocal),
			BackupDir:      "offstore-backups",
			ReportDir:      ".",
			ReadCacheBytes: 256 << 20,
		},
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch strings.ToLower(c.ObjectStore.Type) {
	case "s3", "minio", "fs", "filesystem", "memory", "":
	default:
		return fmt.Errorf("unknown object_store.type %q", c.ObjectStore.Type)
	}
	switch strings.ToLower(c.Query.Driver) {
	case "", "sqlite", "pgx", "postgres", "snowflake":
	default:
		return fmt.Errorf("unknown query.driver %q", c.Query.Driver)
	}
	switch BackupMode(strings.ToLower(c.Batch.BackupMode)) {
	case "", BackupLocal, BackupRemote:
	default:
		return fmt.Errorf("unknown batch.backup_mode %q", c.Batch.BackupMode)
	}
	if c.Dataset.IdentityColumn == "" {
		return errors.New("dataset.identity_column is required")
	}
	if c.Batch.ReadCacheBytes < 0 {
		return errors.New("batch.read_cache_bytes must not be negative")
	}
	if c.Batch.EventTimeBump < 0 {
		return errors.New("batch.event_time_bump must not be negative")
	}
	return nil
}

// Load builds the configuration from defaults, an optional config file,
// an optional .env file and OFFSTORE_* environment variables, in that order.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, Default())

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv reads OFFSTORE_ENV_FILE, or ./.env when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	envFile := os.Getenv(EnvPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
		if _, err := os.Stat(envFile); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	v.SetDefault("object_store.type", d.ObjectStore.Type)
	v.SetDefault("object_store.endpoint", d.ObjectStore.Endpoint)
	v.SetDefault("object_store.bucket", d.ObjectStore.Bucket)
	v.SetDefault("object_store.access_key", d.ObjectStore.AccessKey)
	v.SetDefault("object_store.secret_key", d.ObjectStore.SecretKey)
	v.SetDefault("object_store.region", d.ObjectStore.Region)
	v.SetDefault("object_store.use_ssl", d.ObjectStore.UseSSL)
	v.SetDefault("object_store.root_path", d.ObjectStore.RootPath)

	v.SetDefault("dataset.location", d.Dataset.Location)
	v.SetDefault("dataset.file_suffix", d.Dataset.FileSuffix)
	v.SetDefault("dataset.identity_column", d.Dataset.IdentityColumn)
	v.SetDefault("dataset.event_time_column", d.Dataset.EventTimeColumn)

	v.SetDefault("query.driver", d.Query.Driver)
	v.SetDefault("query.dsn", d.Query.DSN)
	v.SetDefault("query.database", d.Query.Database)
	v.SetDefault("query.table", d.Query.Table)
	v.SetDefault("query.path_column", d.Query.PathColumn)
	v.SetDefault("query.poll_interval", d.Query.PollInterval)
	v.SetDefault("query.max_wait", d.Query.MaxWait)

	v.SetDefault("batch.count_workers", d.Batch.CountWorkers)
	v.SetDefault("batch.mutate_workers", d.Batch.MutateWorkers)
	v.SetDefault("batch.retry_attempts", d.Batch.RetryAttempts)
	v.SetDefault("batch.retry_base_delay", d.Batch.RetryBaseDelay)
	v.SetDefault("batch.event_time_bump", d.Batch.EventTimeBump)
	v.SetDefault("batch.backup_mode", d.Batch.BackupMode)
	v.SetDefault("batch.backup_dir", d.Batch.BackupDir)
	v.SetDefault("batch.report_dir", d.Batch.ReportDir)
	v.SetDefault("batch.read_cache_bytes", d.Batch.ReadCacheBytes)
}
