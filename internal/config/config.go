// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/logging"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/telemetry"
)

// Storage provider names accepted by storage.provider.
const (
	ProviderS3     = "s3"
	ProviderGCS    = "gcs"
	ProviderLocal  = "local"
	ProviderMemory = "memory"
)

// DefaultUserAgent mimics a desktop browser; some index servers reject library agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// Config captures all mirror configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig     `mapstructure:"source"`
	Storage StorageConfig    `mapstructure:"storage"`
	Sync    SyncConfig       `mapstructure:"sync"`
	Logging logging.Config   `mapstructure:"logging"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
	Tracing telemetry.Config `mapstructure:"tracing"`
	Report  ReportConfig     `mapstructure:"report"`
	Server  ServerConfig     `mapstructure:"server"`
}

// SourceConfig describes the remote directory tree being mirrored.
type SourceConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Subdirs        []string `mapstructure:"subdirs"`
	Suffix         string   `mapstructure:"suffix"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the destination bucket and backend.
type StorageConfig struct {
	Provider    string      `mapstructure:"provider"`
	Bucket      string      `mapstructure:"bucket"`
	Prefix      string      `mapstructure:"prefix"`
	ContentType string      `mapstructure:"content_type"`
	S3          S3Config    `mapstructure:"s3"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	Local       LocalConfig `mapstructure:"local"`
}

// S3Config holds S3-specific connection settings. Empty credentials fall back to
// the SDK's default chain (env, shared config, instance role).
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GCSConfig holds GCS-specific connection settings.
type GCSConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// LocalConfig points the filesystem backend at a directory.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// SyncConfig tunes reconciliation policy.
type SyncConfig struct {
	DryRun               bool `mapstructure:"dry_run"`
	Verify               bool `mapstructure:"verify"`
	ProtectFailedSubdirs bool `mapstructure:"protect_failed_subdirs"`
}

// MetricsConfig controls the Prometheus push at the end of a batch run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ReportConfig enables optional run-summary sinks.
type ReportConfig struct {
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PostgresConfig controls the run-history table.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ServerConfig controls the long-running serve mode.
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	APIKey          string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://download.bls.gov/pub/time.series/")
	v.SetDefault("source.subdirs", []string{"cu/", "ap/", "ce/"})
	v.SetDefault("source.suffix", ".txt")
	v.SetDefault("source.user_agent", DefaultUserAgent)
	v.SetDefault("source.timeout_seconds", 60)
	v.SetDefault("storage.provider", ProviderS3)
	v.SetDefault("storage.bucket", "dataquestrichardcarter")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.content_type", "text/plain; charset=utf-8")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.local.base_dir", "data/mirror")
	v.SetDefault("sync.dry_run", false)
	v.SetDefault("sync.verify", false)
	v.SetDefault("sync.protect_failed_subdirs", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "timeseries_mirror")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "timeseries-mirror")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("report.pubsub.project_id", "")
	v.SetDefault("report.pubsub.topic", "")
	v.SetDefault("report.postgres.dsn", "")
	v.SetDefault("report.postgres.table", "mirror_runs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.interval_seconds", 0)
	v.SetDefault("server.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.base_url must be an absolute URL, got %q", c.Source.BaseURL)
	}
	if len(c.Source.Subdirs) == 0 {
		return fmt.Errorf("source.subdirs must list at least one directory")
	}
	for _, s := range c.Source.Subdirs {
		if strings.Trim(s, "/ ") == "" {
			return fmt.Errorf("source.subdirs contains an empty entry")
		}
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case ProviderS3, ProviderGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for provider %q", c.Storage.Provider)
		}
		if (c.Storage.S3.AccessKeyID == "") != (c.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key must be set together")
		}
	case ProviderLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for provider %q", ProviderLocal)
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if (c.Report.PubSub.ProjectID == "") != (c.Report.PubSub.Topic == "") {
		return fmt.Errorf("report.pubsub.project_id and report.pubsub.topic must be set together")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.IntervalSeconds < 0 {
		return fmt.Errorf("server.interval_seconds must be >= 0")
	}
	return nil
}

// RequestTimeout converts the source timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// SyncInterval is the serve-mode period between scheduled runs; zero disables the ticker.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Server.IntervalSeconds) * time.Second
}
