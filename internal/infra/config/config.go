package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Directory DirectorySettings `mapstructure:"directory"`
	Session   SessionSettings   `mapstructure:"session"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	Sync      SyncSettings      `mapstructure:"sync"`
	TwoFactor TwoFactorSettings `mapstructure:"two_factor"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the session lookaside cache connection.
type RedisSettings struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	DB            int           `mapstructure:"db"`
	Password      string        `mapstructure:"password"`
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
	SessionPrefix string        `mapstructure:"session_prefix"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

// KafkaSettings configures the event bus producer and the directory change
// consumer group.
type KafkaSettings struct {
	Brokers        []string `mapstructure:"brokers"`
	TopicPrefix    string   `mapstructure:"topic_prefix"`
	Async          bool     `mapstructure:"async"`
	DirectoryTopic string   `mapstructure:"directory_topic"`
	ConsumerGroup  string   `mapstructure:"consumer_group"`
}

// DirectorySettings configures the external identity provider client.
type DirectorySettings struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionSettings configures the session lifecycle manager.
type SessionSettings struct {
	MaxActive       int           `mapstructure:"max_active"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LockoutSettings configures failed-login lock policy and the sweep cadence.
type LockoutSettings struct {
	FailedLoginThreshold int           `mapstructure:"failed_login_threshold"`
	LockDuration         time.Duration `mapstructure:"lock_duration"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

// SyncSettings configures the directory synchronization processor.
type SyncSettings struct {
	PendingInterval time.Duration `mapstructure:"pending_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	StuckThreshold  time.Duration `mapstructure:"stuck_threshold"`
	Workers         int           `mapstructure:"workers"`
	BatchLimit      int           `mapstructure:"batch_limit"`
}

// TwoFactorSettings configures second-factor provisioning.
type TwoFactorSettings struct {
	Issuer string `mapstructure:"issuer"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ACCOUNT")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.session_prefix",
		"redis.session_ttl",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.directory_topic",
		"kafka.consumer_group",
		"directory.base_url",
		"directory.token",
		"directory.timeout",
		"session.max_active",
		"session.ttl",
		"session.refresh_ttl",
		"session.cleanup_interval",
		"lockout.failed_login_threshold",
		"lockout.lock_duration",
		"lockout.sweep_interval",
		"sync.pending_interval",
		"sync.retry_interval",
		"sync.reclaim_interval",
		"sync.max_retries",
		"sync.stuck_threshold",
		"sync.workers",
		"sync.batch_limit",
		"two_factor.issuer",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "account-core")
	v.SetDefault("app.env", "development")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "account")
	v.SetDefault("postgres.password", "account_password")
	v.SetDefault("postgres.database", "account")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.session_prefix", "account:session")
	v.SetDefault("redis.session_ttl", "10m")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "account")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.directory_topic", "directory.changes")
	v.SetDefault("kafka.consumer_group", "account-core-directory")

	v.SetDefault("directory.base_url", "http://localhost:8081")
	v.SetDefault("directory.token", "")
	v.SetDefault("directory.timeout", "10s")

	v.SetDefault("session.max_active", 5)
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.refresh_ttl", "168h")
	v.SetDefault("session.cleanup_interval", "15m")

	v.SetDefault("lockout.failed_login_threshold", 5)
	v.SetDefault("lockout.lock_duration", "30m")
	v.SetDefault("lockout.sweep_interval", "5m")

	v.SetDefault("sync.pending_interval", "2m")
	v.SetDefault("sync.retry_interval", "10m")
	v.SetDefault("sync.reclaim_interval", "30m")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.stuck_threshold", "30m")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.batch_limit", 100)

	v.SetDefault("two_factor.issuer", "traveloka")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "account-core")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "ACCOUNT_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
