package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the platform.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Stream       StreamConfig       `mapstructure:"stream"`
	Screening    ScreeningConfig    `mapstructure:"screening"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Reports      ReportsConfig      `mapstructure:"reports"`
	Integrations IntegrationsConfig `mapstructure:"integrations"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	RateLimit string `mapstructure:"rate_limit"` // ulule/limiter formatted rate, e.g. "100-M"
}

// DatabaseConfig holds the Postgres pool settings plus the path of the
// dedicated SQLite file backing the audit ledger.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
	LedgerPath      string `mapstructure:"ledger_path"`
}

// RedisConfig holds cache settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds alert publishing settings.
type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AlertTopic string   `mapstructure:"alert_topic"`
	EventTopic string   `mapstructure:"event_topic"`
}

// JWTConfig holds token settings.
type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	Issuer          string        `mapstructure:"issuer"`
	ExpirationHours int           `mapstructure:"expiration_hours"`
	ClockSkew       time.Duration `mapstructure:"clock_skew"`
}

// StreamConfig holds the CEP engine tuning knobs. Defaults mirror the
// production thresholds used by the alerting scenarios.
type StreamConfig struct {
	QueueSize            int           `mapstructure:"queue_size"`
	Workers              int           `mapstructure:"workers"`
	HistorySize          int           `mapstructure:"history_size"`
	VelocityThreshold    int           `mapstructure:"velocity_threshold"`
	VelocityWindow       time.Duration `mapstructure:"velocity_window"`
	LargeAmountThreshold float64       `mapstructure:"large_amount_threshold"`
	StructuringThreshold float64       `mapstructure:"structuring_threshold"`
	StructuringWindow    time.Duration `mapstructure:"structuring_window"`
	HighRiskScore        float64       `mapstructure:"high_risk_score"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	ResolvedAlertTTL     time.Duration `mapstructure:"resolved_alert_ttl"`
}

// ScreeningConfig holds fuzzy-match thresholds for sanctions screening.
type ScreeningConfig struct {
	MatchThreshold float64       `mapstructure:"match_threshold"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// AuditConfig holds ledger settings.
type AuditConfig struct {
	Difficulty    int           `mapstructure:"difficulty"`
	BlockSize     int           `mapstructure:"block_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	EncryptionKey string        `mapstructure:"encryption_key"`
}

// ReportsConfig holds the generator output directory and scheduler cadence.
type ReportsConfig struct {
	OutputDir    string        `mapstructure:"output_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// IntegrationsConfig holds per-connector settings. Every connector carries a
// UseMock switch so the platform runs without external credentials.
type IntegrationsConfig struct {
	GoAML  HTTPConnectorConfig `mapstructure:"goaml"`
	PACRA  HTTPConnectorConfig `mapstructure:"pacra"`
	ZRA    HTTPConnectorConfig `mapstructure:"zra"`
	CCPC   HTTPConnectorConfig `mapstructure:"ccpc"`
	AD     ADConfig            `mapstructure:"ad"`
	Oracle OracleConfig        `mapstructure:"oracle"`
}

// HTTPConnectorConfig configures an HTTP-based regulator connector.
type HTTPConnectorConfig struct {
	UseMock bool          `mapstructure:"use_mock"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ADConfig configures the Active Directory connector.
type ADConfig struct {
	UseMock  bool   `mapstructure:"use_mock"`
	Address  string `mapstructure:"address"`
	BindDN   string `mapstructure:"bind_dn"`
	Password string `mapstructure:"password"`
	BaseDN   string `mapstructure:"base_dn"`
}

// OracleConfig configures the Oracle ERP connector.
type OracleConfig struct {
	UseMock bool   `mapstructure:"use_mock"`
	DSN     string `mapstructure:"dsn"`
}

// LoadConfig loads configuration from YAML files and NAPSA_* environment
// variables, applies defaults and validates the result.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("NAPSA")

	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config.yaml", "./configs/config.yaml", "/etc/napsa/config.yaml"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", "100-M")

	v.SetDefault("database.dsn", "host=localhost user=napsa password=napsa dbname=napsa_erm port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.ledger_path", "./audit_ledger.db")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.alert_topic", "erm.alerts")
	v.SetDefault("kafka.event_topic", "erm.events")

	v.SetDefault("jwt.issuer", "napsa-erm")
	v.SetDefault("jwt.expiration_hours", 8)
	v.SetDefault("jwt.clock_skew", time.Minute)

	v.SetDefault("stream.queue_size", 10000)
	v.SetDefault("stream.workers", 4)
	v.SetDefault("stream.history_size", 10000)
	v.SetDefault("stream.velocity_threshold", 15)
	v.SetDefault("stream.velocity_window", 5*time.Minute)
	v.SetDefault("stream.large_amount_threshold", 50000.0)
	v.SetDefault("stream.structuring_threshold", 10000.0)
	v.SetDefault("stream.structuring_window", 24*time.Hour)
	v.SetDefault("stream.high_risk_score", 0.7)
	v.SetDefault("stream.cleanup_interval", 5*time.Minute)
	v.SetDefault("stream.resolved_alert_ttl", time.Hour)

	v.SetDefault("screening.match_threshold", 0.85)
	v.SetDefault("screening.cache_ttl", 15*time.Minute)

	v.SetDefault("audit.difficulty", 4)
	v.SetDefault("audit.block_size", 10)
	v.SetDefault("audit.flush_interval", 30*time.Second)

	v.SetDefault("reports.output_dir", "./reports")
	v.SetDefault("reports.poll_interval", 5*time.Minute)

	for _, name := range []string{"goaml", "pacra", "zra", "ccpc"} {
		v.SetDefault("integrations."+name+".use_mock", true)
		v.SetDefault("integrations."+name+".timeout", 10*time.Second)
	}
	v.SetDefault("integrations.ad.use_mock", true)
	v.SetDefault("integrations.oracle.use_mock", true)
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.JWT.Secret == "" && cfg.Environment != "development" {
		return fmt.Errorf("jwt.secret is required outside development")
	}
	if cfg.Stream.QueueSize <= 0 {
		return fmt.Errorf("stream.queue_size must be positive")
	}
	if cfg.Stream.Workers <= 0 {
		return fmt.Errorf("stream.workers must be positive")
	}
	if cfg.Audit.Difficulty < 1 || cfg.Audit.Difficulty > 8 {
		return fmt.Errorf("audit.difficulty must be between 1 and 8")
	}
	if cfg.Screening.MatchThreshold <= 0 || cfg.Screening.MatchThreshold > 1 {
		return fmt.Errorf("screening.match_threshold must be in (0, 1]")
	}
	return nil
}
