package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"DigitCast/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIGITCAST_"

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      ServerConfig     `yaml:"server"`
	Logging     LoggingConfig    `yaml:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Predictor   PredictorConfig  `yaml:"predictor"`
	LogSource   LogSourceConfig  `yaml:"log_source"`
	Sessions    SessionsConfig   `yaml:"sessions"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	RemoteModel RemoteConfig     `yaml:"remote_model"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
}

type LoggingConfig struct {
	Level         string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format        string        `yaml:"format" default:"json" validate:"oneof=json console"`
	Output        string        `yaml:"output" default:"stdout" validate:"required"`
	CollectTopic  string        `yaml:"collect_topic"`
	CollectLevel  string        `yaml:"collect_level" default:"error" validate:"oneof=warn error"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
	FlushCount    int           `yaml:"flush_count" default:"100"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

type GBDTConfig struct {
	Estimators     int     `yaml:"estimators" default:"100" validate:"gt=0"`
	LearningRate   float64 `yaml:"learning_rate" default:"0.1" validate:"gt=0,lte=1"`
	MaxDepth       int     `yaml:"max_depth" default:"3" validate:"gt=0,lte=16"`
	Subsample      float64 `yaml:"subsample" default:"1.0" validate:"gt=0,lte=1"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf" default:"1" validate:"gt=0"`
	Seed           int64   `yaml:"seed" default:"42"`
}

type PredictorConfig struct {
	WindowSize int        `yaml:"window_size" default:"5" validate:"gt=0,lte=18"`
	Capacity   int        `yaml:"capacity" default:"10" validate:"gt=0,lte=1000"`
	Backend    string     `yaml:"backend" default:"gbdt" validate:"oneof=gbdt frequency remote"`
	Smoothing  float64    `yaml:"smoothing" default:"1.0" validate:"gte=0"`
	GBDT       GBDTConfig `yaml:"gbdt"`
}

type LogSourceConfig struct {
	Type   string `yaml:"type" default:"csv" validate:"oneof=csv clickhouse none"`
	Path   string `yaml:"path" default:"data/outcomes.csv"`
	Column string `yaml:"column" default:"number"`
	Table  string `yaml:"table" default:"outcomes"`
}

type SessionsConfig struct {
	MaxSessions  int           `yaml:"max_sessions" default:"1000" validate:"gt=0"`
	ObserveRate  float64       `yaml:"observe_rate" default:"20" validate:"gte=0"`
	ObserveBurst int           `yaml:"observe_burst" default:"40" validate:"gte=0"`
	SnapshotTTL  time.Duration `yaml:"snapshot_ttl" default:"24h"`
	SinkTimeout  time.Duration `yaml:"sink_timeout" default:"2s"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	OutcomesTopic string   `yaml:"outcomes_topic" default:"digitcast.outcomes"`
	TurnsTopic    string   `yaml:"turns_topic" default:"digitcast.turns"`
	RequiredAcks  int      `yaml:"required_acks" default:"-1"`
	Compression   string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer      struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID     string        `yaml:"group_id" default:"digitcast"`
		StartOffset string        `yaml:"start_offset" default:"earliest" validate:"oneof=earliest latest"`
		Workers     int           `yaml:"workers" default:"4"`
		BufferSize  int           `yaml:"buffer_size" default:"64"`
		RetryMax    int           `yaml:"retry_max" default:"3"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic    string        `yaml:"dlq_topic" default:"digitcast.outcomes.dlq"`
		MinBytes    int           `yaml:"min_bytes" default:"1"`
		MaxBytes    int           `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"digitcast"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	LedgerTable      string        `yaml:"ledger_table" default:"ledger_entries"`
	InitSchema       bool          `yaml:"init_schema" default:"true"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"digitcast"`
}

type RemoteConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout" default:"3s"`
	MaxRetries      uint64        `yaml:"max_retries" default:"2"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"5"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for" default:"30s"`
}

var validate = validator.New()

// Default returns a config holding only the struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// An empty path starts from the defaults.
func LoadWithEnv(path string) (*Config, error) {
	c := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	env := func(name string) string { return strings.TrimSpace(getenv(EnvPrefix + name)) }

	if v := env("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	c.Server.Port = util.ParseIntDefault(env("SERVER_PORT"), c.Server.Port)
	if v := env("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := env("BACKEND"); v != "" {
		c.Predictor.Backend = v
	}
	c.Predictor.WindowSize = util.ParseIntDefault(env("WINDOW_SIZE"), c.Predictor.WindowSize)
	c.Predictor.Capacity = util.ParseIntDefault(env("CAPACITY"), c.Predictor.Capacity)
	if v := env("LOG_PATH"); v != "" {
		c.LogSource.Path = v
	}
	if v := env("LOG_COLUMN"); v != "" {
		c.LogSource.Column = v
	}
	c.Kafka.Enabled = util.ParseBoolDefault(env("KAFKA_ENABLED"), c.Kafka.Enabled)
	if v := util.SplitCSV(env("KAFKA_BROKERS")); len(v) > 0 {
		c.Kafka.Brokers = v
	}
	c.ClickHouse.Enabled = util.ParseBoolDefault(env("CLICKHOUSE_ENABLED"), c.ClickHouse.Enabled)
	if v := env("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := env("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	c.Redis.Enabled = util.ParseBoolDefault(env("REDIS_ENABLED"), c.Redis.Enabled)
	if v := env("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := env("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := env("REMOTE_MODEL_URL"); v != "" {
		c.RemoteModel.URL = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.Predictor.Backend == "remote" && c.RemoteModel.URL == "" {
		errs = append(errs, fmt.Errorf("remote_model.url is required for backend 'remote'"))
	}
	if c.LogSource.Type == "csv" && c.LogSource.Path == "" {
		errs = append(errs, fmt.Errorf("log_source.path is required for type 'csv'"))
	}
	if c.LogSource.Type == "clickhouse" && !c.ClickHouse.Enabled {
		errs = append(errs, fmt.Errorf("log_source.type 'clickhouse' requires clickhouse.enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled"))
	}
	if c.Logging.CollectTopic != "" && !c.Kafka.Enabled {
		errs = append(errs, fmt.Errorf("logging.collect_topic requires kafka.enabled"))
	}
	return errors.Join(errs...)
}
