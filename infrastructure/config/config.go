package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Metrics sinks
const (
	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsBoth       = "both"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"server_address"`
	Environment   string `yaml:"environment"`
	LogLevel      string `yaml:"log_level"`
	DefaultGraph  string `yaml:"default_graph"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`

	EnableCORS         bool     `yaml:"enable_cors"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// RateLimitPerMinute caps requests per client IP. Zero disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	Storage StorageConfig `yaml:"storage"`
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"history_breaker"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	AWS     AWSConfig     `yaml:"aws"`

	// ConfigFile is the YAML file the config was read from, if any
	ConfigFile string `yaml:"-"`
}

// StorageConfig selects and configures the snapshot and history backends
type StorageConfig struct {
	SnapshotBackend string        `yaml:"snapshot_backend"`
	HistoryBackend  string        `yaml:"history_backend"`
	DataDir         string        `yaml:"data_dir"`
	SQLitePath      string        `yaml:"sqlite_path"`
	BadgerPath      string        `yaml:"badger_path"`
	BadgerInMemory  bool          `yaml:"badger_in_memory"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	RedisKeyPrefix  string        `yaml:"redis_key_prefix"`
	DynamoDBTable   string        `yaml:"dynamodb_table"`
	SlowThreshold   time.Duration `yaml:"slow_threshold"`
}

// RetryConfig bounds the compare-and-set retry loop of a mutation
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// BreakerConfig configures the circuit breaker in front of the history log
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

// MetricsConfig selects the metrics sink
type MetricsConfig struct {
	Sink          string        `yaml:"sink"`
	Namespace     string        `yaml:"namespace"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

func (m MetricsConfig) UsesPrometheus() bool {
	return m.Sink == MetricsPrometheus || m.Sink == MetricsBoth
}

func (m MetricsConfig) UsesCloudWatch() bool {
	return m.Sink == MetricsCloudWatch || m.Sink == MetricsBoth
}

// TracingConfig configures OTLP trace export
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// AWSConfig holds AWS settings shared by the DynamoDB, EventBridge and
// CloudWatch clients
type AWSConfig struct {
	Region       string `yaml:"region"`
	EventBusName string `yaml:"event_bus_name"`
}

// Defaults returns the configuration used when nothing else is set
func Defaults() *Config {
	return &Config{
		ServerAddress: ":8080",
		Environment:   "development",
		LogLevel:      "info",
		DefaultGraph:  "default",
		MaxBodyBytes:  2 << 20,
		EnableCORS:    true,
		Storage: StorageConfig{
			SnapshotBackend: BackendFile,
			HistoryBackend:  BackendFile,
			DataDir:         "data",
			SQLitePath:      "data/knowledge-map.db",
			BadgerPath:      "data/badger",
			RedisAddr:       "localhost:6379",
			RedisKeyPrefix:  "knowledge-map:",
			DynamoDBTable:   "knowledge-map",
			SlowThreshold:   500 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxRetries: 16,
			BaseDelay:  2 * time.Millisecond,
			MaxDelay:   250 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			Enabled:      true,
			MinRequests:  5,
			FailureRatio: 0.6,
			OpenTimeout:  10 * time.Second,
		},
		Metrics: MetricsConfig{
			Sink:          MetricsPrometheus,
			Namespace:     "KnowledgeMap",
			FlushInterval: time.Minute,
		},
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		AWS: AWSConfig{
			Region: "us-west-2",
		},
	}
}

// LoadConfig loads configuration from defaults, the YAML file named by
// CONFIG_FILE (when set) and environment variables, in that order
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load layers defaults, the YAML file at path (skipped when empty) and the
// environment
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DefaultGraph = getEnv("DEFAULT_GRAPH", c.DefaultGraph)
	c.MaxBodyBytes = int64(getEnvInt("MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.CORSAllowedOrigins = strings.Split(origins, ",")
	}
	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)

	s := &c.Storage
	s.SnapshotBackend = getEnv("SNAPSHOT_BACKEND", s.SnapshotBackend)
	s.HistoryBackend = getEnv("HISTORY_BACKEND", s.HistoryBackend)
	s.DataDir = getEnv("DATA_DIR", s.DataDir)
	s.SQLitePath = getEnv("SQLITE_PATH", s.SQLitePath)
	s.BadgerPath = getEnv("BADGER_PATH", s.BadgerPath)
	s.BadgerInMemory = getEnvBool("BADGER_IN_MEMORY", s.BadgerInMemory)
	s.RedisAddr = getEnv("REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = getEnv("REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = getEnvInt("REDIS_DB", s.RedisDB)
	s.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", s.RedisKeyPrefix)
	s.DynamoDBTable = getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", s.DynamoDBTable))
	s.SlowThreshold = getEnvDuration("STORE_SLOW_THRESHOLD", s.SlowThreshold)

	c.Retry.MaxRetries = getEnvInt("MUTATION_MAX_RETRIES", c.Retry.MaxRetries)
	c.Retry.BaseDelay = getEnvDuration("MUTATION_RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = getEnvDuration("MUTATION_RETRY_MAX_DELAY", c.Retry.MaxDelay)

	c.Breaker.Enabled = getEnvBool("HISTORY_BREAKER_ENABLED", c.Breaker.Enabled)
	c.Breaker.MinRequests = uint32(getEnvInt("HISTORY_BREAKER_MIN_REQUESTS", int(c.Breaker.MinRequests)))
	c.Breaker.FailureRatio = getEnvFloat("HISTORY_BREAKER_FAILURE_RATIO", c.Breaker.FailureRatio)
	c.Breaker.OpenTimeout = getEnvDuration("HISTORY_BREAKER_OPEN_TIMEOUT", c.Breaker.OpenTimeout)

	c.Metrics.Sink = getEnv("METRICS_SINK", c.Metrics.Sink)
	c.Metrics.Namespace = getEnv("METRICS_NAMESPACE", c.Metrics.Namespace)
	c.Metrics.FlushInterval = getEnvDuration("METRICS_FLUSH_INTERVAL", c.Metrics.FlushInterval)

	c.Tracing.Enabled = getEnvBool("ENABLE_TRACING", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", c.Tracing.SampleRate)

	c.AWS.Region = getEnv("AWS_REGION", c.AWS.Region)
	c.AWS.EventBusName = getEnv("EVENT_BUS_NAME", c.AWS.EventBusName)
}

var (
	backends     = []string{BackendMemory, BackendFile, BackendBadger, BackendSQLite, BackendRedis, BackendDynamoDB}
	metricsSinks = []string{MetricsNone, MetricsPrometheus, MetricsCloudWatch, MetricsBoth}
	logLevels    = []string{"debug", "info", "warn", "error"}
)

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// Validate checks if the configuration is usable. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if !oneOf(c.Storage.SnapshotBackend, backends) {
		errs = append(errs, fmt.Errorf("SNAPSHOT_BACKEND %q is not one of %s", c.Storage.SnapshotBackend, strings.Join(backends, ", ")))
	}
	if !oneOf(c.Storage.HistoryBackend, backends) {
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND %q is not one of %s", c.Storage.HistoryBackend, strings.Join(backends, ", ")))
	}
	if !oneOf(c.Metrics.Sink, metricsSinks) {
		errs = append(errs, fmt.Errorf("METRICS_SINK %q is not one of %s", c.Metrics.Sink, strings.Join(metricsSinks, ", ")))
	}
	if !oneOf(strings.ToLower(c.LogLevel), logLevels) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of %s", c.LogLevel, strings.Join(logLevels, ", ")))
	}
	if c.DefaultGraph == "" {
		errs = append(errs, errors.New("DEFAULT_GRAPH is required"))
	}

	for _, backend := range []string{c.Storage.SnapshotBackend, c.Storage.HistoryBackend} {
		switch backend {
		case BackendFile:
			if c.Storage.DataDir == "" {
				errs = append(errs, errors.New("DATA_DIR is required for the file backend"))
			}
		case BackendSQLite:
			if c.Storage.SQLitePath == "" {
				errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
			}
		case BackendBadger:
			if c.Storage.BadgerPath == "" && !c.Storage.BadgerInMemory {
				errs = append(errs, errors.New("BADGER_PATH is required unless BADGER_IN_MEMORY is set"))
			}
		case BackendRedis:
			if c.Storage.RedisAddr == "" {
				errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
			}
		case BackendDynamoDB:
			if c.Storage.DynamoDBTable == "" {
				errs = append(errs, errors.New("DYNAMODB_TABLE is required for the dynamodb backend"))
			}
		}
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("MUTATION_MAX_RETRIES must not be negative"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		errs = append(errs, errors.New("MUTATION_RETRY_BASE_DELAY must not exceed MUTATION_RETRY_MAX_DELAY"))
	}
	if c.Breaker.Enabled && (c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1) {
		errs = append(errs, errors.New("HISTORY_BREAKER_FAILURE_RATIO must be in (0, 1]"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("TRACING_SAMPLE_RATE must be in [0, 1]"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must not be negative"))
	}

	if c.IsProduction() && c.Storage.SnapshotBackend == BackendMemory {
		errs = append(errs, errors.New("the memory snapshot backend is not allowed in production"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UsesAWS reports whether any configured component needs AWS credentials
func (c *Config) UsesAWS() bool {
	return c.Storage.SnapshotBackend == BackendDynamoDB ||
		c.Storage.HistoryBackend == BackendDynamoDB ||
		c.Metrics.UsesCloudWatch() ||
		c.AWS.EventBusName != ""
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
