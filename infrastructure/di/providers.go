package di

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/application/services"
	"github.com/Eashwar-S/knowledge-map/infrastructure/config"
	"github.com/Eashwar-S/knowledge-map/infrastructure/messaging/eventbridge"
	"github.com/Eashwar-S/knowledge-map/infrastructure/observability"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/badger"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/decorators"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/dynamodb"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/file"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/memory"
	redisstore "github.com/Eashwar-S/knowledge-map/infrastructure/persistence/redis"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/sqlite"
	"github.com/Eashwar-S/knowledge-map/pkg/extensions"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// prometheusNamespace prefixes every exported Prometheus metric
const prometheusNamespace = "knowledge_map"

// Backends holds the storage clients the configured backends need. Clients
// for backends that are not configured are nil.
type Backends struct {
	Badger   *badger.DB
	SQLite   *sqlite.DB
	Redis    *goredis.Client
	DynamoDB *awsdynamodb.Client
}

func uses(cfg *config.Config, backend string) bool {
	return cfg.Storage.SnapshotBackend == backend || cfg.Storage.HistoryBackend == backend
}

// ProvideLogLevel creates the level shared by the logger and the config watcher
func ProvideLogLevel(cfg *config.Config) (zap.AtomicLevel, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level: %w", err)
	}
	return zap.NewAtomicLevelAt(level), nil
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}

// ProvideAWSConfig loads AWS configuration. Nothing is loaded when no
// component talks to AWS.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	if !cfg.UsesAWS() {
		return aws.Config{}, nil
	}
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client when a dynamodb backend is configured
func ProvideDynamoDBClient(cfg *config.Config, awsCfg aws.Config) *awsdynamodb.Client {
	if !uses(cfg, config.BackendDynamoDB) {
		return nil
	}
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client when a bus is configured
func ProvideEventBridgeClient(cfg *config.Config, awsCfg aws.Config) *awseventbridge.Client {
	if cfg.AWS.EventBusName == "" {
		return nil
	}
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client when it is the metrics sink
func ProvideCloudWatchClient(cfg *config.Config, awsCfg aws.Config) *awscloudwatch.Client {
	if !cfg.Metrics.UsesCloudWatch() {
		return nil
	}
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideBadgerDB opens BadgerDB when a badger backend is configured
func ProvideBadgerDB(cfg *config.Config, logger *zap.Logger) (*badger.DB, func(), error) {
	if !uses(cfg, config.BackendBadger) {
		return nil, func() {}, nil
	}
	bcfg := badger.DefaultConfig(cfg.Storage.BadgerPath)
	if cfg.Storage.BadgerInMemory {
		bcfg = badger.InMemoryConfig()
	}
	db, err := badger.Open(bcfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close badger", zap.Error(err))
		}
	}, nil
}

// ProvideSQLiteDB opens the SQLite database when a sqlite backend is configured
func ProvideSQLiteDB(cfg *config.Config, logger *zap.Logger) (*sqlite.DB, func(), error) {
	if !uses(cfg, config.BackendSQLite) {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create sqlite dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Storage.SQLitePath, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close sqlite", zap.Error(err))
		}
	}, nil
}

// ProvideRedisClient connects to Redis when a redis backend is configured
func ProvideRedisClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*goredis.Client, func(), error) {
	if !uses(cfg, config.BackendRedis) {
		return nil, func() {}, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Storage.RedisAddr, err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close redis client", zap.Error(err))
		}
	}, nil
}

func loggingConfig(cfg *config.Config) decorators.LoggingConfig {
	lc := decorators.DefaultLoggingConfig()
	if cfg.Storage.SlowThreshold > 0 {
		lc.SlowThreshold = cfg.Storage.SlowThreshold
	}
	return lc
}

// ProvideSnapshotStore creates the configured snapshot store wrapped with logging
func ProvideSnapshotStore(cfg *config.Config, b Backends, logger *zap.Logger) (ports.SnapshotStore, error) {
	var store ports.SnapshotStore

	switch cfg.Storage.SnapshotBackend {
	case config.BackendMemory:
		store = memory.NewSnapshotStore()
	case config.BackendFile:
		s, err := file.NewSnapshotStore(cfg.Storage.DataDir, logger)
		if err != nil {
			return nil, err
		}
		store = s
	case config.BackendBadger:
		store = badger.NewSnapshotStore(b.Badger)
	case config.BackendSQLite:
		store = sqlite.NewSnapshotStore(b.SQLite)
	case config.BackendRedis:
		store = redisstore.NewSnapshotStore(b.Redis, cfg.Storage.RedisKeyPrefix, logger)
	case config.BackendDynamoDB:
		store = dynamodb.NewSnapshotStore(b.DynamoDB, cfg.Storage.DynamoDBTable, logger)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Storage.SnapshotBackend)
	}

	logger.Info("Snapshot store ready", zap.String("backend", cfg.Storage.SnapshotBackend))
	return decorators.NewLoggingSnapshotStore(store, logger, loggingConfig(cfg)), nil
}

// ProvideHistoryLog creates the configured history log. Decorator order:
// Base -> Circuit Breaker -> Logging.
func ProvideHistoryLog(cfg *config.Config, b Backends, logger *zap.Logger) (ports.HistoryLog, error) {
	var log ports.HistoryLog

	switch cfg.Storage.HistoryBackend {
	case config.BackendMemory:
		log = memory.NewHistoryLog()
	case config.BackendFile:
		l, err := file.NewHistoryLog(cfg.Storage.DataDir, logger)
		if err != nil {
			return nil, err
		}
		log = l
	case config.BackendBadger:
		log = badger.NewHistoryLog(b.Badger)
	case config.BackendSQLite:
		log = sqlite.NewHistoryLog(b.SQLite)
	case config.BackendRedis:
		log = redisstore.NewHistoryLog(b.Redis, cfg.Storage.RedisKeyPrefix)
	case config.BackendDynamoDB:
		log = dynamodb.NewHistoryLog(b.DynamoDB, cfg.Storage.DynamoDBTable)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Storage.HistoryBackend)
	}

	if cfg.Breaker.Enabled {
		bc := decorators.DefaultCircuitBreakerConfig()
		if cfg.Breaker.MinRequests > 0 {
			bc.MinRequests = cfg.Breaker.MinRequests
		}
		if cfg.Breaker.FailureRatio > 0 {
			bc.FailureThreshold = cfg.Breaker.FailureRatio
		}
		if cfg.Breaker.OpenTimeout > 0 {
			bc.Timeout = cfg.Breaker.OpenTimeout
		}
		log = decorators.NewCircuitBreakerHistoryLog(log, bc, logger)
	}

	logger.Info("History log ready",
		zap.String("backend", cfg.Storage.HistoryBackend),
		zap.Bool("circuit_breaker", cfg.Breaker.Enabled),
	)
	return decorators.NewLoggingHistoryLog(log, logger, loggingConfig(cfg)), nil
}

// ProvideCollector creates the Prometheus collector when it is the metrics sink
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.UsesPrometheus() {
		return nil
	}
	return observability.NewCollector(prometheusNamespace)
}

// ProvideCloudWatchMetrics creates the buffering CloudWatch recorder and
// starts its flush loop
func ProvideCloudWatchMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) (*observability.CloudWatchMetrics, func()) {
	if client == nil {
		return nil, func() {}
	}
	namespace := fmt.Sprintf("%s/%s", cfg.Metrics.Namespace, cfg.Environment)
	m := observability.NewCloudWatchMetrics(client, namespace, logger)
	m.Start(cfg.Metrics.FlushInterval)
	return m, func() {
		if err := m.Stop(context.Background()); err != nil {
			logger.Warn("Final metrics flush failed", zap.Error(err))
		}
	}
}

// ProvideMetricsRecorder fans out to every configured sink
func ProvideMetricsRecorder(collector *observability.Collector, cw *observability.CloudWatchMetrics) ports.MetricsRecorder {
	var recorders observability.MultiRecorder
	if collector != nil {
		recorders = append(recorders, collector)
	}
	if cw != nil {
		recorders = append(recorders, cw)
	}
	switch len(recorders) {
	case 0:
		return observability.NoopMetrics{}
	case 1:
		return recorders[0]
	default:
		return recorders
	}
}

// ProvideHookManager creates the after-commit hook manager and registers
// the EventBridge publisher when a bus is configured
func ProvideHookManager(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) *extensions.HookManager {
	hooks := extensions.NewHookManager()
	if client != nil {
		publisher := eventbridge.NewPublisher(client, cfg.AWS.EventBusName, logger)
		hooks.Register(extensions.HookAfterCommit, "eventbridge", publisher.Publish)
		logger.Info("Publishing changes to EventBridge", zap.String("bus", cfg.AWS.EventBusName))
	}
	return hooks
}

// ProvideChangePublisher exposes the hook manager as the service's publisher
func ProvideChangePublisher(hooks *extensions.HookManager) ports.ChangePublisher {
	return hooks
}

// ProvideRetryPolicy maps the retry settings onto the service policy
func ProvideRetryPolicy(cfg *config.Config) services.RetryPolicy {
	return RetryPolicyFromConfig(cfg.Retry)
}

// RetryPolicyFromConfig keeps the default backoff and jitter factors
func RetryPolicyFromConfig(rc config.RetryConfig) services.RetryPolicy {
	policy := services.DefaultRetryPolicy()
	policy.MaxRetries = rc.MaxRetries
	policy.BaseDelay = rc.BaseDelay
	policy.MaxDelay = rc.MaxDelay
	return policy
}

// ProvideGraphService creates the graph service
func ProvideGraphService(
	cfg *config.Config,
	snapshots ports.SnapshotStore,
	history ports.HistoryLog,
	publisher ports.ChangePublisher,
	metrics ports.MetricsRecorder,
	policy services.RetryPolicy,
	logger *zap.Logger,
) *services.GraphService {
	return services.NewGraphService(snapshots, history, publisher, metrics, logger, policy).
		WithDefaultGraph(cfg.DefaultGraph)
}
