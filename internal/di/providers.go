package di

import (
	"context"
	"fmt"
	"time"

	domrepo "DigitCast/internal/domain/repository"
	domsvc "DigitCast/internal/domain/service"
	"DigitCast/internal/handler/api"
	internalrepo "DigitCast/internal/repository"
	"DigitCast/internal/service/ratelimit"
	"DigitCast/internal/services/model"
	"DigitCast/internal/usecase"
	"DigitCast/pkg/cache"
	pkgch "DigitCast/pkg/clickhouse"
	"DigitCast/pkg/config"
	xhttp "DigitCast/pkg/http"
	pkgkafka "DigitCast/pkg/kafka"
	applogger "DigitCast/pkg/logger"
	"DigitCast/pkg/metrics"
	"DigitCast/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("service", "digitcast")), nil
}

// ProvideRegistry creates the Prometheus registry shared by every recorder.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pkgkafka.SetConsumerMetricsRegisterer(reg)
	pkgkafka.SetProducerMetricsRegisterer(reg)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideTrainer selects the classifier backend.
func ProvideTrainer(cfg *config.Config) (domsvc.Trainer, error) {
	switch cfg.Predictor.Backend {
	case model.BackendGBDT:
		g := cfg.Predictor.GBDT
		return model.NewGBDTTrainer(model.GBDTConfig{
			Estimators:     g.Estimators,
			LearningRate:   g.LearningRate,
			MaxDepth:       g.MaxDepth,
			Subsample:      g.Subsample,
			MinSamplesLeaf: g.MinSamplesLeaf,
			Seed:           g.Seed,
		})
	case model.BackendFrequency:
		return model.NewFrequencyTrainer(cfg.Predictor.Smoothing), nil
	case model.BackendRemote:
		r := cfg.RemoteModel
		return model.NewRemoteTrainer(model.RemoteConfig{
			BaseURL:         r.URL,
			Timeout:         r.Timeout,
			MaxRetries:      r.MaxRetries,
			BreakerFailures: r.BreakerFailures,
			BreakerOpenFor:  r.BreakerOpenFor,
		})
	default:
		return nil, fmt.Errorf("unknown predictor backend %q", cfg.Predictor.Backend)
	}
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if cfg.ClickHouse.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stmts := pkgch.Schema(cfg.ClickHouse.Database, cfg.LogSource.Table, cfg.ClickHouse.LedgerTable)
		if err := client.InitSchema(ctx, stmts); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithKeyedBalancer(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.MetadataHook{},
		pkgkafka.HookFuncs{
			Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
				l.Warn("kafka consumer: attempt failed",
					applogger.String("topic", topic),
					applogger.Int("partition", km.Partition),
					applogger.Int64("offset", km.Offset),
					applogger.String("trace_id", pkgkafka.TraceID(ctx)),
					applogger.Error(err),
				)
			},
		},
	))
	return consumer, nil
}

// ProvideRedisCache creates the snapshot cache, or nil when disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 5*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideLogSource selects where train reads the outcome log when no log is posted.
func ProvideLogSource(cfg *config.Config, ch *pkgch.Client) (domrepo.OutcomeLogSource, error) {
	switch cfg.LogSource.Type {
	case "csv":
		return internalrepo.NewCSVLogSource(cfg.LogSource.Path, cfg.LogSource.Column), nil
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("log source clickhouse: client disabled")
		}
		return internalrepo.NewCHOutcomeLog(ch.DBX(), cfg.ClickHouse.Database+"."+cfg.LogSource.Table), nil
	default:
		return nil, nil
	}
}

// ProvideSessionManager wires the session controller with whichever sinks are enabled.
func ProvideSessionManager(
	cfg *config.Config,
	trainer domsvc.Trainer,
	m domrepo.Metrics,
	l *applogger.Logger,
	src domrepo.OutcomeLogSource,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	redis *cache.RedisCache,
) *usecase.SessionManager {
	opts := []usecase.ManagerOption{usecase.WithLogSource(src)}
	if ch != nil {
		store := internalrepo.NewCHHistoryStore(ch.DBX(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.LedgerTable)
		store.SetLogger(l)
		opts = append(opts, usecase.WithHistoryStore(store))
	}
	if producer != nil {
		opts = append(opts, usecase.WithTurnPublisher(internalrepo.NewKafkaTurnPublisher(producer, cfg.Kafka.TurnsTopic)))
		if cfg.Logging.CollectTopic != "" {
			l.AddCollector(&applogger.CollectionConfig{
				TimeInterval:   cfg.Logging.FlushInterval,
				CountThreshold: cfg.Logging.FlushCount,
				Topic:          cfg.Logging.CollectTopic,
				Publisher:      producer,
				MinLevel:       cfg.Logging.CollectLevel,
			})
		}
	}
	if redis != nil {
		opts = append(opts, usecase.WithSnapshotStore(internalrepo.NewCacheSnapshotStore(redis)))
	}
	return usecase.NewSessionManager(usecase.ManagerConfig{
		MaxSessions: cfg.Sessions.MaxSessions,
		WindowSize:  cfg.Predictor.WindowSize,
		Capacity:    cfg.Predictor.Capacity,
		SnapshotTTL: cfg.Sessions.SnapshotTTL,
		SinkTimeout: cfg.Sessions.SinkTimeout,
	}, trainer, m, l, opts...)
}

// ProvideKafkaOutcomesHandler consumes observed outcomes.
func ProvideKafkaOutcomesHandler(cfg *config.Config, sessions *usecase.SessionManager, m domrepo.Metrics) *usecase.KafkaOutcomesHandler {
	return usecase.NewKafkaOutcomesHandler(cfg.Kafka.OutcomesTopic, sessions, m)
}

// ProvideSessionsHandler creates the HTTP handler with dependency health checks.
func ProvideSessionsHandler(
	cfg *config.Config,
	l *applogger.Logger,
	sessions *usecase.SessionManager,
	ch *pkgch.Client,
	redis *cache.RedisCache,
) *api.SessionsHandler {
	opts := []api.HandlerOption{
		api.WithObserveLimiter(ratelimit.New(cfg.Sessions.ObserveRate, cfg.Sessions.ObserveBurst)),
	}
	if ch != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", ch.Health))
	}
	if redis != nil {
		opts = append(opts, api.WithHealthCheck("redis", redis.Ping))
	}
	return api.NewSessionsHandler(l, sessions, opts...)
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.SessionsHandler, reg *prometheus.Registry) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true, cfg.Server.CORSOrigins...),
		xhttp.WithLogger(l),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsRegistry(reg, reg))
	} else {
		opts = append(opts, xhttp.WithMetricsRegistry(nil, prometheus.NewRegistry()))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	sessions *usecase.SessionManager,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaOutcomesHandler,
	ch *pkgch.Client,
	redis *cache.RedisCache,
) *server.App {
	return server.New(cfg, l, sessions, srv, consumer, kh, ch, redis)
}
