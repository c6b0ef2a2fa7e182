package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FinScan/internal/domain/models"
	"FinScan/internal/handler/api"
	internalrepo "FinScan/internal/repository"
	"FinScan/internal/service/calendar"
	"FinScan/internal/service/ratelimit"
	"FinScan/internal/services/features"
	"FinScan/internal/services/pattern"
	"FinScan/internal/usecase"
	"FinScan/pkg/cache"
	pkgch "FinScan/pkg/clickhouse"
	"FinScan/pkg/config"
	pkgkafka "FinScan/pkg/kafka"
	applogger "FinScan/pkg/logger"
	"FinScan/pkg/metrics"
	"FinScan/pkg/queue"
	"FinScan/pkg/scheduler"
	"FinScan/pkg/server"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:   cfg.Logger.Level,
		Format:  cfg.Logger.Format,
		Output:  cfg.Logger.Output,
		Service: "finscan",
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.SchemaStatements(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func ProvideCandleStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) *internalrepo.CHCandleStore {
	return internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database, l)
}

func ProvideBackupStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) *internalrepo.CHBackupStore {
	return internalrepo.NewCHBackupStore(ch, cfg.ClickHouse.Database, l)
}

func ProvideInstrumentStore(ch *pkgch.Client, cfg *config.Config) *internalrepo.CHInstrumentStore {
	return internalrepo.NewCHInstrumentStore(ch, cfg.ClickHouse.Database)
}

// ProvideRedisCache connects to Redis; the client also backs the job queue.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.Timeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideLayeredCache puts a small in-process layer in front of Redis.
func ProvideLayeredCache(rc *cache.RedisCache, cfg *config.Config) *cache.LayeredCache {
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Redis.MemorySize),
		cache.WithLayeredMemoryTTL(cfg.Redis.MemoryTTL),
		cache.WithLayeredSharedPrefixes(models.ScanKeyPrefix+":"),
	)
}

func ProvideScanCacheStore(lc *cache.LayeredCache) *internalrepo.CacheScanStore {
	return internalrepo.NewCacheScanStore(lc)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideCalendar(cfg *config.Config, l *applogger.Logger) *calendar.Exchange {
	return calendar.New(cfg.Calendar.MIC, l)
}

func ProvideFeatureEngine() *features.Engine {
	return features.NewEngine()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	pc := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  pc.MaxAttempts,
		WriteTimeout: pc.WriteTimeout,
		ReadTimeout:  pc.ReadTimeout,
		BatchSize:    pc.BatchSize,
		BatchBytes:   pc.BatchBytes,
		Linger:       pc.Linger,
		Async:        pc.Async,
		HashByKey:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes aggregation events and, when enabled,
// ships aggregated error logs through the same producer.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config, l *applogger.Logger) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	pub := internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
	if cfg.Logger.Collector.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collector.FlushInterval,
			CountThreshold: cfg.Logger.Collector.CountThreshold,
			Topic:          cfg.Logger.Collector.Topic,
			Service:        "finscan",
			IncludeWarn:    cfg.Logger.Collector.IncludeWarn,
			Publisher:      pub,
		})
	}
	return pub
}

func ProvideAggregator(
	candles *internalrepo.CHCandleStore,
	backups *internalrepo.CHBackupStore,
	engine *features.Engine,
	cal *calendar.Exchange,
	events *internalrepo.KafkaEventPublisher,
	m *metrics.Recorder,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.TimeframeAggregator {
	opts := []usecase.AggregatorOption{
		usecase.WithAggregatorMetrics(m),
		usecase.WithCatchUpDays(cfg.Aggregation.CatchUpDays),
		usecase.WithBackupRetention(cfg.Aggregation.BackupRetention),
		usecase.WithHistoryBars(cfg.Aggregation.HistoryBars),
		usecase.WithAggregatorStoreTimeout(cfg.Aggregation.StoreTimeout),
	}
	if events != nil {
		opts = append(opts, usecase.WithAggregatorEvents(events))
	}
	return usecase.NewTimeframeAggregator(candles, backups, engine, cal, l, opts...)
}

func ProvideCandleProvider(candles *internalrepo.CHCandleStore, cal *calendar.Exchange, cfg *config.Config) *usecase.StoreCandleProvider {
	return usecase.NewStoreCandleProvider(candles, cal.Location(), cfg.Scan.ProviderTimeout)
}

func ProvideOrchestrator(
	instruments *internalrepo.CHInstrumentStore,
	provider *usecase.StoreCandleProvider,
	m *metrics.Recorder,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.ScanOrchestrator {
	base := pattern.DefaultConfig()
	base.RangeLookback = cfg.Scan.RangeLookback
	base.DetectionWindow = cfg.Scan.DetectionWindow
	base.MinRangePct = cfg.Scan.MinRangePct
	base.MaxRangePct = cfg.Scan.MaxRangePct
	return usecase.NewScanOrchestrator(instruments, provider, base, m, l)
}

func ProvideResultCache(store *internalrepo.CacheScanStore, m *metrics.Recorder, l *applogger.Logger, cfg *config.Config) *usecase.ResultCache {
	return usecase.NewResultCache(store, l,
		usecase.WithResultTTL(cfg.Scan.ResultTTL),
		usecase.WithResultCacheMetrics(m),
	)
}

// ProvideJobQueue builds the Redis job queue with the aggregation job
// registered, or nil when the queue is disabled.
func ProvideJobQueue(cfg *config.Config, rc *cache.RedisCache, agg *usecase.TimeframeAggregator, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		JobTimeout: cfg.Queue.JobTimeout,
	}, rc.Client(), queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
	q.RegisterJob(usecase.NewAggregationJob(agg, l))
	return q
}

func ProvideScanService(
	orch *usecase.ScanOrchestrator,
	rc *usecase.ResultCache,
	agg *usecase.TimeframeAggregator,
	q *queue.RedisQueue,
	l *applogger.Logger,
) *usecase.ScanService {
	var opts []usecase.ScanServiceOption
	if q != nil {
		opts = append(opts, usecase.WithAggregationEnqueuer(usecase.NewQueueAggregationEnqueuer(q)))
	}
	return usecase.NewScanService(orch, rc, agg, l, opts...)
}

// precomputeGrid overlays configured axes on the default grid.
func precomputeGrid(cfg *config.Config) usecase.PrecomputeGrid {
	g := usecase.DefaultPrecomputeGrid()
	p := cfg.Scan.Precompute
	if len(p.Timeframes) > 0 {
		g.Timeframes = p.Timeframes
	}
	if len(p.Confidences) > 0 {
		g.Confidences = p.Confidences
	}
	if len(p.PhaseSets) > 0 {
		g.PhaseSets = p.PhaseSets
	}
	g.UniverseLimit = p.UniverseLimit
	g.BatchSize = p.BatchSize
	return g
}

func ProvidePrecomputer(svc *usecase.ScanService, rc *usecase.ResultCache, l *applogger.Logger, cfg *config.Config) *usecase.Precomputer {
	return usecase.NewPrecomputer(svc, rc, precomputeGrid(cfg), l)
}

// ProvideScheduler registers the nightly roll-up, the precompute sweep
// and the periodic cleanups. Locks live in Redis so only one replica
// runs a given job.
func ProvideScheduler(
	cfg *config.Config,
	lc *cache.LayeredCache,
	agg *usecase.TimeframeAggregator,
	pre *usecase.Precomputer,
	cal *calendar.Exchange,
	l *applogger.Logger,
) *scheduler.Scheduler {
	s := scheduler.New(l,
		scheduler.WithLocker(lc, cfg.Scheduler.LockPrefix),
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
	)
	loc := cal.Location()

	aggH, aggM := cfg.Scheduler.Aggregation.Clock()
	s.Register(&scheduler.Job{
		Name:        "aggregation",
		Description: "roll finer candles into coarser timeframes for recent trading days",
		Schedule:    scheduler.DailyAt(aggH, aggM, loc),
		Timeout:     cfg.Scheduler.Aggregation.Timeout,
		Handler: func(ctx context.Context) error {
			_, err := agg.RunAll(ctx)
			return err
		},
	})

	preH, preM := cfg.Scheduler.Precompute.Clock()
	s.Register(&scheduler.Job{
		Name:        "precompute",
		Description: "warm the scan result cache and drop expired entries",
		Schedule:    scheduler.DailyAt(preH, preM, loc),
		Timeout:     cfg.Scheduler.Precompute.Timeout,
		Handler: func(ctx context.Context) error {
			_, err := pre.Sweep(ctx)
			return err
		},
	})

	s.Register(&scheduler.Job{
		Name:        "cleanup",
		Description: "remove expired cache entries and backups past retention",
		Schedule:    scheduler.Every(cfg.Scheduler.Cleanup.Interval),
		Timeout:     10 * time.Minute,
		Handler: func(ctx context.Context) error {
			if _, err := pre.Cleanup(ctx); err != nil {
				return err
			}
			_, err := agg.CollectBackups(ctx)
			return err
		},
	})
	return s
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
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
	return consumer, nil
}

func ProvideKafkaCandlesHandler(
	cfg *config.Config,
	candles *internalrepo.CHCandleStore,
	engine *features.Engine,
	cal *calendar.Exchange,
	m *metrics.Recorder,
	l *applogger.Logger,
) *usecase.KafkaCandlesHandler {
	return usecase.NewKafkaCandlesHandler(cfg.Kafka.CandlesTopic, candles, engine, cal.Location(), m, l)
}

func ProvideCandlesUseCase(candles *internalrepo.CHCandleStore) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(candles)
}

// ProvideHTTPHandler exposes the scan service over Echo.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	svc *usecase.ScanService,
	candles *usecase.CandlesUseCase,
	cal *calendar.Exchange,
	sched *scheduler.Scheduler,
	q *queue.RedisQueue,
	ch *pkgch.Client,
	lc *cache.LayeredCache,
) *api.ScanEchoHandler {
	opts := []api.HandlerOption{
		api.WithJobs(sched),
		api.WithHealthCheck("clickhouse", ch),
		api.WithHealthCheck("redis", lc),
	}
	if q != nil {
		opts = append(opts, api.WithQueueStats(q))
	}
	if rl := cfg.Server.RateLimit; rl.Burst > 0 {
		opts = append(opts, api.WithRateLimit(ratelimit.New(rl.Burst, rl.PerSecond)))
	}
	return api.NewScanEchoHandler(l, svc, candles, cal.Location(), opts...)
}

// seedInstruments turns configured symbols into active equity rows.
func seedInstruments(cfg *config.Config) []models.Instrument {
	out := make([]models.Instrument, 0, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		out = append(out, models.Instrument{
			Symbol:   strings.ToUpper(strings.TrimSpace(in.Symbol)),
			Name:     in.Name,
			Exchange: in.Exchange,
			Type:     internalrepo.InstrumentTypeEquity,
			Active:   true,
		})
	}
	return out
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.ScanEchoHandler,
	sched *scheduler.Scheduler,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaCandlesHandler,
	instruments *internalrepo.CHInstrumentStore,
	ch *pkgch.Client,
	lc *cache.LayeredCache,
	events *internalrepo.KafkaEventPublisher,
) *server.App {
	app := server.New(cfg, l, handler, ch, lc)
	app.SetInstruments(instruments, seedInstruments(cfg))
	if cfg.Scheduler.Enabled {
		app.SetScheduler(sched)
	}
	if q != nil {
		app.SetQueue(q)
	}
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.LoggingHook{Logger: l, Slow: cfg.Server.SlowThreshold})
		app.SetConsumer(consumer, kh)
	}
	if events != nil {
		app.SetEventPublisher(events)
	}
	return app
}
