package server

import (
	"context"
	"io"
	"time"

	"FinScan/internal/domain/models"
	pkgch "FinScan/pkg/clickhouse"
	"FinScan/pkg/config"
	xhttp "FinScan/pkg/http"
	pkgkafka "FinScan/pkg/kafka"
	applogger "FinScan/pkg/logger"
	"FinScan/pkg/queue"
	"FinScan/pkg/scheduler"
)

// InstrumentSeeder persists the configured scan universe at startup.
type InstrumentSeeder interface {
	UpsertInstruments(ctx context.Context, instruments []models.Instrument) error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	scheduler   *scheduler.Scheduler
	queue       *queue.RedisQueue
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	seeder      InstrumentSeeder
	seed        []models.Instrument
	chClient    *pkgch.Client
	cache       io.Closer
	events      io.Closer
}

// New creates a new App instance with its mandatory dependencies.
func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler, chClient *pkgch.Client, cache io.Closer) *App {
	return &App{
		cfg:         cfg,
		logger:      l,
		httpHandler: handler,
		chClient:    chClient,
		cache:       cache,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

func (a *App) SetScheduler(s *scheduler.Scheduler) { a.scheduler = s }

func (a *App) SetQueue(q *queue.RedisQueue) { a.queue = q }

func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = h
}

func (a *App) SetEventPublisher(p io.Closer) { a.events = p }

// SetInstruments registers the rows written to the instruments table on start.
func (a *App) SetInstruments(s InstrumentSeeder, seed []models.Instrument) {
	a.seeder = s
	a.seed = seed
}

// Run starts every component and blocks until ctx is done. Shutdown gets
// its own deadline so a cancelled ctx still drains in-flight work.
func (a *App) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		_ = a.shutdown()
		return err
	}
	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	l := a.logger

	if a.seeder != nil && len(a.seed) > 0 {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := a.seeder.UpsertInstruments(sctx, a.seed)
		cancel()
		if err != nil {
			l.Error("instrument seed failed", applogger.Error(err))
			return err
		}
		l.Info("instruments seeded", applogger.Int("count", len(a.seed)))
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			l.Error("job queue start error", applogger.Error(err))
			return err
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			l.Error("kafka consumer start error", applogger.String("topic", a.kh.Topic()), applogger.Error(err))
			return err
		}
	}

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
	)
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("http server started", applogger.Int("port", a.cfg.Server.Port))
	return nil
}

// shutdown stops producers of work before the clients they depend on.
func (a *App) shutdown() error {
	l := a.logger
	l.Info("shutting down", applogger.Duration("timeout", a.cfg.Server.ShutdownTimeout))

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.queue != nil {
		if err := a.queue.Stop(stopCtx); err != nil {
			l.Warn("job queue stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(stopCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(stopCtx); err != nil {
			l.Error("http shutdown error", applogger.Error(err))
		}
	}

	l.RemoveCollector()
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
