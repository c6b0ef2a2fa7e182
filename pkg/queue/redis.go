package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	applogger "FinScan/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueueMode selects which halves of the queue run in this process.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

// RedisQueue keeps four keys under a prefix:
//
//	<prefix>:pending     list, LPUSH in / BLMOVE out
//	<prefix>:processing  list of messages held by a worker
//	<prefix>:retry       zset scored by the unix-ms retry time
//	<prefix>:dead        list of messages past RetryLimit
//
// Messages left in processing by a crashed worker are moved back to
// pending on Start.
type RedisQueue struct {
	log    *applogger.Logger
	cfg    *QueueConfig
	client *redis.Client
	mode   QueueMode
	prefix string
	poll   time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithPollInterval bounds how long a worker blocks on an empty queue and
// how often due retries are promoted.
func WithPollInterval(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.poll = d
		}
	}
}

func NewRedisQueue(l *applogger.Logger, cfg *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if cfg == nil {
		cfg = &QueueConfig{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if l == nil {
		l = applogger.NewNop()
	}
	r := &RedisQueue{
		log:    l,
		cfg:    cfg,
		client: client,
		mode:   mode,
		prefix: "finscan:queue",
		poll:   2 * time.Second,
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) key(name string) string { return r.prefix + ":" + name }

// RegisterJob routes messages of job.Type() to job. Ignored in producer-only mode.
func (r *RedisQueue) RegisterJob(job Job) {
	if r.mode == ModeProducerOnly {
		r.log.Warn("job registration ignored in producer-only mode", applogger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("job already registered", applogger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", applogger.String("job", job.Name()), applogger.String("type", job.Type()))
}

func (r *RedisQueue) job(msgType string) Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[msgType]
}

// Enqueue pushes payload as a new message of msgType.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	if r.mode == ModeConsumerOnly {
		return "", errors.New("enqueue not allowed in consumer-only mode")
	}
	msg, err := newMessage(uuid.NewString(), msgType, payload, r.now())
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := r.client.LPush(ctx, r.key("pending"), b).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	r.log.Debug("message enqueued", applogger.String("id", msg.ID), applogger.String("type", msgType))
	return msg.ID, nil
}

// Start recovers orphaned messages and launches workers plus the retry
// promoter. Producer-only queues start nothing.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}
	if r.mode == ModeProducerOnly {
		r.running = true
		return nil
	}
	if len(r.jobs) == 0 {
		return errors.New("no jobs registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if n, err := r.requeueOrphans(ctx); err != nil {
		cancel()
		return fmt.Errorf("requeue orphans: %w", err)
	} else if n > 0 {
		r.log.Warn("requeued orphaned messages", applogger.Int("count", n))
	}

	r.cancel = cancel
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.promoter(ctx)

	r.log.Info("job queue started",
		applogger.Int("workers", r.cfg.Workers),
		applogger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs or ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

func (r *RedisQueue) requeueOrphans(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.key("processing"), r.key("pending"), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := r.client.BLMove(ctx, r.key("pending"), r.key("processing"), "RIGHT", "LEFT", r.poll).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.log.Warn("queue fetch failed", applogger.Int("worker", id), applogger.Error(err))
			sleepCtx(ctx, r.poll)
			continue
		}
		r.process(raw)
	}
}

// process runs on a detached context so shutdown does not abort a job
// halfway; JobTimeout still bounds it.
func (r *RedisQueue) process(raw string) {
	ctx := context.Background()
	defer r.client.LRem(ctx, r.key("processing"), 1, raw)

	msg, err := decodeMessage(raw)
	if err != nil {
		r.log.Error("dropping undecodable message", applogger.Error(err))
		r.client.LPush(ctx, r.key("dead"), raw)
		return
	}
	job := r.job(msg.Type)
	if job == nil {
		r.log.Error("no job for message type", applogger.String("type", msg.Type), applogger.String("id", msg.ID))
		r.bury(ctx, msg)
		return
	}

	jctx := ctx
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}
	start := r.now()
	msg.Attempts++
	err = runJob(jctx, job, msg)
	if err == nil {
		r.log.Info("job done",
			applogger.String("job", job.Name()),
			applogger.String("id", msg.ID),
			applogger.Int("attempt", msg.Attempts),
			applogger.Duration("elapsed", r.now().Sub(start)))
		return
	}

	msg.LastError = err.Error()
	at, dead := nextStep(r.cfg, msg.Attempts, r.now())
	if dead {
		r.log.Error("job failed permanently",
			applogger.String("job", job.Name()),
			applogger.String("id", msg.ID),
			applogger.Int("attempts", msg.Attempts),
			applogger.Error(err))
		r.bury(ctx, msg)
		return
	}
	r.log.Warn("job failed, retry scheduled",
		applogger.String("job", job.Name()),
		applogger.String("id", msg.ID),
		applogger.Int("attempt", msg.Attempts),
		applogger.Time("retry_at", at),
		applogger.Error(err))
	b, _ := json.Marshal(msg)
	if err := r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(at.UnixMilli()), Member: b}).Err(); err != nil {
		r.log.Error("schedule retry failed", applogger.String("id", msg.ID), applogger.Error(err))
	}
}

func runJob(ctx context.Context, job Job, msg *Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panic: %v", job.Name(), rec)
		}
	}()
	return job.Handle(ctx, msg.Payload)
}

func (r *RedisQueue) bury(ctx context.Context, msg *Message) {
	b, _ := json.Marshal(msg)
	if err := r.client.LPush(ctx, r.key("dead"), b).Err(); err != nil {
		r.log.Error("dead-letter push failed", applogger.String("id", msg.ID), applogger.Error(err))
	}
}

func (r *RedisQueue) promoter(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := r.promoteDue(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("retry promotion failed", applogger.Error(err))
			} else if n > 0 {
				r.log.Debug("retries promoted", applogger.Int("count", n))
			}
		}
	}
}

// promoteDue moves retries whose time has come back to pending. ZRem
// decides ownership so concurrent promoters never duplicate a message.
func (r *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	due, err := r.client.ZRangeByScore(ctx, r.key("retry"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(r.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range due {
		removed, err := r.client.ZRem(ctx, r.key("retry"), m).Result()
		if err != nil {
			return n, err
		}
		if removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.key("pending"), m).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Stats reports the depth of every queue key.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.key("pending"))
	processing := pipe.LLen(ctx, r.key("processing"))
	retry := pipe.ZCard(ctx, r.key("retry"))
	dead := pipe.LLen(ctx, r.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Retrying:   retry.Val(),
		Dead:       dead.Val(),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
