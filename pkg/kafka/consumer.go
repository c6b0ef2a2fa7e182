package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	applogger "FinScan/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	StartOffset int64 // kafka.FirstOffset or kafka.LastOffset for new groups
	Lanes       int
	LaneBuffer  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	ReadTimeout time.Duration
	Logger      *applogger.Logger
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerStartAtLatest makes a new group skip the backlog.
func WithConsumerStartAtLatest() ConsumerOption {
	return func(c *ConsumerConfig) { c.StartOffset = kafka.LastOffset }
}

// WithConsumerWorkers sets how many ordered lanes process messages.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if count > 0 {
			c.Lanes = count
		}
	}
}

// WithConsumerRetry configures handler retries and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ routes messages that exhaust retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerBufferSize sets the total buffer, split across lanes.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.LaneBuffer = n
		}
	}
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// Consumer reads registered topics and hands each message to an ordered
// lane. A partition always maps to the same lane, so messages sharing a
// key are handled one at a time in offset order and commits never jump
// ahead of unprocessed messages.
type Consumer struct {
	cfg      ConsumerConfig
	log      *applogger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	lanes    []chan *message
	dlq      *kafka.Writer
	hook     ConsumerHook
	metrics  *consumerMetrics

	stopChan chan struct{}
	readWG   sync.WaitGroup
	laneWG   sync.WaitGroup
	stopOnce sync.Once
}

type message struct {
	topic string
	km    kafka.Message
	at    time.Time
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := ConsumerConfig{
		GroupID:     "finscan",
		StartOffset: kafka.FirstOffset,
		Lanes:       1,
		LaneBuffer:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
		ReadTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.NewNop()
	}

	per := cfg.LaneBuffer / cfg.Lanes
	if per < 1 {
		per = 1
	}
	c := &Consumer{
		cfg:      cfg,
		log:      l,
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]MessageHandler),
		lanes:    make([]chan *message, cfg.Lanes),
		hook:     NoopHook{},
		metrics:  consumerMetricsOnce(),
		stopChan: make(chan struct{}),
	}
	for i := range c.lanes {
		c.lanes[i] = make(chan *message, per)
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// RegisterHandler registers a message handler for its topic. Call before Start.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per topic and starts the lanes.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: c.cfg.StartOffset,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
	}
	for i, lane := range c.lanes {
		c.laneWG.Add(1)
		go c.runLane(i, lane)
	}
	for topic, reader := range c.readers {
		c.readWG.Add(1)
		go c.read(topic, reader)
	}
	c.log.Info("kafka consumer started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("topics", len(c.readers)),
		applogger.Int("lanes", len(c.lanes)))
	return nil
}

// Stop stops reading, drains the lanes and closes the readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.readWG.Wait()
		for _, lane := range c.lanes {
			close(lane)
		}
		stopErr = waitGroup(ctx, &c.laneWG)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("kafka reader close failed", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("kafka dlq writer close failed", applogger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return stopErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// laneFor maps a partition onto a lane.
func laneFor(topic string, partition, lanes int) int {
	return int(xxhash.Sum64String(topic+"/"+strconv.Itoa(partition)) % uint64(lanes))
}

func (c *Consumer) read(topic string, reader *kafka.Reader) {
	defer c.readWG.Done()
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReadTimeout)
		km, err := reader.FetchMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.log.Warn("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			}
			continue
		}

		idx := laneFor(topic, km.Partition, len(c.lanes))
		lane := c.lanes[idx]
		select {
		case lane <- &message{topic: topic, km: km, at: time.Now()}:
			c.metrics.laneDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(lane)))
		case <-c.stopChan:
			return
		}
	}
}

func (c *Consumer) runLane(idx int, lane <-chan *message) {
	defer c.laneWG.Done()
	label := strconv.Itoa(idx)
	for msg := range lane {
		c.metrics.laneDepth.WithLabelValues(label).Set(float64(len(lane)))
		c.process(msg)
	}
}

// process runs the handler with retries. Offsets are committed on success,
// or after the message reached the DLQ so a poison message cannot stall the lane.
func (c *Consumer) process(msg *message) {
	handler := c.handlers[msg.topic]
	if handler == nil {
		return
	}
	attempts, err := c.handleWithRetry(handler, msg)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		c.hook.OnError(context.Background(), msg.topic, msg.km, msg.km.Value, err)
		c.log.Error("kafka message failed",
			applogger.String("topic", msg.topic),
			applogger.Int("partition", msg.km.Partition),
			applogger.Int64("offset", msg.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if !c.toDLQ(msg, err) {
			c.metrics.handled.WithLabelValues(msg.topic, outcome).Inc()
			return
		}
		outcome = "dlq"
	}
	c.commit(msg)
	c.metrics.handled.WithLabelValues(msg.topic, outcome).Inc()
	c.metrics.latency.WithLabelValues(msg.topic).Observe(time.Since(msg.at).Seconds())
}

func (c *Consumer) handleWithRetry(handler MessageHandler, msg *message) (attempts int, err error) {
	b := newRetryBackoff(c.cfg.BackoffMin, c.cfg.BackoffMax)
	for {
		attempts++
		err = c.handleOnce(handler, msg)
		if err == nil || attempts > c.cfg.RetryMax {
			return attempts, err
		}
		select {
		case <-time.After(b.NextBackOff()):
		case <-c.stopChan:
			return attempts, err
		}
	}
}

func (c *Consumer) handleOnce(handler MessageHandler, msg *message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", msg.topic, r)
		}
	}()
	ctx := WithStartTime(context.Background(), msg.at)
	hctx, km, data, err := c.hook.BeforeHandle(ctx, msg.topic, msg.km, msg.km.Value)
	if err != nil {
		return err
	}
	err = handler.Handle(hctx, data)
	c.hook.AfterHandle(hctx, msg.topic, km, data, err)
	return err
}

func (c *Consumer) toDLQ(msg *message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   msg.km.Key,
		Value: msg.km.Value,
		Headers: append(msg.km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(msg.topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())}),
	})
	if err != nil {
		c.log.Error("kafka dlq write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(msg *message) {
	reader := c.readers[msg.topic]
	if reader == nil {
		return
	}
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return reader.CommitMessages(ctx, msg.km)
	}
	b := backoff.WithMaxRetries(newRetryBackoff(50*time.Millisecond, 500*time.Millisecond), 2)
	if err := backoff.Retry(op, b); err != nil {
		c.log.Error("kafka commit failed", applogger.String("topic", msg.topic), applogger.Int64("offset", msg.km.Offset), applogger.Error(err))
	}
}

// newRetryBackoff grows from min to max with jitter and never gives up on
// its own; callers bound the attempts.
func newRetryBackoff(min, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if min > 0 {
		b.InitialInterval = min
	}
	if max >= b.InitialInterval {
		b.MaxInterval = max
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
