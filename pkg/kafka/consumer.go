package kafka

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "DigitCast/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// delivery is one fetched record waiting for a worker.
type delivery struct {
	topic  string
	msg    kafka.Message
	commit committer
}

// Consumer reads registered topics and hands records to a fixed set of workers.
// Records are sharded by key, so all records of one key are handled in fetch
// order by the same worker. Offsets are committed explicitly after handling.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	queues   []chan delivery
	dlq      messageWriter

	ctx    context.Context
	cancel context.CancelFunc

	fetchWG  sync.WaitGroup
	workWG   sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a consumer. Readers are created by Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		ctx:      ctx,
		cancel:   cancel,
	}
	if c.log == nil {
		c.log = applogger.NewNop()
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.DLQTopic,
			Balancer: &kafka.Hash{},
		}
	}
	consumerMetricsOnce.Do(initConsumerMetrics)
	return c, nil
}

// WithConsumerHook sets the lifecycle hook. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler registers the handler for its topic. The first registration wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka consumer: handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start opens one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}

	c.queues = make([]chan delivery, c.cfg.Workers)
	for i := range c.queues {
		c.queues[i] = make(chan delivery, c.cfg.BufferSize)
		c.workWG.Add(1)
		go c.work(i, c.queues[i])
	}

	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset(c.cfg.StartOffset),
		})
		c.readers[topic] = r
		c.fetchWG.Add(1)
		go c.fetch(topic, r)
	}

	c.log.Info("kafka consumer: started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.Workers),
	)
	return nil
}

// Stop cancels fetching, lets workers drain their queues and closes readers.
// Records whose handling is cut short are not committed and will be redelivered.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.log.Info("kafka consumer: stopping")
		c.cancel()
		c.fetchWG.Wait()
		for _, q := range c.queues {
			close(q)
		}

		done := make(chan struct{})
		go func() {
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for consumer workers: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Error("kafka consumer: close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Error("kafka consumer: close dlq writer", applogger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) fetch(topic string, r *kafka.Reader) {
	defer c.fetchWG.Done()
	for {
		m, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka consumer: fetch", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(200 * time.Millisecond):
				continue
			case <-c.ctx.Done():
				return
			}
		}

		i := shard(m, len(c.queues))
		select {
		case c.queues[i] <- delivery{topic: topic, msg: m, commit: r}:
			consumerMetrics.depth.WithLabelValues(strconv.Itoa(i)).Set(float64(len(c.queues[i])))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(id int, q <-chan delivery) {
	defer c.workWG.Done()
	label := strconv.Itoa(id)
	for d := range q {
		c.dispatch(d)
		consumerMetrics.depth.WithLabelValues(label).Set(float64(len(q)))
	}
}

// dispatch handles one record and settles its offset.
func (c *Consumer) dispatch(d delivery) {
	h, ok := c.handlers[d.topic]
	if !ok {
		return
	}
	start := time.Now()
	attempts, err := c.handle(h, d.topic, d.msg)
	defer func() {
		consumerMetrics.latency.WithLabelValues(d.topic).Observe(time.Since(start).Seconds())
	}()

	switch {
	case err == nil:
		consumerMetrics.messages.WithLabelValues(d.topic, "ok").Inc()
	case c.ctx.Err() != nil:
		consumerMetrics.messages.WithLabelValues(d.topic, "aborted").Inc()
		return
	default:
		c.hook.OnError(c.ctx, d.topic, d.msg, d.msg.Value, err)
		c.log.Error("kafka consumer: handle message",
			applogger.String("topic", d.topic),
			applogger.Int("partition", d.msg.Partition),
			applogger.Int64("offset", d.msg.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err),
		)
		switch {
		case c.deadLetter(d, attempts, err):
		case IsPermanent(err):
			consumerMetrics.messages.WithLabelValues(d.topic, "dropped").Inc()
		default:
			// not parked and possibly transient: leave it for redelivery
			consumerMetrics.messages.WithLabelValues(d.topic, "failed").Inc()
			return
		}
	}
	if d.commit != nil {
		c.commit(d)
	}
}

// handle runs the hook chain and handler with bounded exponential backoff.
func (c *Consumer) handle(h MessageHandler, topic string, km kafka.Message) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		hctx, hmsg, data, err := c.hook.BeforeHandle(c.ctx, topic, km, km.Value)
		if err != nil {
			return backoff.Permanent(Permanent(err))
		}
		err = safeHandle(hctx, h, data)
		c.hook.AfterHandle(hctx, topic, hmsg, data, err)
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		c.hook.OnError(c.ctx, topic, km, km.Value, err)
	}
	err := backoff.RetryNotify(op, c.retryPolicy(), notify)
	return attempts, err
}

func (c *Consumer) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffMin
	b.MaxInterval = c.cfg.BackoffMax
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	retries := c.cfg.RetryMax
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), c.ctx)
}

// deadLetter parks the record on the DLQ topic. It reports whether the record was parked.
func (c *Consumer) deadLetter(d delivery, attempts int, cause error) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(d.topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(d.msg.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(d.msg.Offset, 10))},
			{Key: "attempts", Value: []byte(strconv.Itoa(attempts))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.log.Error("kafka consumer: write dlq", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	consumerMetrics.messages.WithLabelValues(d.topic, "dead_lettered").Inc()
	return true
}

func (c *Consumer) commit(d delivery) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return d.commit.CommitMessages(ctx, d.msg)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(b, 2)); err != nil {
		c.log.Error("kafka consumer: commit offset",
			applogger.String("topic", d.topic),
			applogger.Int64("offset", d.msg.Offset),
			applogger.Error(err),
		)
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, data)
}

// shard maps a record to a worker. Keyed records go by key hash, the rest by partition.
func shard(m kafka.Message, n int) int {
	if n <= 1 {
		return 0
	}
	if len(m.Key) == 0 {
		return m.Partition % n
	}
	h := fnv.New32a()
	_, _ = h.Write(m.Key)
	return int(h.Sum32() % uint32(n))
}

func startOffset(s string) int64 {
	if s == "latest" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

type consumerCollectors struct {
	messages *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	depth    *prometheus.GaugeVec
}

var (
	consumerRegisterer  prometheus.Registerer
	consumerMetricsOnce sync.Once
	consumerMetrics     *consumerCollectors
)

// SetConsumerMetricsRegisterer sets the registerer used by the first NewConsumer call.
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetrics() {
	reg := consumerRegisterer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	consumerMetrics = &consumerCollectors{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "digitcast_kafka_consumer_messages_total",
			Help: "Records handled, by result.",
		}, []string{"topic", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digitcast_kafka_consumer_handle_seconds",
			Help:    "Handling time per record including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "digitcast_kafka_consumer_queue_depth",
			Help: "Records waiting in a worker queue.",
		}, []string{"worker"}),
	}
}
