package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Message is one record handed to PublishBatch.
// Value may be []byte, string, or anything encoding/json accepts.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

// Producer wraps a kafka-go writer. The trace id on the publish context,
// if any, travels as the trace_id header so consumers can pick it up.
type Producer struct {
	writer *kafka.Writer
	codec  string
	now    func() time.Time
}

// NewProducer creates a producer. No connection is made until the first write.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}

	var bal kafka.Balancer = &kafka.LeastBytes{}
	if cfg.KeyedBalancer {
		bal = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.Linger,
		Async:        cfg.Async,
	}
	producerMetricsOnce.Do(initProducerMetrics)
	return &Producer{writer: w, codec: cfg.Compression, now: time.Now}, nil
}

// Publish writes one record to topic.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage publishes payload without a key. It satisfies the log
// collector's publisher interface.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// PublishBatch writes all messages to topic in one call.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	start := p.now()
	trace := TraceID(ctx)

	records := make([]kafka.Message, 0, len(messages))
	var size int64
	for i, m := range messages {
		value, err := encodeValue(m.Value)
		if err != nil {
			return fmt.Errorf("publish %s: message %d: %w", topic, i, err)
		}
		records = append(records, kafka.Message{
			Topic:   topic,
			Key:     m.Key,
			Value:   value,
			Headers: buildHeaders(m.Headers, trace),
			Time:    start,
		})
		size += int64(len(value))
	}

	err := p.writer.WriteMessages(ctx, records...)
	producerMetrics.observe(topic, p.codec, size, len(records), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

func buildHeaders(h map[string]string, trace string) []kafka.Header {
	if len(h) == 0 && trace == "" {
		return nil
	}
	out := make([]kafka.Header, 0, len(h)+1)
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	if _, ok := h[headerTraceID]; !ok && trace != "" {
		out = append(out, kafka.Header{Key: headerTraceID, Value: []byte(trace)})
	}
	return out
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "none":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

type producerCollectors struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	producerRegisterer  prometheus.Registerer
	producerMetricsOnce sync.Once
	producerMetrics     *producerCollectors
)

// SetProducerMetricsRegisterer sets the registerer used by the first NewProducer call.
func SetProducerMetricsRegisterer(reg prometheus.Registerer) { producerRegisterer = reg }

func initProducerMetrics() {
	reg := producerRegisterer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	producerMetrics = &producerCollectors{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "digitcast_kafka_producer_messages_total",
			Help: "Records written to Kafka by result.",
		}, []string{"topic", "compression", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "digitcast_kafka_producer_bytes_total",
			Help: "Payload bytes written to Kafka.",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digitcast_kafka_producer_publish_seconds",
			Help:    "WriteMessages latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

func (m *producerCollectors) observe(topic, codec string, size int64, n int, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, codec, result).Add(float64(n))
	if err == nil {
		m.bytes.WithLabelValues(topic).Add(float64(size))
	}
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
