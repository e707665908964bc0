package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	base := errors.New("bad payload")
	err := fmt.Errorf("handle: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "handle: bad payload", err.Error())

	assert.False(t, IsPermanent(base))
}

type scriptedHandler struct {
	errs  []error
	calls int
}

func (h *scriptedHandler) Topic() string { return "digitcast.outcomes" }

func (h *scriptedHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.calls <= len(h.errs) {
		return h.errs[h.calls-1]
	}
	return nil
}

type recordingCommitter struct{ committed []int64 }

func (r *recordingCommitter) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(c.cancel)
	return c
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.ErrorIs(t, err, errNoBrokers)
	_, err = NewProducer()
	assert.ErrorIs(t, err, errNoBrokers)
}

func TestConsumerRetriesTransientErrors(t *testing.T) {
	c := newTestConsumer(t, 3)
	h := &scriptedHandler{errs: []error{errors.New("redis down"), errors.New("redis down")}}

	attempts, err := c.handle(h, h.Topic(), kafka.Message{})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestConsumerGivesUpAfterRetryBudget(t *testing.T) {
	c := newTestConsumer(t, 2)
	boom := errors.New("boom")
	h := &scriptedHandler{errs: []error{boom, boom, boom, boom}}

	attempts, err := c.handle(h, h.Topic(), kafka.Message{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestConsumerSkipsRetryOnPermanent(t *testing.T) {
	c := newTestConsumer(t, 5)
	h := &scriptedHandler{errs: []error{Permanent(errors.New("bad json"))}}

	attempts, err := c.handle(h, h.Topic(), kafka.Message{})
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
}

func TestConsumerDispatchSettlesOffsets(t *testing.T) {
	c := newTestConsumer(t, 0)
	dlq := &recordingWriter{}
	c.dlq = dlq

	ok := &scriptedHandler{}
	c.RegisterHandler(ok)
	com := &recordingCommitter{}

	c.dispatch(delivery{topic: ok.Topic(), msg: kafka.Message{Offset: 1}, commit: com})
	assert.Equal(t, []int64{1}, com.committed)

	ok.errs = []error{nil, errors.New("transient")}
	c.dispatch(delivery{topic: ok.Topic(), msg: kafka.Message{Offset: 2, Key: []byte("s1")}, commit: com})
	assert.Equal(t, []int64{1, 2}, com.committed, "dead-lettered records are committed")
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, []byte("s1"), dlq.msgs[0].Key)
	assert.Contains(t, headerValue(dlq.msgs[0], "error"), "transient")
	assert.Equal(t, "1", headerValue(dlq.msgs[0], "attempts"))

	dlq.err = errors.New("dlq unavailable")
	ok.errs = append(ok.errs, errors.New("transient"))
	c.dispatch(delivery{topic: ok.Topic(), msg: kafka.Message{Offset: 3}, commit: com})
	assert.Equal(t, []int64{1, 2}, com.committed, "transient failure stays uncommitted when the DLQ write fails")

	ok.errs = append(ok.errs, Permanent(errors.New("bad payload")))
	c.dispatch(delivery{topic: ok.Topic(), msg: kafka.Message{Offset: 4}, commit: com})
	assert.Equal(t, []int64{1, 2, 4}, com.committed, "permanent failures are dropped and committed")
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	c := newTestConsumer(t, 3)
	attempts, err := c.handle(panicHandler{}, "t", kafka.Message{})
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
}

type panicHandler struct{}

func (panicHandler) Topic() string { return "t" }
func (panicHandler) Handle(context.Context, []byte) error { panic("nil session") }

func TestShardKeepsKeysTogether(t *testing.T) {
	a := kafka.Message{Key: []byte("session-a"), Partition: 0}
	b := kafka.Message{Key: []byte("session-a"), Partition: 3}
	assert.Equal(t, shard(a, 8), shard(b, 8))
	assert.Equal(t, 3, shard(kafka.Message{Partition: 7}, 4))
	assert.Equal(t, 0, shard(a, 1))
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducerHeaders(t *testing.T) {
	assert.Nil(t, buildHeaders(nil, ""))

	hs := buildHeaders(map[string]string{"kind": "turn"}, "abc")
	m := kafka.Message{Headers: hs}
	assert.Equal(t, "turn", headerValue(m, "kind"))
	assert.Equal(t, "abc", ExtractTraceID(m))

	hs = buildHeaders(map[string]string{headerTraceID: "explicit"}, "ctx")
	assert.Len(t, hs, 1)
	assert.Equal(t, "explicit", ExtractTraceID(kafka.Message{Headers: hs}))
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]int{"symbol": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":7}`, string(b))

	b, err = encodeValue("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

func TestHookChainOrder(t *testing.T) {
	var calls []string
	mk := func(name string) HookFuncs {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				calls = append(calls, "before:"+name)
				return ctx, km, append(data, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				calls = append(calls, "after:"+name)
			},
		}
	}
	chain := NewHookChain(mk("a"), nil, mk("b"))

	_, _, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte(">"))
	require.NoError(t, err)
	assert.Equal(t, ">ab", string(data))

	chain.AfterHandle(context.Background(), "t", kafka.Message{}, data, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, calls)
}

func TestHookChainRecoversPanics(t *testing.T) {
	var notified error
	chain := NewHookChain(
		HookFuncs{Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { notified = err }},
		HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		}},
	)
	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.Equal(t, err, notified)
}

func TestMetadataHook(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}

	ctx, _, _, err := MetadataHook{Now: func() time.Time { return at }}.BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	assert.Equal(t, at, ctx.Value(CtxStartTime))

	ctx, _, _, _ = MetadataHook{}.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	assert.Empty(t, TraceID(ctx))
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Compression(0), parseCompression("none"))
	assert.Equal(t, kafka.Snappy, parseCompression("snappy"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Gzip, parseCompression("unknown"))
}
