package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher ships a batch of aggregated entries. *kafka.Producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls aggregation and flushing.
type CollectionConfig struct {
	TimeInterval   time.Duration // periodic flush
	CountThreshold int           // distinct entries that force a flush
	Topic          string
	Publisher      Publisher
	// MinLevel is the lowest level collected: "warn" or "error" (default).
	MinLevel string
	// PublishTimeout bounds one publish call.
	PublishTimeout time.Duration
}

// AggregatedLogEntry is one distinct (level, message, fields, caller) tuple and how often it occurred.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates log lines between flushes so a failing sink
// produces one entry with a count instead of one message per turn.
type LogCollector struct {
	cfg     CollectionConfig
	min     zerolog.Level
	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry
	stop    chan struct{}
	done    chan struct{}
	sends   sync.WaitGroup
	now     func() time.Time
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		min:     zerolog.ErrorLevel,
		entries: make(map[uint64]*AggregatedLogEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if lvl, err := zerolog.ParseLevel(cfg.MinLevel); err == nil && lvl != zerolog.NoLevel {
		c.min = lvl
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	if c.cfg.PublishTimeout <= 0 {
		c.cfg.PublishTimeout = 10 * time.Second
	}
	go c.loop()
	return c
}

func (c *LogCollector) minLevel() zerolog.Level { return c.min }

// AddLog records one occurrence.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := c.now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.entries[key] = &AggregatedLogEntry{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if len(c.entries) >= c.cfg.CountThreshold {
		c.sendAsync(c.drainLocked())
	}
}

// Close stops the flush loop and publishes what is left before returning.
func (c *LogCollector) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
	c.sends.Wait()
}

func (c *LogCollector) loop() {
	defer close(c.done)
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			batch := c.drainLocked()
			c.mu.Unlock()
			c.sendAsync(batch)
		case <-c.stop:
			c.mu.Lock()
			batch := c.drainLocked()
			c.mu.Unlock()
			c.send(batch)
			return
		}
	}
}

// drainLocked empties the map, oldest entries first. Caller holds mu.
func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

func (c *LogCollector) sendAsync(batch []AggregatedLogEntry) {
	if len(batch) == 0 {
		return
	}
	c.sends.Add(1)
	go func() {
		defer c.sends.Done()
		c.send(batch)
	}()
}

func (c *LogCollector) send(batch []AggregatedLogEntry) {
	if len(batch) == 0 || c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		// the logger itself is the failing path, so report on stderr
		fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(batch), c.cfg.Topic, err)
	}
}

func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", level, message, caller)
	// encoding/json sorts map keys, so equal field sets hash equally
	_ = json.NewEncoder(h).Encode(fields)
	return h.Sum64()
}
