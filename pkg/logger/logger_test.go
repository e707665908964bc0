package logger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.With(String("session_id", "s-1")).Info("session trained", Int("rows", 95), Float64("confidence", 0.5))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(b))), &line); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	if line["message"] != "session trained" || line["session_id"] != "s-1" || line["rows"] != float64(95) {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud", Output: "stdout"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

type capturePublisher struct {
	mu    sync.Mutex
	topic string
	logs  []AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.logs = append(p.logs, payload.([]AggregatedLogEntry)...)
	return nil
}

func TestCollectorAggregatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("sink failed", String("sink", "kafka"), Error(errors.New("broker down")))
	}
	l.Info("not collected")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "logs" || len(pub.logs) != 1 {
		t.Fatalf("unexpected publish %q %v", pub.topic, pub.logs)
	}
	if pub.logs[0].Count != 3 || pub.logs[0].Fields["error"] != "broker down" {
		t.Fatalf("unexpected entry %+v", pub.logs[0])
	}
}

func TestCollectorWarnLevelAndChildLoggers(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	child := l.With(String("component", "kafka"))
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub, MinLevel: "warn"})

	child.Warn("retrying publish", Int("attempt", 1))
	child.Warn("retrying publish", Int("attempt", 2))
	l.Debug("ignored")
	l.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.logs) != 2 {
		t.Fatalf("want 2 distinct entries, got %v", pub.logs)
	}
	for _, e := range pub.logs {
		if e.Level != "warn" || e.Count != 1 {
			t.Fatalf("unexpected entry %+v", e)
		}
	}
}

func TestCollectorThresholdFlush(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	c.AddLog("error", "c", nil, "x.go:3")
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.logs) != 3 {
		t.Fatalf("want all 3 entries published, got %d", len(pub.logs))
	}
}
