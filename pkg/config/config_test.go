package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 5, c.Predictor.WindowSize)
	assert.Equal(t, 10, c.Predictor.Capacity)
	assert.Equal(t, "gbdt", c.Predictor.Backend)
	assert.Equal(t, 100, c.Predictor.GBDT.Estimators)
	assert.Equal(t, 0.1, c.Predictor.GBDT.LearningRate)
	assert.Equal(t, 3, c.Predictor.GBDT.MaxDepth)
	assert.Equal(t, int64(42), c.Predictor.GBDT.Seed)
	assert.Equal(t, "number", c.LogSource.Column)
	assert.Equal(t, 10*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, "digitcast.outcomes", c.Kafka.OutcomesTopic)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: production
predictor:
  window_size: 10
  backend: frequency
  gbdt:
    estimators: 500
sessions:
  snapshot_ttl: 1h
`))
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 10, c.Predictor.WindowSize)
	assert.Equal(t, "frequency", c.Predictor.Backend)
	assert.Equal(t, 500, c.Predictor.GBDT.Estimators)
	assert.Equal(t, 0.1, c.Predictor.GBDT.LearningRate)
	assert.Equal(t, time.Hour, c.Sessions.SnapshotTTL)
	assert.Equal(t, 10, c.Predictor.Capacity)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad backend":        "predictor:\n  backend: svm\n",
		"window too large":   "predictor:\n  window_size: 19\n",
		"remote without url": "predictor:\n  backend: remote\n",
		"kafka no brokers":   "kafka:\n  enabled: true\n",
		"clickhouse source":  "log_source:\n  type: clickhouse\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("DIGITCAST_WINDOW_SIZE", "10")
	t.Setenv("DIGITCAST_KAFKA_ENABLED", "true")
	t.Setenv("DIGITCAST_KAFKA_BROKERS", "k1:9092, k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 10, c.Predictor.WindowSize)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
