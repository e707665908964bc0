package clickhouse

import "fmt"

// Schema returns the idempotent DDL for the outcome log and ledger history tables.
func Schema(database, outcomesTable, ledgerTable string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    seq UInt64,
    symbol Int8,
    source LowCardinality(String) DEFAULT '',
    ts DateTime64(3) DEFAULT now64(3)
) ENGINE = MergeTree
ORDER BY seq`, database, outcomesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    session_id String,
    turn UInt32,
    observed UInt8,
    observed_category LowCardinality(String),
    predicted_category LowCardinality(String),
    outcome LowCardinality(String),
    streak_length UInt32,
    streak_type LowCardinality(String),
    recorded_at DateTime64(3)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(recorded_at)
ORDER BY (session_id, turn)
TTL toDateTime(recorded_at) + INTERVAL 90 DAY`, database, ledgerTable),
	}
}
