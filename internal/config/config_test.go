package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Base.StatsInterval)
	assert.Equal(t, 3, cfg.Base.WriterMaxThreadsPerType)
	assert.Equal(t, 20000, cfg.Base.WriterQueueSize)
	assert.Equal(t, 10000, cfg.Base.ConsumerQueueSize)
	assert.Equal(t, int64(1200000), cfg.Base.AttrCacheAgeMillis)
	assert.Equal(t, 3000, cfg.Postgres.BatchRecords)
	assert.Equal(t, 300, cfg.Postgres.BatchTimeMillis)
	assert.Equal(t, 10, cfg.Postgres.Retries)
	assert.Equal(t, int64(10000), cfg.Kafka.TopicSubscribeDelayMillis)
	assert.Len(t, cfg.Kafka.SubscribeTopicPatterns, 4)
	assert.Equal(t, "bgpdata-psql-consumer", cfg.Kafka.ConsumerConfig["group.id"])
}

func TestLoadYAMLFile(t *testing.T) {
	content := `
base:
  stats_interval: 60
  writer_queue_size: 500
postgres:
  host: db.example.net
  db_name: bgp
  username: ingest
  password: secret
  batch_records: 100
kafka:
  topic_subscribe_delay_millis: 250
  subscribe_topic_patterns:
    - "bgpdata\\.parsed\\.(collector|router|peer)"
    - "bgpdata\\.parsed\\..*"
  consumer_config:
    group.id: test-group
    bootstrap.servers: broker:9092
`
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Base.StatsInterval)
	assert.Equal(t, 500, cfg.Base.WriterQueueSize)
	assert.Equal(t, "db.example.net", cfg.Postgres.Host)
	assert.Equal(t, 100, cfg.Postgres.BatchRecords)
	assert.Equal(t, int64(250), cfg.Kafka.TopicSubscribeDelayMillis)
	assert.Len(t, cfg.Kafka.SubscribeTopicPatterns, 2)
	assert.Equal(t, "test-group", cfg.Kafka.ConsumerConfig["group.id"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "envhost")
	t.Setenv("POSTGRES_DB", "envdb")
	t.Setenv("POSTGRES_USER", "envuser")
	t.Setenv("POSTGRES_PASSWORD", "envpass")
	t.Setenv("POSTGRES_SSL_ENABLE", "true")
	t.Setenv("POSTGRES_SSL_MODE", "verify-full")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "envhost", cfg.Postgres.Host)
	assert.Equal(t, "envdb", cfg.Postgres.DBName)
	assert.Equal(t, "envuser", cfg.Postgres.Username)
	assert.Equal(t, "envpass", cfg.Postgres.Password)
	assert.True(t, cfg.Postgres.SSLEnable)
	assert.Equal(t, "verify-full", cfg.Postgres.SSLMode)
}

func TestDSN(t *testing.T) {
	pg := PostgresConfig{
		Host: "localhost", Port: 5432, DBName: "bgpdata",
		Username: "u", Password: "p",
	}
	assert.Equal(t, "postgres://u:p@localhost:5432/bgpdata?sslmode=disable", pg.DSN())

	pg.SSLEnable = true
	assert.Equal(t, "postgres://u:p@localhost:5432/bgpdata?sslmode=require", pg.DSN())

	pg.SSLMode = "verify-ca"
	assert.Equal(t, "postgres://u:p@localhost:5432/bgpdata?sslmode=verify-ca", pg.DSN())
}

func TestValidateRejectsEmptyTopicPatterns(t *testing.T) {
	content := `
kafka:
  subscribe_topic_patterns: []
`
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe_topic_patterns")
}
