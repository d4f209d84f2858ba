package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full application configuration, loaded from YAML with
// environment overrides for the postgres section.
type Config struct {
	Base     BaseConfig     `yaml:"base"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// BaseConfig holds engine-wide tunables.
type BaseConfig struct {
	StatsInterval               int    `yaml:"stats_interval"`                 // seconds
	ConsumerThreads             int    `yaml:"consumer_threads"`
	HeartbeatMaxAge             int    `yaml:"heartbeat_max_age"`              // minutes
	WriterMaxThreadsPerType     int    `yaml:"writer_max_threads_per_type"`
	WriterAllowedOverQueueTimes int    `yaml:"writer_allowed_over_queue_times"`
	WriterSecondsThreadScaleBack int   `yaml:"writer_seconds_thread_scale_back"`
	WriterRebalanceSeconds      int    `yaml:"writer_rebalance_seconds"`
	WriterQueueSize             int    `yaml:"writer_queue_size"`
	ConsumerQueueSize           int    `yaml:"consumer_queue_size"`
	AttrCacheAgeMillis          int64  `yaml:"attr_cache_age_millis"`
	WriterDrainDeadlineSeconds  int    `yaml:"writer_drain_deadline_seconds"`
	AdminListen                 string `yaml:"admin_listen"`
	LogLevel                    string `yaml:"log_level"`
	LogFormat                   string `yaml:"log_format"`
}

// PostgresConfig holds connection and batching settings for the database.
type PostgresConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	DBName          string `yaml:"db_name"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SSLEnable       bool   `yaml:"ssl_enable"`
	SSLMode         string `yaml:"ssl_mode"`
	BatchRecords    int    `yaml:"batch_records"`
	BatchTimeMillis int    `yaml:"batch_time_millis"`
	Retries         int    `yaml:"retries"`
}

// KafkaConfig holds the opaque client property maps and subscription plan.
type KafkaConfig struct {
	ConsumerConfig             map[string]string `yaml:"consumer_config"`
	ProducerConfig             map[string]string `yaml:"producer_config"`
	TopicSubscribeDelayMillis  int64             `yaml:"topic_subscribe_delay_millis"`
	SubscriptionTimeoutSeconds int64             `yaml:"subscription_timeout_seconds"`
	SubscribeTopicPatterns     []string          `yaml:"subscribe_topic_patterns"`
}

// Load reads the YAML config at path and applies environment overrides.
// A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Base: BaseConfig{
			StatsInterval:               300,
			ConsumerThreads:             1,
			HeartbeatMaxAge:             15,
			WriterMaxThreadsPerType:     3,
			WriterAllowedOverQueueTimes: 2,
			WriterSecondsThreadScaleBack: 1200,
			WriterRebalanceSeconds:      1800,
			WriterQueueSize:             20000,
			ConsumerQueueSize:           10000,
			AttrCacheAgeMillis:          1200000,
			WriterDrainDeadlineSeconds:  30,
			AdminListen:                 ":9090",
			LogLevel:                    "info",
			LogFormat:                   "json",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			DBName:          "bgpdata",
			Username:        "bgpdata",
			Password:        "bgpdata",
			SSLMode:         "disable",
			BatchRecords:    3000,
			BatchTimeMillis: 300,
			Retries:         10,
		},
		Kafka: KafkaConfig{
			ConsumerConfig: map[string]string{
				"group.id":           "bgpdata-psql-consumer",
				"client.id":          "bgpdata-psql-consumer",
				"bootstrap.servers":  "localhost:9092",
				"auto.offset.reset":  "earliest",
				"max.poll.records":   "2000",
				"session.timeout.ms": "30000",
			},
			ProducerConfig: map[string]string{
				"bootstrap.servers": "localhost:9092",
			},
			TopicSubscribeDelayMillis:  10000,
			SubscriptionTimeoutSeconds: 3600,
			SubscribeTopicPatterns: []string{
				"bgpdata\\.parsed\\.(collector|router|peer)",
				"bgpdata\\.parsed\\.(unicast_prefix|l3vpn|base_attribute)",
				"bgpdata\\.parsed\\.(ls_node|ls_link|ls_prefix)",
				"bgpdata\\.parsed\\.(bmp_stat|subscription)",
			},
		},
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Postgres.DBName = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Postgres.Username = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_SSL_ENABLE"); v != "" {
		c.Postgres.SSLEnable = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("POSTGRES_SSL_MODE"); v != "" {
		c.Postgres.SSLMode = v
	}
}

func (c *Config) validate() error {
	if len(c.Kafka.SubscribeTopicPatterns) == 0 {
		return fmt.Errorf("kafka.subscribe_topic_patterns must not be empty")
	}
	for _, key := range []string{"group.id", "bootstrap.servers"} {
		if c.Kafka.ConsumerConfig[key] == "" {
			return fmt.Errorf("kafka.consumer_config missing required key %q", key)
		}
	}
	if c.Base.WriterQueueSize <= 0 || c.Base.ConsumerQueueSize <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	if c.Base.WriterMaxThreadsPerType < 1 {
		return fmt.Errorf("base.writer_max_threads_per_type must be at least 1")
	}
	return nil
}

// DSN builds the postgres connection string for the pgx stdlib driver.
func (c *PostgresConfig) DSN() string {
	sslMode := "disable"
	if c.SSLEnable {
		sslMode = c.SSLMode
		if sslMode == "" || sslMode == "disable" {
			sslMode = "require"
		}
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

// BatchTime returns the writer flush interval as a duration.
func (c *PostgresConfig) BatchTime() time.Duration {
	return time.Duration(c.BatchTimeMillis) * time.Millisecond
}

// SubscribeDelay returns the delay between staged topic subscriptions.
func (c *KafkaConfig) SubscribeDelay() time.Duration {
	return time.Duration(c.TopicSubscribeDelayMillis) * time.Millisecond
}
