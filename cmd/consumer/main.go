package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"bgpdata-consumer-go/internal/config"
	"bgpdata-consumer-go/internal/db"
	"bgpdata-consumer-go/internal/engine"
	"bgpdata-consumer-go/internal/recovery"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config_load_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine.InitLogger(cfg.Base.LogLevel, cfg.Base.LogFormat)
	slog.Info("starting_bgpdata_psql_consumer")

	// max.poll.records is a batch cap for the engine, not a client
	// property; pull it out before handing the map to the client.
	maxPollRecords := 0
	consumerProps := kafka.ConfigMap{}
	for k, v := range cfg.Kafka.ConsumerConfig {
		if k == "max.poll.records" {
			maxPollRecords, _ = strconv.Atoi(v)
			continue
		}
		if err := consumerProps.SetKey(k, v); err != nil {
			slog.Error("kafka_consumer_config_invalid",
				slog.String("key", k), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	producerProps := kafka.ConfigMap{}
	for k, v := range cfg.Kafka.ProducerConfig {
		if err := producerProps.SetKey(k, v); err != nil {
			slog.Error("kafka_producer_config_invalid",
				slog.String("key", k), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	consumer, err := kafka.NewConsumer(&consumerProps)
	if err != nil {
		slog.Error("kafka_consumer_create_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(&producerProps)
	if err != nil {
		slog.Error("kafka_producer_create_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	newHandle := func() (*db.Handle, error) {
		h := db.NewHandle(cfg.Postgres.DSN(), engine.GetMetrics())
		if err := h.Connect(); err != nil {
			return nil, err
		}
		return h, nil
	}

	eng, err := engine.NewConsumer(cfg, consumer, producer, newHandle, maxPollRecords)
	if err != nil {
		slog.Error("engine_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statsInterval := time.Duration(cfg.Base.StatsInterval) * time.Second
	heartbeatMaxAge := time.Duration(cfg.Base.HeartbeatMaxAge) * time.Minute

	admin := engine.NewAdminServer(eng, cfg.Base.AdminListen, heartbeatMaxAge, statsInterval)
	admin.Start(ctx)

	recovery.Go("consumer-engine", func() {
		eng.Run(ctx)
	})

	recovery.Go("stats-logger", func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eng.LogStats()
			}
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("signal_received", slog.String("signal", sig.String()))
		eng.SafeShutdown()
		<-eng.Done()
	case <-eng.Done():
		slog.Warn("engine_stopped_unexpectedly")
	}

	cancel()
	admin.Stop()

	// Drain outstanding notification records before closing.
	producer.Flush(5000)
	producer.Close()

	slog.Info("shutdown_complete")
}
