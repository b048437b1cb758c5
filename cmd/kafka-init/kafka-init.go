package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
	"github.com/NordCoder/Zepatrol/internal/obs"
	kafkax "github.com/NordCoder/Zepatrol/internal/repository/kafka"
)

func main() {
	path := flag.String("config", os.Getenv("ZEPATROL_CONFIG"), "path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		panic(err)
	}
	logger, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err = kafkax.EnsureTopic(ctx, cfg.Kafka.Brokers, kafkax.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		MaxWait:           30 * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("ensure topic", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
	}
	logger.Info("kafka-init ok", zap.String("topic", cfg.Kafka.Topic))
}
