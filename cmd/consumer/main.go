package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/logger"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/server"
)

type consumerConfig struct {
	Brokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID  string   `env:"KAFKA_GROUP_ID" envDefault:"order-events-consumer-group"`
	LogLevel string   `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cfg consumerConfig
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    []string{repository.TopicOrderEvents, server.AuditTopic},
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		log.Info("Closing Kafka reader")
		if err := r.Close(); err != nil {
			log.Error("Error closing Kafka reader", zap.Error(err))
		}
	}()

	log.Info("Consumer connected",
		zap.Strings("topics", []string{repository.TopicOrderEvents, server.AuditTopic}),
		zap.String("brokers", strings.Join(cfg.Brokers, ",")),
	)

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("Shutdown signal received, stopping consumer")
				return
			}
			log.Error("Error reading message", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		log.Info("Message",
			zap.String("topic", m.Topic),
			zap.Time("timestamp", m.Time),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.ByteString("key", m.Key),
			zap.ByteString("value", m.Value),
		)
	}
}
