package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/makit/aws-serverless-twitter-bot/internal/lake"
	"github.com/makit/aws-serverless-twitter-bot/pkg/config"
	"github.com/makit/aws-serverless-twitter-bot/pkg/database"
	"github.com/makit/aws-serverless-twitter-bot/pkg/kafka"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
	"github.com/makit/aws-serverless-twitter-bot/pkg/monitoring"
	"github.com/makit/aws-serverless-twitter-bot/pkg/server"
	"github.com/makit/aws-serverless-twitter-bot/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("spyglass")
	config.LoadEnv(logger)

	logger.Info("Starting Spyglass (Event Lake Ingestion)")

	clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")
	clickhouseDB := config.RequireEnv("CLICKHOUSE_DB")
	clickhouseUser := config.RequireEnv("CLICKHOUSE_USER")
	clickhousePassword := config.RequireEnv("CLICKHOUSE_PASSWORD")
	brokersEnv := config.RequireEnv("KAFKA_BROKERS")

	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = []string{clickhouseHost}
	chConfig.Database = clickhouseDB
	chConfig.Username = clickhouseUser
	chConfig.Password = clickhousePassword
	clickhouse := database.MustConnectClickHouseNative(chConfig, logger)
	defer clickhouse.Close()

	healthChecker := monitoring.NewHealthChecker("spyglass", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("spyglass", version.Version, version.GitCommit)

	metrics := &lake.Metrics{
		Events:         metricsCollector.NewCounter("lake_events_total", "Event envelopes processed", []string{"detail_type", "status"}),
		InsertDuration: metricsCollector.NewHistogram("lake_insert_duration_seconds", "ClickHouse insert time", []string{"operation"}, nil),
	}

	brokers := strings.Split(brokersEnv, ",")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "spyglass")
	dlqTopic := config.GetEnv("DLQ_KAFKA_TOPIC", "twitter_events_dlq")

	dlqProducer, err := kafka.NewProducer(brokers, dlqTopic, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ producer")
	}
	defer dlqProducer.Close()

	writer := lake.NewWriter(clickhouse, logger, metrics, lake.WithDLQ(dlqProducer, dlqTopic))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := writer.EnsureSchema(ctx, clickhouse); err != nil {
		logger.WithError(err).Fatal("Failed to ensure lake schema")
	}

	groupID := config.GetEnv("KAFKA_GROUP_ID", "spyglass")
	topic := config.GetEnv("EVENTS_KAFKA_TOPIC", "twitter_events")

	consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}

	consumer.AddHandler(topic, writer.HandleMessage)

	healthChecker.AddCheck("clickhouse", monitoring.ClickHouseNativeHealthCheck(clickhouse))
	healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(consumer.GetClient()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"CLICKHOUSE_HOST": clickhouseHost,
		"KAFKA_BROKERS":   brokersEnv,
		"KAFKA_GROUP_ID":  groupID,
	}))

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	go func() {
		router := server.SetupServiceRouter(logger, "spyglass", healthChecker, metricsCollector)
		serverConfig := server.DefaultConfig("spyglass", "18001")
		if err := server.Start(serverConfig, router, logger); err != nil {
			logger.WithError(err).Fatal("Health server failed")
		}
	}()

	logger.Info("Spyglass started - consuming event envelopes from Kafka")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down Spyglass...")
	cancel()
	consumer.Close()
	logger.Info("Spyglass stopped")
}
