package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/makit/aws-serverless-twitter-bot/internal/analysis"
	"github.com/makit/aws-serverless-twitter-bot/internal/egress"
	"github.com/makit/aws-serverless-twitter-bot/internal/feed"
	"github.com/makit/aws-serverless-twitter-bot/internal/ingress"
	"github.com/makit/aws-serverless-twitter-bot/internal/responder"
	"github.com/makit/aws-serverless-twitter-bot/pkg/clients/chat"
	"github.com/makit/aws-serverless-twitter-bot/pkg/clients/secrets"
	"github.com/makit/aws-serverless-twitter-bot/pkg/clients/social"
	"github.com/makit/aws-serverless-twitter-bot/pkg/clients/textanalyzer"
	"github.com/makit/aws-serverless-twitter-bot/pkg/clients/vision"
	"github.com/makit/aws-serverless-twitter-bot/pkg/config"
	"github.com/makit/aws-serverless-twitter-bot/pkg/database"
	"github.com/makit/aws-serverless-twitter-bot/pkg/eventbus"
	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/kafka"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
	"github.com/makit/aws-serverless-twitter-bot/pkg/monitoring"
	redisclient "github.com/makit/aws-serverless-twitter-bot/pkg/redis"
	"github.com/makit/aws-serverless-twitter-bot/pkg/server"
	"github.com/makit/aws-serverless-twitter-bot/pkg/storage"
	"github.com/makit/aws-serverless-twitter-bot/pkg/version"
)

// visionRecognizer adapts the vision client to the analysis collaborator
// interface.
type visionRecognizer struct {
	client *vision.Client
}

func (v visionRecognizer) DetectLabels(ctx context.Context, image []byte) ([]events.Label, error) {
	return v.client.DetectLabels(ctx, image)
}

func (v visionRecognizer) DetectText(ctx context.Context, image []byte) ([]events.TextDetection, error) {
	return v.client.DetectText(ctx, image)
}

func (v visionRecognizer) RecognizeCelebrities(ctx context.Context, image []byte) (*analysis.CelebrityResult, error) {
	res, err := v.client.RecognizeCelebrities(ctx, image)
	if err != nil {
		return nil, err
	}
	return &analysis.CelebrityResult{
		CelebrityFaces:    res.CelebrityFaces,
		UnrecognizedFaces: res.UnrecognizedFaces,
	}, nil
}

func main() {
	logger := logging.NewLoggerWithService("beacon")
	config.LoadEnv(logger)

	logger.Info("Starting Beacon (Twitter Bot Event Router)")

	databaseURL := config.RequireEnv("DATABASE_URL")
	secretsURL := config.RequireEnv("SECRETS_URL")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	selfAccountID := config.GetEnvInt64("SELF_ACCOUNT_ID", 0)
	if selfAccountID == 0 {
		logger.Fatal("SELF_ACCOUNT_ID environment variable is required")
	}
	selfScreenName := config.RequireEnv("SELF_SCREEN_NAME")

	secretName := config.GetEnv("TWITTER_SECRET_NAME", "twitter-api-keys")
	busName := config.GetEnv("EVENT_BUS_NAME", "twitter-bot")
	textAnalyzerURL := config.GetEnv("TEXT_ANALYZER_URL", "http://text-analyzer:8080")
	visionURL := config.GetEnv("VISION_URL", "http://vision:8080")
	chatURL := config.GetEnv("CHAT_URL", "http://chat:8080")
	chatBotName := config.GetEnv("CHAT_BOT_NAME", "twitter-bot")
	socialAPIURL := config.GetEnv("SOCIAL_API_URL", "https://api.twitter.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres backs the event archive.
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Redis backs the downloaded-image object store.
	redisAddr := config.GetEnv("REDIS_ADDR", "127.0.0.1:6379")
	redisClient, err := redisclient.NewUniversalClient(ctx, redisclient.Config{
		Mode:     redisclient.ModeSingle,
		Addrs:    []string{redisAddr},
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()
	imageStore := storage.NewRedisStore(redisClient, "images", storage.DefaultTTL)

	// Monitoring.
	healthChecker := monitoring.NewHealthChecker("beacon", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("beacon", version.Version, version.GitCommit)
	published, delivered, duration := metricsCollector.CreateBusMetrics()
	outcomes := metricsCollector.NewCounter("analysis_outcomes_total", "Terminal analysis workflow outcomes", []string{"outcome"})

	// Event archive and bus.
	archive := eventbus.NewArchive(db, logger)
	if err := archive.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure archive schema")
	}
	bus := eventbus.New(busName, logger,
		eventbus.WithArchive(archive),
		eventbus.WithMetrics(published, delivered, duration),
	)

	// Service clients.
	secretStore := secrets.NewClient(secretsURL, serviceToken)
	analyzer := textanalyzer.NewClient(textAnalyzerURL)
	recognizer := visionRecognizer{client: vision.NewClient(visionURL)}
	chatClient := chat.NewClient(chatURL, chatBotName)

	// Ingress: webhook verification and activity translation.
	verifier := ingress.NewVerifier(secretStore, secretName)
	translator := ingress.NewTranslator(selfAccountID)
	ingressHandlers := ingress.NewHandlers(verifier, translator, bus, logger)

	// Analysis workflow.
	downloader := analysis.NewDownloader(imageStore, &http.Client{Timeout: 30 * time.Second}, logger)
	orchestrator := analysis.NewOrchestrator(analyzer, recognizer, imageStore, downloader, bus, logger,
		analysis.WithOutcomeCounter(outcomes))

	// Responders.
	chatResponder := responder.NewChatResponder(chatClient, bus, logger)
	imageResponder := responder.NewImageResponder(bus, logger)

	// Egress: social client is built lazily from the API secret.
	sender := egress.NewSender(func(ctx context.Context) (egress.SocialClient, error) {
		var creds social.Credentials
		if err := secretStore.GetJSONSecret(ctx, secretName, &creds); err != nil {
			return nil, fmt.Errorf("fetch social credentials: %w", err)
		}
		return social.NewClient(socialAPIURL, creds), nil
	}, imageStore, logger)

	// Live observability feed.
	hub := feed.NewHub(logger)
	go hub.Run()

	selfMention := "@" + selfScreenName
	rules := []eventbus.Rule{
		{
			Name:        "message-analysis",
			DetailTypes: []events.DetailType{events.MessageReceived},
			Target:      eventbus.NewWorkflowTarget("message-analysis", logger, orchestrator.Handle),
		},
		{
			Name:        "chat-response",
			DetailTypes: []events.DetailType{events.MessageAnalysed},
			Matchers: []eventbus.FieldMatcher{
				{Path: "Text", Op: eventbus.OpAnythingBut, Values: []string{"", selfMention}},
				{Path: "Analysis.Images.#.Key", Op: eventbus.OpNotExists},
			},
			Target: eventbus.NewWorkflowTarget("chat-response", logger, chatResponder.Handle),
		},
		{
			Name:        "image-response",
			DetailTypes: []events.DetailType{events.MessageAnalysed},
			Matchers: []eventbus.FieldMatcher{
				{Path: "Analysis.Images.#.Key", Op: eventbus.OpExists},
			},
			Target: eventbus.NewWorkflowTarget("image-response", logger, imageResponder.Handle),
		},
		{
			Name:        "send-tweet",
			DetailTypes: []events.DetailType{events.SendTweet},
			Target:      eventbus.NewWorkflowTarget("send-tweet", logger, sender.Handle),
		},
		{
			Name:   "observability-log",
			Target: eventbus.NewLogTarget("observability-log", logger),
		},
		{
			Name:   "observability-feed",
			Target: eventbus.NewFeedTarget("observability-feed", hub),
		},
	}

	// Mirror every event onto Kafka for the lake when brokers are
	// configured.
	var producer *kafka.Producer
	if brokersEnv := config.GetEnv("KAFKA_BROKERS", ""); brokersEnv != "" {
		topic := config.GetEnv("EVENTS_KAFKA_TOPIC", "twitter_events")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "beacon")
		producer, err = kafka.NewProducer(strings.Split(brokersEnv, ","), topic, clientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()

		rules = append(rules, eventbus.Rule{
			Name:   "event-stream",
			Target: eventbus.NewStreamTarget("event-stream", topic, producer),
		})
		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.GetClient()))
	}

	for _, rule := range rules {
		if err := bus.Subscribe(rule); err != nil {
			logger.WithError(err).WithField("rule", rule.Name).Fatal("Failed to subscribe rule")
		}
	}

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": databaseURL,
		"SECRETS_URL":  secretsURL,
	}))

	// Daily archive retention.
	retentionDays := config.GetEnvInt("ARCHIVE_RETENTION_DAYS", 14)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				pruned, err := archive.Prune(ctx, cutoff)
				if err != nil {
					logger.WithError(err).Error("Archive prune failed")
					continue
				}
				logger.WithField("pruned", pruned).Info("Archive pruned")
			}
		}
	}()

	router := server.SetupServiceRouter(logger, "beacon", healthChecker, metricsCollector)
	ingressHandlers.RegisterRoutes(router)
	router.GET("/feed", gin.WrapF(hub.ServeWS))
	router.GET("/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Stats())
	})
	router.POST("/admin/replay", replayHandler(archive, bus, logger))

	go func() {
		serverConfig := server.DefaultConfig("beacon", "18000")
		if err := server.Start(serverConfig, router, logger); err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	logger.Info("Beacon started - routing Twitter activity events")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down Beacon...")
	cancel()
	logger.Info("Beacon stopped")
}

// replayHandler republishes an archived time window through the bus.
// Targets see replayed events again with their original ids.
func replayHandler(archive *eventbus.Archive, bus *eventbus.Bus, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		if !to.After(from) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
			return
		}

		replayed, err := archive.Replay(c.Request.Context(), from, to, bus.Publish)
		if err != nil {
			logger.WithError(err).Error("Replay failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "replay failed", "replayed": replayed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"replayed": replayed})
	}
}
