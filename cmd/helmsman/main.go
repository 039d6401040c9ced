package main

import (
	"context"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/replydeck/helmsman/internal/dedup"
	"github.com/replydeck/helmsman/internal/dispatch"
	"github.com/replydeck/helmsman/internal/handlers"
	"github.com/replydeck/helmsman/internal/platform"
	"github.com/replydeck/helmsman/internal/ratelimit"
	"github.com/replydeck/helmsman/internal/store"
	"github.com/replydeck/helmsman/internal/syncer"
	"github.com/replydeck/helmsman/internal/vault"
	"github.com/replydeck/helmsman/pkg/clients"
	"github.com/replydeck/helmsman/pkg/config"
	"github.com/replydeck/helmsman/pkg/crypto"
	"github.com/replydeck/helmsman/pkg/database"
	"github.com/replydeck/helmsman/pkg/kafka"
	"github.com/replydeck/helmsman/pkg/logging"
	"github.com/replydeck/helmsman/pkg/middleware"
	"github.com/replydeck/helmsman/pkg/monitoring"
	"github.com/replydeck/helmsman/pkg/redis"
	"github.com/replydeck/helmsman/pkg/server"
	"github.com/replydeck/helmsman/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("helmsman")
	config.LoadEnv(logger)

	logger.Info("Starting Helmsman (Social Automation Engine)")

	// Required config
	databaseURL := config.RequireEnv("DATABASE_URL")
	webhookSecret := config.RequireEnv("WEBHOOK_SECRET")
	verifyToken := config.RequireEnv("WEBHOOK_VERIFY_TOKEN")
	tokenSecret := config.RequireEnv("TOKEN_ENCRYPTION_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	platformAppID := config.RequireEnv("PLATFORM_APP_ID")
	platformAppSecret := config.RequireEnv("PLATFORM_APP_SECRET")

	// Optional infrastructure
	platformAPIURL := config.GetEnv("PLATFORM_API_URL", "https://graph.platform.example")
	redisURL := config.GetEnv("REDIS_URL", "")
	kafkaBrokers := config.GetEnv("KAFKA_BROKERS", "")
	syncServiceURL := config.GetEnv("SYNC_SERVICE_URL", "")

	httpPort := config.GetEnv("HELMSMAN_PORT", "18040")
	webhookLimitPerMin := config.GetEnvInt("HELMSMAN_WEBHOOK_RATE_LIMIT_PER_MIN", 600)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("helmsman", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("helmsman", version.Version, version.GitCommit)

	breakerState := metricsCollector.NewGauge("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)", []string{"name"})
	onBreakerChange := func(name string, _, to clients.CircuitBreakerState) {
		breakerState.WithLabelValues(name).Set(float64(to))
	}

	// Database and stores
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	accountStore := store.NewAccountStore(db)
	ruleStore := store.NewRuleStore(db)
	activityLog := store.NewActivityLog(db)

	// Dedup store: Redis when configured, in-memory fallback otherwise
	var dedupStore dedup.Store
	var memoryDedup *dedup.MemoryStore
	if redisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redis.NewClientFromURL(ctx, redisURL)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to Redis; falling back to in-memory dedup")
		} else {
			dedupStore = dedup.NewRedisStore(client, dedup.DefaultWindow)
			defer func() { _ = client.Close() }()
			healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(client))
		}
	}
	if dedupStore == nil {
		memoryDedup = dedup.NewMemoryStore(dedup.DefaultWindow)
		dedupStore = memoryDedup
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(nil))
	}

	// Kafka outcome firehose (optional)
	var producer *kafka.Producer
	var firehose dispatch.OutcomePublisher
	var kafkaClient *kgo.Client
	if kafkaBrokers != "" {
		var err error
		producer, err = kafka.NewProducer(strings.Split(kafkaBrokers, ","), "helmsman", logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create Kafka producer; outcome firehose disabled")
		} else {
			firehose = dispatch.NewFirehose(producer, config.GetEnv("KAFKA_OUTCOME_TOPIC", "dispatch_outcomes"))
			kafkaClient = producer.Client()
		}
	}
	healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(kafkaClient))

	// Circuit breakers, one per outbound dependency
	platformBreakerConfig := clients.DefaultCircuitBreakerConfig("platform-api")
	platformBreakerConfig.Cooldown = config.GetEnvDuration("PLATFORM_BREAKER_COOLDOWN", 3*time.Minute)
	platformBreakerConfig.Logger = logger
	platformBreakerConfig.OnStateChange = onBreakerChange
	platformBreaker := clients.NewCircuitBreaker(platformBreakerConfig)

	syncBreakerConfig := clients.DefaultCircuitBreakerConfig("internal-sync")
	syncBreakerConfig.Logger = logger
	syncBreakerConfig.OnStateChange = onBreakerChange
	syncBreaker := clients.NewCircuitBreaker(syncBreakerConfig)

	breakers := map[string]*clients.CircuitBreaker{
		platformBreaker.Name(): platformBreaker,
		syncBreaker.Name():     syncBreaker,
	}

	// Platform client and credential vault
	platformClient := platform.NewClient(platform.Config{
		BaseURL:   platformAPIURL,
		AppID:     platformAppID,
		AppSecret: platformAppSecret,
	})

	encryptor, err := crypto.DeriveFieldEncryptor([]byte(tokenSecret), "platform-tokens")
	if err != nil {
		logger.WithError(err).Fatal("Failed to derive token encryptor")
	}

	tokenVault := vault.New(vault.Config{
		Accounts:  accountStore,
		Encryptor: encryptor,
		Refresher: platformClient,
		Breaker:   platformBreaker,
		Logger:    logger,
	})

	// Contact sync client (optional)
	var contactSyncer dispatch.ContactSyncer
	if syncServiceURL != "" {
		contactSyncer = syncer.NewClient(syncServiceURL, serviceToken)
	}

	// Outbound send budgets
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerHour:    config.GetEnvInt("SEND_LIMIT_PER_HOUR", 40),
		PerDay:     config.GetEnvInt("SEND_LIMIT_PER_DAY", 200),
		ActorDelay: config.GetEnvDuration("SEND_ACTOR_DELAY", 30*time.Second),
	})
	defer limiter.Stop()

	// Dispatcher and worker pipeline
	dispatcherMetrics := &dispatch.Metrics{
		Outcomes:      metricsCollector.NewCounter("dispatch_outcomes_total", "Dispatch outcomes", []string{"outcome"}),
		PlatformCalls: metricsCollector.NewCounter("platform_calls_total", "Platform API send calls", []string{"status"}),
	}

	dispatcher := dispatch.New(dispatch.Config{
		Counters:        ruleStore,
		Limiter:         limiter,
		Tokens:          tokenVault,
		Sender:          platformClient,
		Syncer:          contactSyncer,
		Activity:        activityLog,
		Firehose:        firehose,
		PlatformBreaker: platformBreaker,
		SyncBreaker:     syncBreaker,
		Logger:          logger,
		Metrics:         dispatcherMetrics,
	})

	pipeline := dispatch.NewPipeline(dispatch.PipelineConfig{
		Dispatcher:    dispatcher,
		Rules:         ruleStore,
		Dedup:         dedupStore,
		Logger:        logger,
		Workers:       config.GetEnvInt("DISPATCH_WORKERS", 8),
		QueueSize:     config.GetEnvInt("DISPATCH_QUEUE_SIZE", 256),
		MaxPerAccount: int64(config.GetEnvInt("DISPATCH_MAX_PER_ACCOUNT", 2)),
		Dropped:       metricsCollector.NewCounter("dispatch_queue_dropped_total", "Events dropped due to queue overflow", nil).WithLabelValues(),
	})

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"WEBHOOK_SECRET":   webhookSecret,
		"PLATFORM_API_URL": platformAPIURL,
	}))

	// Initialize HTTP handlers
	handlerMetrics := &handlers.Metrics{
		WebhooksReceived: metricsCollector.NewCounter("webhooks_received_total", "Webhook events received", []string{"kind", "status"}),
		SecurityEvents:   metricsCollector.NewCounter("security_events_total", "Rejected webhook requests", []string{"reason"}),
	}
	handlers.Init(handlers.Dependencies{
		Logger:        logger,
		Metrics:       handlerMetrics,
		Accounts:      accountStore,
		Rules:         ruleStore,
		Activity:      activityLog,
		Dedup:         dedupStore,
		Pipeline:      pipeline,
		Breakers:      breakers,
		WebhookSecret: webhookSecret,
		VerifyToken:   verifyToken,
	})

	// Routes
	router := server.SetupRouter(logger, "helmsman", healthChecker, metricsCollector)

	var webhookLimiter *handlers.WebhookRateLimiter
	webhooks := router.Group("/webhooks")
	{
		if webhookLimitPerMin > 0 {
			webhookLimiter = handlers.NewWebhookRateLimiter(webhookLimitPerMin, time.Minute, 10*time.Minute)
			webhooks.Use(handlers.WebhookRateLimitMiddleware(webhookLimiter))
		}
		webhooks.GET("/:platform", handlers.HandleWebhookVerify)
		webhooks.POST("/:platform", handlers.HandleWebhook)
	}

	api := router.Group("/api")
	api.Use(middleware.JWTAuthMiddleware([]byte(jwtSecret)))
	{
		api.GET("/accounts/:id/rules/stats", handlers.HandleRuleStats)
		api.GET("/accounts/:id/activity", handlers.HandleActivity)
	}

	ops := router.Group("/api/internal")
	ops.Use(middleware.ServiceAuthMiddleware(serviceToken))
	{
		ops.GET("/breakers", handlers.HandleBreakers)
	}

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("helmsman", httpPort)
	err = server.Start(serverConfig, router, logger, func(ctx context.Context) {
		pipeline.Shutdown(ctx)
		if webhookLimiter != nil {
			webhookLimiter.Stop()
		}
		if memoryDedup != nil {
			memoryDedup.Stop()
		}
		if producer != nil {
			producer.Close()
		}
	})
	if err != nil {
		logger.WithError(err).Fatal("HTTP server failed")
	}
}
