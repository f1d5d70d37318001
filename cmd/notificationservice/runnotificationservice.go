package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/taskdeck/go-notification-service/internal/pipeline"
	"github.com/taskdeck/go-notification-service/internal/platform/apns"
	"github.com/taskdeck/go-notification-service/internal/platform/expo"
	"github.com/taskdeck/go-notification-service/internal/platform/fcm"
	"github.com/taskdeck/go-notification-service/internal/platform/web"

	"github.com/taskdeck/go-notification-service/internal/storage/cache"
	fsStore "github.com/taskdeck/go-notification-service/internal/storage/firestore"
	"github.com/taskdeck/go-notification-service/internal/storage/memory"
	"github.com/taskdeck/go-notification-service/internal/storage/postgrest"
	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"

	"github.com/taskdeck/go-notification-service/notificationservice"
	"github.com/taskdeck/go-notification-service/notificationservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Notification Repository ---
	var repo notify.Repository
	if cfg.Supabase.URL != "" {
		repo = postgrest.NewRepository(postgrest.Config{
			BaseURL:    cfg.Supabase.URL,
			ServiceKey: cfg.Supabase.ServiceKey,
			Table:      cfg.Supabase.Table,
		})
		logger.Info("Repository initialized", "type", "postgrest", "url", cfg.Supabase.URL)
	} else {
		repo = memory.NewRepository()
		logger.Warn("No supabase.url configured; using the in-memory repository")
	}

	// --- Token Store (Decorated) ---
	var tokenStore dispatch.TokenStore
	if cfg.ProjectID != "" {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		tokenStore = fsStore.NewTokenStore(fsClient)
		logger.Info("TokenStore initialized", "type", "firestore")
	} else {
		tokenStore = memory.NewTokenStore()
		logger.Warn("No project_id configured; using the in-memory token store")
	}

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, 24*time.Hour)
		logger.Info("TokenStore upgraded", "type", "redis_cached")
	}

	// --- Auth ---
	identityURL := cfg.IdentityURL
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware setup failed", "err", err)
		os.Exit(1)
	}

	// --- Dispatchers ---

	// Primary: Expo push gateway.
	expoClient := expo.NewClient(expo.Config{
		PushURL:     cfg.Expo.PushURL,
		AccessToken: cfg.Expo.AccessToken,
	}, logger)

	platforms := pipeline.Platforms{}

	// FCM rides on the same GCP project as the token store.
	if cfg.ProjectID != "" {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			logger.Error("Failed to initialize Firebase App", "err", err)
			os.Exit(1)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			logger.Error("Failed to create FCM messaging client", "err", err)
			os.Exit(1)
		}
		platforms.FCM = fcm.NewDispatcher(fcmMessaging, logger)
	} else {
		logger.Warn("FCM disabled: no project_id configured")
	}

	if cfg.APNS.P8Key != "" {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
		}, logger)
		if err != nil {
			logger.Error("APNS dispatcher setup failed", "err", err)
			os.Exit(1)
		}
		platforms.APNS = apnsDispatcher
	} else {
		logger.Warn("APNS disabled: no p8 key configured")
	}

	if cfg.Vapid.PrivateKey != "" && cfg.Vapid.PublicKey != "" {
		platforms.Web = web.NewDispatcher(web.VapidConfig{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, logger)
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	} else {
		logger.Warn("Web push disabled: VAPID keys missing in configuration")
	}

	deliverer := pipeline.NewDeliverer(expoClient, tokenStore, platforms, logger)

	// --- Optional bus ingestion ---
	var consumer messagepipeline.MessageConsumer
	if cfg.SubscriptionID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Consumer setup failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := notificationservice.New(
		cfg,
		deliverer,
		repo,
		tokenStore,
		consumer,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
