// Package config holds the service configuration: a YAML baseline overridden
// by environment variables, then validated once at startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type WebhookConfig struct {
	Secret string
	// AllowUnauthenticated disables the shared-secret check. It must be set
	// explicitly; an empty secret without it is a startup error.
	AllowUnauthenticated bool
}

type ExpoConfig struct {
	PushURL     string
	AccessToken string
}

// SupabaseConfig points the repository at a remote PostgREST table. A set URL
// selects the remote repository at startup; empty falls back to the seed
// store.
type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Table      string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	P8Key    string
}

// Config defines the single, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	Webhook  WebhookConfig
	Expo     ExpoConfig
	Supabase SupabaseConfig

	CorsConfig  middleware.CorsConfig
	IdentityURL string

	Redis RedisConfig
	Vapid VapidConfig
	APNS  APNSConfig

	// Message-bus ingestion is optional: an empty SubscriptionID leaves the
	// webhook as the only dispatch trigger.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}

	if val := os.Getenv("WEBHOOK_SECRET"); val != "" {
		cfg.Webhook.Secret = val
	}
	if val := os.Getenv("WEBHOOK_ALLOW_UNAUTHENTICATED"); val != "" {
		allow, _ := strconv.ParseBool(val)
		cfg.Webhook.AllowUnauthenticated = allow
	}

	if val := os.Getenv("EXPO_PUSH_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "EXPO_PUSH_URL", "source", "env")
		cfg.Expo.PushURL = val
	}
	if val := os.Getenv("EXPO_ACCESS_TOKEN"); val != "" {
		cfg.Expo.AccessToken = val
	}

	if val := os.Getenv("SUPABASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "SUPABASE_URL", "source", "env")
		cfg.Supabase.URL = val
	}
	if val := os.Getenv("SUPABASE_SERVICE_KEY"); val != "" {
		cfg.Supabase.ServiceKey = val
	}
	if val := os.Getenv("SUPABASE_TABLE"); val != "" {
		cfg.Supabase.Table = val
	}

	if val := os.Getenv("IDENTITY_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_URL", "source", "env")
		cfg.IdentityURL = val
	}

	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		cfg.Vapid.SubscriberEmail = val
	}

	// APNS Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8Key = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final Validation
	if cfg.Webhook.Secret == "" && !cfg.Webhook.AllowUnauthenticated {
		return nil, fmt.Errorf("webhook secret is required (set webhook.secret or WEBHOOK_SECRET, or opt into webhook.allow_unauthenticated explicitly)")
	}
	if cfg.Supabase.URL != "" && cfg.Supabase.ServiceKey == "" {
		return nil, fmt.Errorf("supabase.service_key is required when supabase.url is set")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.SubscriptionID != "" && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when subscription_id is set")
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
