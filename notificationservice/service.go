// Package notificationservice assembles the HTTP surface and the optional
// message-bus ingestion pipeline into one runnable service.
package notificationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/taskdeck/go-notification-service/internal/api"
	"github.com/taskdeck/go-notification-service/internal/pipeline"
	"github.com/taskdeck/go-notification-service/notificationservice/config"
	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

type Wrapper struct {
	*microservice.BaseServer
	// pipelineService is nil when no subscription is configured; the webhook
	// is then the only dispatch trigger.
	pipelineService *messagepipeline.StreamingService[notify.DispatchRequest]
	logger          *slog.Logger
}

// New assembles the service: webhook, notification API, token API, and the
// optional consumer-fed pipeline, all sharing one Deliverer.
func New(
	cfg *config.Config,
	deliverer *pipeline.Deliverer,
	repo notify.Repository,
	tokenStore dispatch.TokenStore,
	consumer messagepipeline.MessageConsumer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	var streamingService *messagepipeline.StreamingService[notify.DispatchRequest]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.DispatchRequestTransformer,
			pipeline.NewStreamProcessor(deliverer, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	webhookAPI := api.NewWebhookAPI(deliverer, cfg.Webhook.Secret, cfg.Webhook.AllowUnauthenticated, logger)
	notificationAPI := api.NewNotificationAPI(repo, logger)
	tokenAPI := api.NewTokenAPI(tokenStore, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// Server-to-server hook: shared secret, no CORS, no user auth.
	mux.HandleFunc("/hooks/notification-created", webhookAPI.HandleDispatch)

	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	mux.Handle("OPTIONS /api/v1/notifications", preflight)
	mux.Handle("OPTIONS /api/v1/notifications/{id}/read", preflight)
	mux.Handle("OPTIONS /api/v1/notifications/read-all", preflight)
	mux.Handle("OPTIONS /api/v1/push-tokens", preflight)
	mux.Handle("OPTIONS /api/v1/push-tokens/unregister", preflight)

	protect := func(h http.HandlerFunc) http.Handler {
		return corsMiddleware(authMiddleware(h))
	}
	mux.Handle("GET /api/v1/notifications", protect(notificationAPI.List))
	mux.Handle("POST /api/v1/notifications/{id}/read", protect(notificationAPI.MarkRead))
	mux.Handle("POST /api/v1/notifications/read-all", protect(notificationAPI.MarkAllRead))
	mux.Handle("POST /api/v1/push-tokens", protect(tokenAPI.Register))
	mux.Handle("POST /api/v1/push-tokens/unregister", protect(tokenAPI.Unregister))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
