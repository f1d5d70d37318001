// Package api holds the HTTP handlers: the dispatch webhook fired on
// notification creation, the device token registration surface, and the
// notification read API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/taskdeck/go-notification-service/internal/pipeline"
	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "x-webhook-secret"

// Deliverer is the webhook's view of the fan-out core.
type Deliverer interface {
	Deliver(ctx context.Context, req *notify.DispatchRequest) (*pipeline.Receipt, error)
}

// WebhookAPI handles the server-to-server dispatch trigger. Each accepted
// request produces exactly one delivery attempt; re-firing the hook for the
// same notification sends again.
type WebhookAPI struct {
	deliverer Deliverer
	secret    string
	// lax disables secret checking. Only settable through an explicit
	// config flag; never a silent default.
	lax    bool
	logger *slog.Logger
}

func NewWebhookAPI(deliverer Deliverer, secret string, lax bool, logger *slog.Logger) *WebhookAPI {
	return &WebhookAPI{
		deliverer: deliverer,
		secret:    secret,
		lax:       lax,
		logger:    logger.With("component", "WebhookAPI"),
	}
}

type webhookResponse struct {
	OK     bool            `json:"ok"`
	Sent   int             `json:"sent"`
	Reason string          `json:"reason,omitempty"`
	Expo   json.RawMessage `json:"expo,omitempty"`
}

// HandleDispatch is the POST handler for the notification-created hook.
func (api *WebhookAPI) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !api.lax && r.Header.Get(SecretHeader) != api.secret {
		api.logger.Warn("Webhook rejected: bad or missing secret", "remote", r.RemoteAddr)
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req notify.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.NotificationID == "" || req.RecipientUserID == "" || req.Title == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	receipt, err := api.deliverer.Deliver(r.Context(), &req)
	if err != nil {
		var gwErr *dispatch.GatewayError
		if errors.As(err, &gwErr) {
			api.logger.Error("Push gateway rejected the batch", "status", gwErr.StatusCode, "notification_id", req.NotificationID)
			response.WriteJSONError(w, http.StatusBadGateway, "push gateway error")
			return
		}
		api.logger.Error("Dispatch failed", "notification_id", req.NotificationID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(webhookResponse{
		OK:     true,
		Sent:   receipt.Sent,
		Reason: receipt.Reason,
		Expo:   receipt.ExpoAck,
	})
}
