// Package pipeline contains the fan-out core shared by the dispatch webhook
// and the optional message-bus ingestion path: token lookup, per-platform
// routing, delivery, and self-healing cleanup of dead tokens.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taskdeck/go-notification-service/internal/platform/expo"
	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// ExpoGateway is the batch contract of the primary push gateway.
type ExpoGateway interface {
	Send(ctx context.Context, messages []expo.Message) (json.RawMessage, error)
}

// Platforms bundles the optional extra dispatchers. A nil entry means devices
// on that platform are skipped with a warning.
type Platforms struct {
	FCM  dispatch.Dispatcher
	APNS dispatch.Dispatcher
	Web  dispatch.WebDispatcher
}

// Receipt reports one completed delivery attempt.
type Receipt struct {
	// Sent is the number of devices targeted, across all platforms.
	Sent int
	// Reason is set for defined non-delivery outcomes, e.g. "no_tokens".
	Reason string
	// ExpoAck is the gateway's raw acknowledgement, passed through opaquely.
	ExpoAck json.RawMessage
}

// Deliverer performs one best-effort, at-most-once fan-out per call. It keeps
// no state between calls: re-delivering the same notification id sends again.
type Deliverer struct {
	gateway   ExpoGateway
	platforms Platforms
	tokens    dispatch.TokenStore
	logger    *slog.Logger
}

func NewDeliverer(gateway ExpoGateway, tokens dispatch.TokenStore, platforms Platforms, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		gateway:   gateway,
		platforms: platforms,
		tokens:    tokens,
		logger:    logger.With("component", "Deliverer"),
	}
}

// Deliver looks up the recipient's devices and fans the notification out to
// all of them. A token lookup failure aborts before any send; an Expo gateway
// failure surfaces as the returned error (a *dispatch.GatewayError for
// non-2xx). Extra-platform failures are logged, not returned: the primary
// path has already been attempted and nothing here retries.
func (d *Deliverer) Deliver(ctx context.Context, req *notify.DispatchRequest) (*Receipt, error) {
	procLogger := d.logger.With(
		"notification_id", req.NotificationID,
		"recipient_id", req.RecipientUserID,
	)

	targets, err := d.tokens.Fetch(ctx, req.RecipientUserID)
	if err != nil {
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	total := targets.Total()
	if total == 0 {
		procLogger.Info("No devices registered for recipient; nothing to send.")
		return &Receipt{Sent: 0, Reason: "no_tokens"}, nil
	}

	content := notify.PushContent{Title: req.Title, Body: req.Body}
	payload := mergedPayload(req)
	stringPayload := stringifyPayload(payload)

	receipt := &Receipt{Sent: total}

	if len(targets.ExpoTokens) > 0 {
		messages := make([]expo.Message, 0, len(targets.ExpoTokens))
		for _, token := range targets.ExpoTokens {
			messages = append(messages, expo.Message{
				To:    token,
				Sound: "default",
				Title: req.Title,
				Body:  req.Body,
				Data:  payload,
			})
		}
		ack, err := d.gateway.Send(ctx, messages)
		if err != nil {
			procLogger.Error("Expo dispatch failed", "err", err)
			return nil, err
		}
		receipt.ExpoAck = ack
		procLogger.Info("Expo dispatched", "messages", len(messages))
	}

	if len(targets.FCMTokens) > 0 {
		d.dispatchTokens(ctx, procLogger, "fcm", d.platforms.FCM, targets.FCMTokens, req.RecipientUserID, content, stringPayload)
	}
	if len(targets.APNSTokens) > 0 {
		d.dispatchTokens(ctx, procLogger, "apns", d.platforms.APNS, targets.APNSTokens, req.RecipientUserID, content, stringPayload)
	}

	if len(targets.WebSubscriptions) > 0 {
		if d.platforms.Web == nil {
			procLogger.Warn("Web subscriptions present but no web dispatcher configured", "count", len(targets.WebSubscriptions))
		} else {
			webReceipt, invalidSubs, err := d.platforms.Web.Dispatch(ctx, targets.WebSubscriptions, content, stringPayload)
			for _, sub := range invalidSubs {
				if err := d.tokens.Unregister(ctx, req.RecipientUserID, sub.Endpoint); err != nil {
					procLogger.Warn("Failed to delete web subscription", "endpoint", sub.Endpoint, "err", err)
				}
			}
			if err != nil {
				procLogger.Error("Web dispatch failed", "err", err)
			} else {
				procLogger.Info("Web dispatched", "receipt", webReceipt)
			}
		}
	}

	return receipt, nil
}

func (d *Deliverer) dispatchTokens(
	ctx context.Context,
	procLogger *slog.Logger,
	platform string,
	dispatcher dispatch.Dispatcher,
	tokens []string,
	recipientID string,
	content notify.PushContent,
	data map[string]string,
) {
	if dispatcher == nil {
		procLogger.Warn("Tokens present but no dispatcher configured", "platform", platform, "count", len(tokens))
		return
	}

	receipt, invalidTokens, err := dispatcher.Dispatch(ctx, tokens, content, data)

	// Self-healing: drop tokens the platform reported dead.
	for _, t := range invalidTokens {
		if err := d.tokens.Unregister(ctx, recipientID, t); err != nil {
			procLogger.Warn("Failed to delete token", "platform", platform, "token", t, "err", err)
		}
	}

	if err != nil {
		procLogger.Error("Dispatch failed", "platform", platform, "err", err)
		return
	}
	procLogger.Info("Dispatched", "platform", platform, "receipt", receipt)
}

// mergedPayload is the opaque data payload plus the notification id, so a
// device tap can deep-link back to the row.
func mergedPayload(req *notify.DispatchRequest) map[string]any {
	merged := make(map[string]any, len(req.Data)+1)
	for k, v := range req.Data {
		merged[k] = v
	}
	merged["notification_id"] = req.NotificationID
	return merged
}

// stringifyPayload narrows the payload for platforms whose data field only
// carries strings. Non-string values are dropped rather than guessed at.
func stringifyPayload(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
