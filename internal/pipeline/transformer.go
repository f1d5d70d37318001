package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// DispatchRequestTransformer decodes a raw bus message into a DispatchRequest.
// Malformed or incomplete messages are skipped (acked), not retried: replaying
// them can never succeed.
func DispatchRequestTransformer(_ context.Context, msg *messagepipeline.Message) (*notify.DispatchRequest, bool, error) {
	var req notify.DispatchRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal dispatch request %s: %w", msg.ID, err)
	}
	if req.NotificationID == "" || req.RecipientUserID == "" {
		return nil, true, fmt.Errorf("dispatch request %s missing notification_id or recipient_user_id", msg.ID)
	}
	return &req, false, nil
}

// NewStreamProcessor adapts a Deliverer to the streaming pipeline. Delivery
// errors are returned so the consumer can nack and redeliver.
func NewStreamProcessor(deliverer *Deliverer, logger *slog.Logger) messagepipeline.StreamProcessor[notify.DispatchRequest] {
	procLogger := logger.With("component", "StreamProcessor")
	return func(ctx context.Context, original messagepipeline.Message, req *notify.DispatchRequest) error {
		receipt, err := deliverer.Deliver(ctx, req)
		if err != nil {
			procLogger.Error("Delivery failed", "message_id", original.ID, "err", err)
			return err
		}
		procLogger.Info("Delivery complete",
			"message_id", original.ID,
			"notification_id", req.NotificationID,
			"sent", receipt.Sent,
		)
		return nil
	}
}
