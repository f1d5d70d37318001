package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/go-notification-service/internal/pipeline"
	"github.com/taskdeck/go-notification-service/internal/platform/expo"
	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// --- Mocks ---

type MockGateway struct {
	mock.Mock
	batches [][]expo.Message
}

func (m *MockGateway) Send(ctx context.Context, messages []expo.Message) (json.RawMessage, error) {
	m.batches = append(m.batches, messages)
	args := m.Called(ctx, messages)
	if ack := args.Get(0); ack != nil {
		return ack.(json.RawMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) Register(ctx context.Context, userID string, token notify.PushToken) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

func (m *MockTokenStore) Unregister(ctx context.Context, userID, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

func (m *MockTokenStore) Fetch(ctx context.Context, userID string) (*dispatch.DeviceTargets, error) {
	args := m.Called(ctx, userID)
	if targets := args.Get(0); targets != nil {
		return targets.(*dispatch.DeviceTargets), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, tokens []string, content notify.PushContent, data map[string]string) (string, []string, error) {
	args := m.Called(ctx, tokens, content, data)
	var invalid []string
	if v := args.Get(1); v != nil {
		invalid = v.([]string)
	}
	return args.String(0), invalid, args.Error(2)
}

func testRequest() *notify.DispatchRequest {
	return &notify.DispatchRequest{
		NotificationID:  "notif-1",
		RecipientUserID: "user-1",
		Title:           "New comment",
		Body:            "Someone replied to your task.",
		Data:            map[string]any{"task_id": "task-9"},
	}
}

// --- Tests ---

func TestDeliverer_Deliver(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Sends one batch covering all expo tokens", func(t *testing.T) {
		gateway := new(MockGateway)
		tokens := new(MockTokenStore)
		tokens.On("Fetch", ctx, "user-1").Return(&dispatch.DeviceTargets{
			ExpoTokens: []string{"ExponentPushToken[aaa]", "ExponentPushToken[bbb]"},
		}, nil)
		ack := json.RawMessage(`{"data":[{"status":"ok"},{"status":"ok"}]}`)
		gateway.On("Send", ctx, mock.Anything).Return(ack, nil).Once()

		deliverer := pipeline.NewDeliverer(gateway, tokens, pipeline.Platforms{}, logger)
		receipt, err := deliverer.Deliver(ctx, testRequest())

		require.NoError(t, err)
		assert.Equal(t, 2, receipt.Sent)
		assert.Empty(t, receipt.Reason)
		assert.JSONEq(t, string(ack), string(receipt.ExpoAck))

		require.Len(t, gateway.batches, 1)
		batch := gateway.batches[0]
		require.Len(t, batch, 2)
		assert.Equal(t, "ExponentPushToken[aaa]", batch[0].To)
		assert.Equal(t, "New comment", batch[0].Title)
		assert.Equal(t, "default", batch[0].Sound)
		assert.Equal(t, "notif-1", batch[0].Data["notification_id"])
		assert.Equal(t, "task-9", batch[0].Data["task_id"])
	})

	t.Run("Reports no_tokens without calling the gateway", func(t *testing.T) {
		gateway := new(MockGateway)
		tokens := new(MockTokenStore)
		tokens.On("Fetch", ctx, "user-1").Return(&dispatch.DeviceTargets{}, nil)

		deliverer := pipeline.NewDeliverer(gateway, tokens, pipeline.Platforms{}, logger)
		receipt, err := deliverer.Deliver(ctx, testRequest())

		require.NoError(t, err)
		assert.Equal(t, 0, receipt.Sent)
		assert.Equal(t, "no_tokens", receipt.Reason)
		gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Surfaces a token lookup failure before any send", func(t *testing.T) {
		gateway := new(MockGateway)
		tokens := new(MockTokenStore)
		tokens.On("Fetch", ctx, "user-1").Return(nil, errors.New("store is down"))

		deliverer := pipeline.NewDeliverer(gateway, tokens, pipeline.Platforms{}, logger)
		receipt, err := deliverer.Deliver(ctx, testRequest())

		require.Error(t, err)
		assert.Nil(t, receipt)
		assert.Contains(t, err.Error(), "token lookup failed")
		gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Passes a gateway error through unwrapped", func(t *testing.T) {
		gateway := new(MockGateway)
		tokens := new(MockTokenStore)
		tokens.On("Fetch", ctx, "user-1").Return(&dispatch.DeviceTargets{
			ExpoTokens: []string{"ExponentPushToken[aaa]"},
		}, nil)
		gateway.On("Send", ctx, mock.Anything).
			Return(nil, &dispatch.GatewayError{StatusCode: 503, Body: "unavailable"})

		deliverer := pipeline.NewDeliverer(gateway, tokens, pipeline.Platforms{}, logger)
		_, err := deliverer.Deliver(ctx, testRequest())

		var gwErr *dispatch.GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, 503, gwErr.StatusCode)
	})

	t.Run("Re-delivery sends again with no dedup", func(t *testing.T) {
		gateway := new(MockGateway)
		tokens := new(MockTokenStore)
		tokens.On("Fetch", ctx, "user-1").Return(&dispatch.DeviceTargets{
			ExpoTokens: []string{"ExponentPushToken[aaa]"},
		}, nil)
		gateway.On("Send", ctx, mock.Anything).Return(json.RawMessage(`{}`), nil).Twice()

		deliverer := pipeline.NewDeliverer(gateway, tokens, pipeline.Platforms{}, logger)
		_, err := deliverer.Deliver(ctx, testRequest())
		require.NoError(t, err)
		_, err = deliverer.Deliver(ctx, testRequest())
		require.NoError(t, err)

		gateway.AssertNumberOfCalls(t, "Send", 2)
	})

	t.Run("Unregisters tokens a platform reports dead", func(t *testing.T) {
		gateway := new(MockGateway)
		tokens := new(MockTokenStore)
		fcm := new(MockDispatcher)
		tokens.On("Fetch", ctx, "user-1").Return(&dispatch.DeviceTargets{
			FCMTokens: []string{"fcm-good", "fcm-dead"},
		}, nil)
		fcm.On("Dispatch", ctx, []string{"fcm-good", "fcm-dead"}, mock.Anything, mock.Anything).
			Return("success:1 fail:1", []string{"fcm-dead"}, nil)
		tokens.On("Unregister", ctx, "user-1", "fcm-dead").Return(nil)

		deliverer := pipeline.NewDeliverer(gateway, tokens, pipeline.Platforms{FCM: fcm}, logger)
		receipt, err := deliverer.Deliver(ctx, testRequest())

		require.NoError(t, err)
		assert.Equal(t, 2, receipt.Sent)
		tokens.AssertCalled(t, "Unregister", ctx, "user-1", "fcm-dead")
	})

	t.Run("Extra platform failure does not fail the delivery", func(t *testing.T) {
		gateway := new(MockGateway)
		tokens := new(MockTokenStore)
		fcm := new(MockDispatcher)
		tokens.On("Fetch", ctx, "user-1").Return(&dispatch.DeviceTargets{
			ExpoTokens: []string{"ExponentPushToken[aaa]"},
			FCMTokens:  []string{"fcm-1"},
		}, nil)
		gateway.On("Send", ctx, mock.Anything).Return(json.RawMessage(`{}`), nil)
		fcm.On("Dispatch", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return("", nil, errors.New("fcm transport down"))

		deliverer := pipeline.NewDeliverer(gateway, tokens, pipeline.Platforms{FCM: fcm}, logger)
		receipt, err := deliverer.Deliver(ctx, testRequest())

		require.NoError(t, err)
		assert.Equal(t, 2, receipt.Sent)
	})
}
