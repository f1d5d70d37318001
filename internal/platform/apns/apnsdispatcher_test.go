package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// Internal test so the mock client can be injected without a real P8 key.
type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) Push(n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func TestDispatch_Internal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	content := notify.PushContent{Title: "Hello iOS"}
	data := map[string]string{"notification_id": "n1"}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := &Dispatcher{
			client: mockClient,
			topic:  "com.taskdeck.app",
			logger: logger,
		}

		mockResponse := &apns2.Response{StatusCode: http.StatusOK}
		mockClient.On("Push", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.taskdeck.app"
		})).Return(mockResponse, nil)

		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"token-1"}, content, data)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Contains(t, receipt, "success:1")
		mockClient.AssertExpectations(t)
	})

	t.Run("Self-Healing - Bad Device Token", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := &Dispatcher{
			client: mockClient,
			topic:  "com.taskdeck.app",
			logger: logger,
		}

		mockResponse := &apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}
		mockClient.On("Push", mock.Anything).Return(mockResponse, nil)

		_, invalid, err := dispatcher.Dispatch(ctx, []string{"bad-token"}, content, data)

		require.NoError(t, err)
		assert.Len(t, invalid, 1)
		assert.Equal(t, "bad-token", invalid[0])
	})

	t.Run("Transport Failure - Best Effort", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := &Dispatcher{
			client: mockClient,
			topic:  "com.taskdeck.app",
			logger: logger,
		}

		mockClient.On("Push", mock.Anything).Return(nil, errors.New("connection refused"))

		// Transport errors are logged and counted, not returned: delivery is
		// best effort and the remaining tokens still get their attempt.
		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"token-1"}, content, data)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Contains(t, receipt, "total_fail:1")
	})
}
