package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/go-notification-service/internal/api"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) List(ctx context.Context, q notify.Query) ([]notify.Notification, error) {
	args := m.Called(ctx, q)
	if items := args.Get(0); items != nil {
		return items.([]notify.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) MarkRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) MarkAllRead(ctx context.Context, viewerUserID string) error {
	args := m.Called(ctx, viewerUserID)
	return args.Error(0)
}

func setupNotificationAPI(t *testing.T) (*api.NotificationAPI, *MockRepository) {
	t.Helper()
	mockRepo := new(MockRepository)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return api.NewNotificationAPI(mockRepo, logger), mockRepo
}

// --- Tests ---

func TestNotificationAPI_List(t *testing.T) {
	t.Run("Lists with filters from query params", func(t *testing.T) {
		apiHandler, mockRepo := setupNotificationAPI(t)
		items := []notify.Notification{{
			ID:              "notif-1",
			RecipientUserID: "user-123",
			Title:           "New comment",
			CreatedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}}
		mockRepo.On("List", mock.Anything, notify.Query{
			ViewerUserID: "user-123",
			OnlyUnread:   true,
			Limit:        20,
		}).Return(items, nil)

		req := withUser(httptest.NewRequest("GET", "/api/v1/notifications?unread=true&limit=20", nil), "user-123")
		w := httptest.NewRecorder()

		apiHandler.List(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var decoded []notify.Notification
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
		require.Len(t, decoded, 1)
		assert.Equal(t, "notif-1", decoded[0].ID)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Rejects a malformed limit", func(t *testing.T) {
		apiHandler, _ := setupNotificationAPI(t)

		req := withUser(httptest.NewRequest("GET", "/api/v1/notifications?limit=lots", nil), "user-123")
		w := httptest.NewRecorder()

		apiHandler.List(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects an unauthenticated caller", func(t *testing.T) {
		apiHandler, mockRepo := setupNotificationAPI(t)

		req := httptest.NewRequest("GET", "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		apiHandler.List(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockRepo.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	})
}

func TestNotificationAPI_MarkRead(t *testing.T) {
	t.Run("Marks one notification read", func(t *testing.T) {
		apiHandler, mockRepo := setupNotificationAPI(t)
		mockRepo.On("MarkRead", mock.Anything, "notif-1").Return(nil)

		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/notif-1/read", nil), "user-123")
		req.SetPathValue("id", "notif-1")
		w := httptest.NewRecorder()

		apiHandler.MarkRead(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Rejects a missing id", func(t *testing.T) {
		apiHandler, _ := setupNotificationAPI(t)

		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications//read", nil), "user-123")
		w := httptest.NewRecorder()

		apiHandler.MarkRead(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestNotificationAPI_MarkAllRead(t *testing.T) {
	apiHandler, mockRepo := setupNotificationAPI(t)
	mockRepo.On("MarkAllRead", mock.Anything, "user-123").Return(nil)

	req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/read-all", nil), "user-123")
	w := httptest.NewRecorder()

	apiHandler.MarkAllRead(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockRepo.AssertExpectations(t)
}
