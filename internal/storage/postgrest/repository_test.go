package postgrest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/go-notification-service/internal/storage/postgrest"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

type capturedRequest struct {
	Method string
	Query  map[string]string
	Header http.Header
	Body   map[string]any
}

func newCapturingServer(t *testing.T, status int, responseBody string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Header = r.Header.Clone()
		captured.Query = map[string]string{}
		for k, vs := range r.URL.Query() {
			captured.Query[k] = vs[0]
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &captured.Body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(responseBody))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestList_RequestShape(t *testing.T) {
	ctx := context.Background()
	srv, captured := newCapturingServer(t, http.StatusOK, `[
		{"id":"n2","recipient_user_id":"u1","title":"second","is_read":false,
		 "created_at":"2026-03-01T12:01:00Z","updated_at":"2026-03-01T12:01:00Z"},
		{"id":"n1","recipient_user_id":"u1","title":"first","is_read":true,
		 "read_at":"2026-03-01T12:05:00Z",
		 "created_at":"2026-03-01T12:00:00Z","updated_at":"2026-03-01T12:05:00Z"}
	]`)

	repo := postgrest.NewRepository(postgrest.Config{BaseURL: srv.URL, ServiceKey: "service-key"})
	items, err := repo.List(ctx, notify.Query{ViewerUserID: "u1", OnlyUnread: true, Limit: 20})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, captured.Method)
	assert.Equal(t, "*", captured.Query["select"])
	assert.Equal(t, "eq.u1", captured.Query["recipient_user_id"])
	assert.Equal(t, "created_at.desc", captured.Query["order"])
	assert.Equal(t, "eq.false", captured.Query["is_read"])
	assert.Equal(t, "20", captured.Query["limit"])
	assert.Equal(t, "service-key", captured.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", captured.Header.Get("Authorization"))

	require.Len(t, items, 2)
	assert.Equal(t, "n2", items[0].ID)
	assert.Equal(t, "u1", items[0].RecipientUserID)
	require.NotNil(t, items[1].ReadAt)
	assert.True(t, items[1].IsRead)
}

func TestList_EmptyViewerSkipsNetwork(t *testing.T) {
	srv, captured := newCapturingServer(t, http.StatusOK, `[]`)
	repo := postgrest.NewRepository(postgrest.Config{BaseURL: srv.URL, ServiceKey: "k"})

	items, err := repo.List(context.Background(), notify.Query{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, captured.Method, "no request should have been issued")
}

func TestMarkRead_ConditionalPatch(t *testing.T) {
	srv, captured := newCapturingServer(t, http.StatusNoContent, "")
	repo := postgrest.NewRepository(postgrest.Config{BaseURL: srv.URL, ServiceKey: "k"})

	require.NoError(t, repo.MarkRead(context.Background(), "n1"))

	assert.Equal(t, http.MethodPatch, captured.Method)
	assert.Equal(t, "eq.n1", captured.Query["id"])
	assert.Equal(t, "is.null", captured.Query["read_at"], "ReadAt idempotency filter")
	assert.Equal(t, true, captured.Body["is_read"])
	assert.NotEmpty(t, captured.Body["read_at"])
	assert.NotEmpty(t, captured.Body["updated_at"])
	assert.Equal(t, "return=minimal", captured.Header.Get("Prefer"))
}

func TestMarkRead_ZeroRowsMatchedIsSuccess(t *testing.T) {
	// PostgREST answers 204 with no body even when the filter matched nothing.
	srv, _ := newCapturingServer(t, http.StatusNoContent, "")
	repo := postgrest.NewRepository(postgrest.Config{BaseURL: srv.URL, ServiceKey: "k"})
	assert.NoError(t, repo.MarkRead(context.Background(), "does-not-exist"))
}

func TestMarkAllRead_BulkPatch(t *testing.T) {
	srv, captured := newCapturingServer(t, http.StatusNoContent, "")
	repo := postgrest.NewRepository(postgrest.Config{BaseURL: srv.URL, ServiceKey: "k"})

	require.NoError(t, repo.MarkAllRead(context.Background(), "u1"))

	assert.Equal(t, http.MethodPatch, captured.Method)
	assert.Equal(t, "eq.u1", captured.Query["recipient_user_id"])
	assert.Equal(t, "eq.false", captured.Query["is_read"])
	assert.Equal(t, true, captured.Body["is_read"])
}

func TestRemoteFailureSurfacesStatusAndBody(t *testing.T) {
	srv, _ := newCapturingServer(t, http.StatusForbidden, `{"message":"permission denied"}`)
	repo := postgrest.NewRepository(postgrest.Config{BaseURL: srv.URL, ServiceKey: "k"})

	_, err := repo.List(context.Background(), notify.Query{ViewerUserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "permission denied")
}
