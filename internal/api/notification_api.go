package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// NotificationAPI exposes the repository to clients: list, mark one read,
// mark all read. The viewer is always the authenticated caller.
type NotificationAPI struct {
	Repo   notify.Repository
	Logger *slog.Logger
}

func NewNotificationAPI(repo notify.Repository, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		Repo:   repo,
		Logger: logger,
	}
}

// List handles GET /api/v1/notifications?unread=true&limit=N.
func (api *NotificationAPI) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := notify.Query{ViewerUserID: userID}
	if r.URL.Query().Get("unread") == "true" {
		q.OnlyUnread = true
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}

	items, err := api.Repo.List(ctx, q)
	if err != nil {
		api.Logger.Error("failed to list notifications", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

// MarkRead handles POST /api/v1/notifications/{id}/read. An unknown id still
// returns 204: the operation is idempotent end to end.
func (api *NotificationAPI) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing id")
		return
	}

	if err := api.Repo.MarkRead(ctx, id); err != nil {
		api.Logger.Error("failed to mark notification read", "id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (api *NotificationAPI) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := api.Repo.MarkAllRead(ctx, userID); err != nil {
		api.Logger.Error("failed to mark all read", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
