package api

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// TokenAPI is the authenticated device registration surface. The user id
// always comes from the auth middleware context, never from the body.
type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

// Register upserts one device registration for the calling user. The body is
// a PushToken; web registrations must carry the subscription object.
func (api *TokenAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var token notify.PushToken
	if err := json.NewDecoder(r.Body).Decode(&token); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if token.Platform == notify.PlatformWeb {
		sub := token.WebSubscription
		if sub == nil || sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
			api.Logger.Warn("Register: incomplete web subscription", "user", userID)
			response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
			return
		}
	} else if token.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.Register(ctx, userID, token); err != nil {
		api.Logger.Error("failed to register token", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Register: device registered", "user", userID, "platform", token.Platform)

	w.WriteHeader(http.StatusNoContent)
}

type unregisterRequest struct {
	// Token identifies the device: the push token, or the subscription
	// endpoint for web registrations.
	Token string `json:"token"`
}

// Unregister removes one device registration. Unknown tokens are a no-op;
// unregister stays idempotent.
func (api *TokenAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.Unregister(ctx, userID, req.Token); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister token", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
