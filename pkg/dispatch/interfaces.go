// Package dispatch contains the public contracts of the delivery side: the
// per-platform dispatchers, the token store that remembers "where" to send for
// a user, and the error type that separates gateway failures from everything
// else.
package dispatch

import (
	"context"
	"fmt"

	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// Dispatcher is the contract for a component that can deliver a notification
// to a batch of platform-specific tokens (FCM, APNS).
type Dispatcher interface {
	// Dispatch sends the content to every token. It returns a human-readable
	// receipt plus the subset of tokens the platform reported as dead, so the
	// caller can unregister them.
	Dispatch(ctx context.Context, tokens []string, content notify.PushContent, data map[string]string) (string, []string, error)
}

// WebDispatcher is the browser-push variant of Dispatcher. Web targets are
// full subscription objects rather than opaque token strings, so it gets its
// own signature.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notify.WebPushSubscription, content notify.PushContent, data map[string]string) (string, []notify.WebPushSubscription, error)
}

// DeviceTargets is the result of a token lookup for one user, bucketed by
// delivery platform. Empty buckets are a defined, non-error outcome.
type DeviceTargets struct {
	ExpoTokens       []string                     `json:"expo_tokens"`
	FCMTokens        []string                     `json:"fcm_tokens"`
	APNSTokens       []string                     `json:"apns_tokens"`
	WebSubscriptions []notify.WebPushSubscription `json:"web_subscriptions"`
}

// Total counts every device that would be targeted.
func (t *DeviceTargets) Total() int {
	return len(t.ExpoTokens) + len(t.FCMTokens) + len(t.APNSTokens) + len(t.WebSubscriptions)
}

// TokenStore manages device tokens per user. Registration handles
// deduplication (upsert); Fetch is the fan-out lookup.
type TokenStore interface {
	// Register adds or updates a device token for the user.
	Register(ctx context.Context, userID string, token notify.PushToken) error

	// Unregister removes one device registration. Web registrations are keyed
	// by subscription endpoint, all others by the token string. Removing an
	// unknown token is not an error.
	Unregister(ctx context.Context, userID string, token string) error

	// Fetch returns every registered device for the user, bucketed by
	// platform.
	Fetch(ctx context.Context, userID string) (*DeviceTargets, error)
}

// GatewayError reports a non-success response from a downstream push gateway.
// It is a distinct failure class from upstream (storage) errors because a
// different party is at fault; the webhook maps it to a bad-gateway response.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("push gateway returned %d: %s", e.StatusCode, e.Body)
}
