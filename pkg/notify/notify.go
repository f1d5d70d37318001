// Package notify contains the public domain model for the notification core:
// the Notification entity, the listing Query, device push tokens, and the
// Repository capability that both storage variants implement.
package notify

import (
	"context"
	"time"
)

// Notification is one message addressed to one recipient.
//
// Invariants: ReadAt is non-nil if and only if IsRead is true, and once set it
// is never overwritten (read marking is idempotent). RecipientUserID never
// changes after creation. Rows are never deleted by this core.
type Notification struct {
	ID              string         `json:"id"`
	RecipientUserID string         `json:"recipientUserId"`
	SenderUserID    string         `json:"senderUserId,omitempty"`
	Title           string         `json:"title"`
	Body            string         `json:"body,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	IsRead          bool           `json:"isRead"`
	ReadAt          *time.Time     `json:"readAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Query describes one listing request. A Query with an empty ViewerUserID is
// defined to yield an empty result, not an error.
type Query struct {
	ViewerUserID string
	OnlyUnread   bool
	// Limit caps the result after filtering and sorting. Zero means no cap.
	Limit int
}

// Repository is the capability contract for notification rows scoped to one
// recipient. Two interchangeable implementations exist: an in-process seed
// store and a remote-table store reached over HTTP. Selection between them is
// a startup decision; callers never care which one they hold.
type Repository interface {
	// List returns the viewer's notifications, newest first.
	List(ctx context.Context, q Query) ([]Notification, error)

	// MarkRead transitions a single notification to read. ReadAt is assigned
	// only on the first transition. An unknown id is not an error.
	MarkRead(ctx context.Context, id string) error

	// MarkAllRead transitions every unread notification for the viewer in one
	// logical operation, with the same ReadAt assignment rule.
	MarkAllRead(ctx context.Context, viewerUserID string) error
}

// Platform names for PushToken routing.
const (
	PlatformExpo = "expo"
	PlatformFCM  = "fcm"
	PlatformAPNS = "apns"
	PlatformWeb  = "web"
)

// WebPushKeys are the client keys of a browser push subscription.
type WebPushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// WebPushSubscription is the browser-side registration consumed by the web
// dispatcher. Only tokens with Platform "web" carry one.
type WebPushSubscription struct {
	Endpoint string      `json:"endpoint"`
	Keys     WebPushKeys `json:"keys"`
}

// PushToken is one device registration for a user. A user may hold any number
// of tokens (multi-device); delivery targets each independently. This core
// only consumes tokens, it never interprets them.
type PushToken struct {
	UserID          string               `json:"userId"`
	Token           string               `json:"token,omitempty"`
	Platform        string               `json:"platform,omitempty"`
	DeviceName      string               `json:"deviceName,omitempty"`
	WebSubscription *WebPushSubscription `json:"webSubscription,omitempty"`
}

// DispatchRequest is the payload that fires one push fan-out, carried by the
// dispatch webhook body and by the optional message-bus ingestion path.
type DispatchRequest struct {
	NotificationID  string         `json:"notification_id"`
	RecipientUserID string         `json:"recipient_user_id"`
	Title           string         `json:"title"`
	Body            string         `json:"body,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

// PushContent is the displayable part of a dispatch, shared by all platform
// dispatchers.
type PushContent struct {
	Title string
	Body  string
}
