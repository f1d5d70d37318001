// Package postgrest implements the remote-table notification repository. The
// backing service exposes a PostgREST-style protocol: GET with filter/order/
// limit query parameters, PATCH with an equality filter and a JSON body of the
// columns to set.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/taskdeck/go-notification-service/pkg/notify"
)

const defaultTable = "notifications"

// Config carries the remote backend credentials. Their presence is what
// selects this variant over the in-memory one at startup.
type Config struct {
	// BaseURL is the REST root, e.g. https://project.example.co/rest/v1.
	BaseURL string
	// ServiceKey is sent as both the apikey header and the bearer token.
	ServiceKey string
	// Table overrides the notification table name. Empty means "notifications".
	Table string
}

// Repository is the remote notify.Repository.
type Repository struct {
	cfg        Config
	table      string
	httpClient *http.Client
	now        func() time.Time
}

func NewRepository(cfg Config) *Repository {
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	return &Repository{
		cfg:        cfg,
		table:      table,
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// row is the external column mapping. It is exact and total: every core
// attribute has exactly one column.
type row struct {
	ID              string         `json:"id"`
	RecipientUserID string         `json:"recipient_user_id"`
	SenderUserID    string         `json:"sender_user_id,omitempty"`
	Title           string         `json:"title"`
	Body            string         `json:"body,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	IsRead          bool           `json:"is_read"`
	ReadAt          *time.Time     `json:"read_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (r row) toDomain() notify.Notification {
	return notify.Notification{
		ID:              r.ID,
		RecipientUserID: r.RecipientUserID,
		SenderUserID:    r.SenderUserID,
		Title:           r.Title,
		Body:            r.Body,
		Data:            r.Data,
		IsRead:          r.IsRead,
		ReadAt:          r.ReadAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// List fetches the viewer's rows, newest first. An empty viewer id returns an
// empty slice without touching the network.
func (r *Repository) List(ctx context.Context, q notify.Query) ([]notify.Notification, error) {
	if q.ViewerUserID == "" {
		return []notify.Notification{}, nil
	}

	params := url.Values{}
	params.Set("select", "*")
	params.Set("recipient_user_id", "eq."+q.ViewerUserID)
	params.Set("order", "created_at.desc")
	if q.OnlyUnread {
		params.Set("is_read", "eq.false")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := r.newRequest(ctx, http.MethodGet, params, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notification list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remoteError("list", resp)
	}

	var rows []row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode notification rows: %w", err)
	}

	out := make([]notify.Notification, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.toDomain())
	}
	return out, nil
}

// MarkRead issues a conditional PATCH on the single row. The read_at=is.null
// filter keeps the read timestamp idempotent, and a zero-row match (unknown
// or already-read id) is success, not an error.
func (r *Repository) MarkRead(ctx context.Context, id string) error {
	params := url.Values{}
	params.Set("id", "eq."+id)
	params.Set("read_at", "is.null")
	return r.patchRead(ctx, "mark read", params)
}

// MarkAllRead transitions every unread row for the viewer in one bulk PATCH.
func (r *Repository) MarkAllRead(ctx context.Context, viewerUserID string) error {
	params := url.Values{}
	params.Set("recipient_user_id", "eq."+viewerUserID)
	params.Set("is_read", "eq.false")
	return r.patchRead(ctx, "mark all read", params)
}

func (r *Repository) patchRead(ctx context.Context, op string, params url.Values) error {
	now := r.now().UTC()
	body, err := json.Marshal(map[string]any{
		"is_read":    true,
		"read_at":    now,
		"updated_at": now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s body: %w", op, err)
	}

	req, err := r.newRequest(ctx, http.MethodPatch, params, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(op, resp)
	}
	return nil
}

func (r *Repository) newRequest(ctx context.Context, method string, params url.Values, body io.Reader) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/%s?%s", r.cfg.BaseURL, r.table, params.Encode())
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("apikey", r.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+r.cfg.ServiceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}
	return req, nil
}

func remoteError(op string, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("remote table %s failed: status %d: %s", op, resp.StatusCode, string(detail))
}
