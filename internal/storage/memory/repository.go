// Package memory provides in-process implementations of the notification
// repository and the device token store. They back the demo/offline mode and
// the unit tests; the remote variants are selected instead when backend
// credentials are configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// Repository is a seedable, mutex-guarded notify.Repository.
type Repository struct {
	mu    sync.Mutex
	items []notify.Notification
	now   func() time.Time
}

// NewRepository creates a repository pre-populated with the given rows.
func NewRepository(seed ...notify.Notification) *Repository {
	r := &Repository{now: time.Now}
	for _, n := range seed {
		r.insertLocked(n)
	}
	return r
}

// Insert adds a row, filling in ID and CreatedAt/UpdatedAt when absent. It
// plays the part of the external writer that creates notification rows.
func (r *Repository) Insert(n notify.Notification) notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(n)
}

func (r *Repository) insertLocked(n notify.Notification) notify.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	r.items = append(r.items, n)
	return n
}

// List returns the viewer's notifications newest first. An empty viewer id
// yields an empty slice, never an error.
func (r *Repository) List(_ context.Context, q notify.Query) ([]notify.Notification, error) {
	if q.ViewerUserID == "" {
		return []notify.Notification{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]notify.Notification, 0, len(r.items))
	for _, n := range r.items {
		if n.RecipientUserID != q.ViewerUserID {
			continue
		}
		if q.OnlyUnread && n.IsRead {
			continue
		}
		out = append(out, n)
	}

	// Stable sort keeps equal CreatedAt entries in a consistent order within
	// one listing call.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// MarkRead transitions one notification to read. ReadAt is stamped only on
// the first transition; an unknown id is a no-op.
func (r *Repository) MarkRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		if r.items[i].ID != id {
			continue
		}
		r.markReadLocked(&r.items[i])
		return nil
	}
	return nil
}

// MarkAllRead transitions every unread notification for the viewer.
func (r *Repository) MarkAllRead(_ context.Context, viewerUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		if r.items[i].RecipientUserID == viewerUserID && !r.items[i].IsRead {
			r.markReadLocked(&r.items[i])
		}
	}
	return nil
}

func (r *Repository) markReadLocked(n *notify.Notification) {
	now := r.now()
	n.IsRead = true
	if n.ReadAt == nil {
		t := now
		n.ReadAt = &t
	}
	n.UpdatedAt = now
}
