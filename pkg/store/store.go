// Package store holds the client-side notification state for one running
// process: the current viewer's list, the derived unread count, and the
// optimistic read-state patches applied ahead of the remote round trip.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// SessionFunc resolves the active viewer id. The second return is false when
// nobody is signed in.
type SessionFunc func(ctx context.Context) (string, bool)

// Filter is the held query filter. The viewer id is deliberately excluded; it
// is resolved from the session on every operation.
type Filter struct {
	OnlyUnread bool
	Limit      int
}

// FilterPatch is a partial Filter for SetQuery. Nil fields keep the held
// value.
type FilterPatch struct {
	OnlyUnread *bool
	Limit      *int
}

// Store mediates between a UI and the notification repository.
//
// Racing Load calls are last-writer-wins: there is no generation guard, so
// when two loads overlap, whichever completes last replaces the held list.
// The mutex only protects field access, not operation ordering.
type Store struct {
	repo    notify.Repository
	session SessionFunc
	logger  *slog.Logger

	mu      sync.Mutex
	items   []notify.Notification
	filter  Filter
	loading bool
	lastErr string
	unread  int
}

func New(repo notify.Repository, session SessionFunc, logger *slog.Logger) *Store {
	return &Store{
		repo:    repo,
		session: session,
		logger:  logger.With("component", "NotificationStore"),
	}
}

// Load replaces the held list with a fresh fetch for the current viewer and
// recomputes the unread count. Repository failures are captured into the
// error field for the UI to display; Load never propagates them.
func (s *Store) Load(ctx context.Context) {
	viewer, _ := s.session(ctx)

	s.mu.Lock()
	s.loading = true
	s.lastErr = ""
	q := notify.Query{
		ViewerUserID: viewer,
		OnlyUnread:   s.filter.OnlyUnread,
		Limit:        s.filter.Limit,
	}
	s.mu.Unlock()

	items, err := s.repo.List(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.logger.Error("Failed to load notifications", "err", err)
		s.lastErr = err.Error()
		return
	}
	s.items = items
	s.unread = countUnread(items)
}

// SetQuery merges the patch into the held filter. It does not reload; the
// caller applies the new filter with the next Load.
func (s *Store) SetQuery(patch FilterPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if patch.OnlyUnread != nil {
		s.filter.OnlyUnread = *patch.OnlyUnread
	}
	if patch.Limit != nil {
		s.filter.Limit = *patch.Limit
	}
}

// MarkRead asks the repository to mark the notification read and then applies
// the same patch locally, whatever the repository answered, so the UI reflects
// the change without waiting for a re-fetch. When no viewer is resolvable it
// falls back to a full Load afterwards to resync.
func (s *Store) MarkRead(ctx context.Context, id string) {
	if err := s.repo.MarkRead(ctx, id); err != nil {
		s.logger.Warn("Remote markRead failed; applying local patch anyway", "id", id, "err", err)
	}

	s.mu.Lock()
	now := time.Now()
	for i := range s.items {
		if s.items[i].ID == id {
			patchRead(&s.items[i], now)
		}
	}
	s.unread = countUnread(s.items)
	s.mu.Unlock()

	if _, ok := s.session(ctx); !ok {
		s.Load(ctx)
	}
}

// MarkAllRead marks every unread notification for the viewer read, remotely
// and then locally, and resets the unread count. Without a resolvable viewer
// it is a no-op.
func (s *Store) MarkAllRead(ctx context.Context) {
	viewer, ok := s.session(ctx)
	if !ok {
		return
	}

	if err := s.repo.MarkAllRead(ctx, viewer); err != nil {
		s.logger.Warn("Remote markAllRead failed; applying local patch anyway", "viewer", viewer, "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.items {
		if !s.items[i].IsRead {
			patchRead(&s.items[i], now)
		}
	}
	s.unread = 0
}

// Items returns a copy of the held list.
func (s *Store) Items() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount is the count of held entries with IsRead=false, recomputed on
// every load and patch.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Loading reports whether a Load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError is the message of the most recent failed Load, or empty.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func patchRead(n *notify.Notification, now time.Time) {
	n.IsRead = true
	if n.ReadAt == nil {
		t := now
		n.ReadAt = &t
	}
	n.UpdatedAt = now
}

func countUnread(items []notify.Notification) int {
	count := 0
	for _, n := range items {
		if !n.IsRead {
			count++
		}
	}
	return count
}
