package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"estately/internal/backend"
	"estately/internal/notifications"
)

// InboxPageSize is how many recent notifications Load keeps.
const InboxPageSize = 50

// feedClient is the backend surface the inbox needs.
type feedClient interface {
	From(table string) *backend.Query
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	SubscribeNotifications(ctx context.Context) (<-chan backend.RealtimeEvent, error)
}

// Inbox reconciles the signed-in user's notification list and unread count
// with the live feed. Mark-read operations update local state first and
// re-read the server count if the request fails.
type Inbox struct {
	client feedClient
	logger *slog.Logger

	mu        sync.Mutex
	items     []notifications.Notification
	unread    int
	available bool
}

// NewInbox creates an empty inbox. Call Load or Follow to populate it.
func NewInbox(client feedClient, logger *slog.Logger) *Inbox {
	return &Inbox{client: client, logger: logger}
}

// Load fetches the most recent notifications and the unread count. A server
// without the notifications endpoint leaves the inbox empty and unavailable.
func (i *Inbox) Load(ctx context.Context) error {
	var rows []notifications.Notification
	_, err := i.client.From("notifications").
		Order("created_at", false).
		Range(0, InboxPageSize-1).
		Select(ctx, &rows)
	if errors.Is(err, backend.ErrNotFound) {
		i.logger.Info("notifications are not available on this server")
		i.mu.Lock()
		i.items, i.unread, i.available = nil, 0, false
		i.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	unread, err := i.fetchUnread(ctx)
	if err != nil {
		return err
	}

	i.mu.Lock()
	i.items, i.unread, i.available = rows, unread, true
	i.mu.Unlock()
	return nil
}

// Available reports whether the last Load reached the notifications endpoint.
func (i *Inbox) Available() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.available
}

// Items returns the notifications, newest first.
func (i *Inbox) Items() []notifications.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]notifications.Notification(nil), i.items...)
}

// Unread returns the unread count.
func (i *Inbox) Unread() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unread
}

// Apply merges a live insert. It returns false when the notification is
// already present.
func (i *Inbox) Apply(n notifications.Notification) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, existing := range i.items {
		if existing.ID == n.ID {
			return false
		}
	}
	i.items = append([]notifications.Notification{n}, i.items...)
	if len(i.items) > InboxPageSize {
		i.items = i.items[:InboxPageSize]
	}
	if !n.IsRead {
		i.unread++
	}
	return true
}

// MarkRead flags the given notifications as read.
func (i *Inbox) MarkRead(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	previous := i.Unread()
	flipped := i.markLocal(func(n notifications.Notification) bool { return wanted[n.ID] })
	if err := i.client.Post(ctx, "/api/notifications/read", map[string]any{"ids": ids}, nil); err != nil {
		i.rollback(ctx, flipped, previous)
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// MarkAllRead flags every notification as read.
func (i *Inbox) MarkAllRead(ctx context.Context) error {
	previous := i.Unread()
	flipped := i.markLocal(func(notifications.Notification) bool { return true })
	i.mu.Lock()
	i.unread = 0
	i.mu.Unlock()

	if err := i.client.Post(ctx, "/api/notifications/read_all", nil, nil); err != nil {
		i.rollback(ctx, flipped, previous)
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// Follow opens the live feed and then reloads the inbox, so inserts made
// while the list was being fetched still arrive through the feed. It returns
// once the inbox is loaded. The channel yields every notification that was
// new to the inbox and closes when ctx ends or the feed closes.
func (i *Inbox) Follow(ctx context.Context) (<-chan notifications.Notification, error) {
	feedCtx, cancel := context.WithCancel(ctx)
	events, err := i.client.SubscribeNotifications(feedCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := i.Load(ctx); err != nil {
		cancel()
		return nil, err
	}

	inserts := make(chan notifications.Notification)
	go func() {
		defer cancel()
		defer close(inserts)
		for event := range events {
			if event.Type != "INSERT" {
				continue
			}
			var n notifications.Notification
			if err := json.Unmarshal(event.Data, &n); err != nil {
				i.logger.Warn("skip malformed notification event", "error", err)
				continue
			}
			if !i.Apply(n) {
				continue
			}
			select {
			case inserts <- n:
			case <-feedCtx.Done():
				return
			}
		}
	}()
	return inserts, nil
}

// Watch follows the feed until ctx ends or the feed closes. onInsert, when
// set, is called for every notification that was new to the inbox.
func (i *Inbox) Watch(ctx context.Context, onInsert func(notifications.Notification)) error {
	inserts, err := i.Follow(ctx)
	if err != nil {
		return err
	}
	for n := range inserts {
		if onInsert != nil {
			onInsert(n)
		}
	}
	return ctx.Err()
}

// markLocal flags matching unread items as read and returns their ids.
func (i *Inbox) markLocal(match func(notifications.Notification) bool) []uuid.UUID {
	i.mu.Lock()
	defer i.mu.Unlock()

	var flipped []uuid.UUID
	for idx := range i.items {
		if !i.items[idx].IsRead && match(i.items[idx]) {
			i.items[idx].IsRead = true
			flipped = append(flipped, i.items[idx].ID)
		}
	}
	i.unread -= len(flipped)
	if i.unread < 0 {
		i.unread = 0
	}
	return flipped
}

// rollback restores optimistic flags and re-reads the authoritative count,
// falling back to the count from before the change.
func (i *Inbox) rollback(ctx context.Context, ids []uuid.UUID, previous int) {
	restore := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		restore[id] = true
	}

	i.mu.Lock()
	for idx := range i.items {
		if restore[i.items[idx].ID] {
			i.items[idx].IsRead = false
		}
	}
	i.mu.Unlock()

	unread, err := i.fetchUnread(ctx)
	if err != nil {
		i.logger.Warn("reconcile unread count failed", "error", err)
		unread = previous
	}
	i.mu.Lock()
	i.unread = unread
	i.mu.Unlock()
}

func (i *Inbox) fetchUnread(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := i.client.Get(ctx, "/api/notifications/unread_count", nil, &out); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return out.Count, nil
}
