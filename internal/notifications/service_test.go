package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestService() (*Service, *Hub) {
	hub := NewHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(NewInMemoryRepository(), hub, logger), hub
}

func TestServiceCreatePublishesToSubscribers(t *testing.T) {
	svc, hub := newTestService()
	userID := uuid.New()

	ch, cancel, err := svc.Subscribe(context.Background(), userID)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer cancel()

	created, err := svc.Create(context.Background(), CreateInput{UserID: userID, Type: "inquiry", Title: " New inquiry "})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Title != "New inquiry" || created.IsRead {
		t.Fatalf("unexpected notification %+v", created)
	}

	select {
	case got := <-ch:
		if got.ID != created.ID {
			t.Fatalf("expected %s, got %s", created.ID, got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published notification")
	}

	cancel()
	cancel()
	if hub.Subscribers(userID) != 0 {
		t.Fatal("expected subscriber to be removed")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestServiceCreateDoesNotLeakAcrossUsers(t *testing.T) {
	svc, _ := newTestService()
	alice, bob := uuid.New(), uuid.New()

	ch, cancel, _ := svc.Subscribe(context.Background(), alice)
	defer cancel()

	if _, err := svc.Create(context.Background(), CreateInput{UserID: bob, Type: "system", Title: "Hi Bob"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	select {
	case n := <-ch:
		t.Fatalf("alice received bob's notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServiceCreateValidates(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Create(context.Background(), CreateInput{Type: "x", Title: "y"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing user, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{UserID: uuid.New(), Type: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing title, got %v", err)
	}
}

func TestServiceReadLifecycle(t *testing.T) {
	svc, _ := newTestService()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}
	userID := uuid.New()
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n, err := svc.Create(ctx, CreateInput{UserID: userID, Type: "system", Title: "Hello"})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		ids = append(ids, n.ID)
	}

	rows, total, err := svc.List(ctx, userID, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 3 || len(rows) != 2 || rows[0].ID != ids[2] {
		t.Fatalf("expected newest first page of 2 out of 3, got total=%d len=%d", total, len(rows))
	}

	changed, err := svc.MarkRead(ctx, userID, []uuid.UUID{ids[0], ids[0]})
	if err != nil || changed != 1 {
		t.Fatalf("expected one row marked read, got %d (%v)", changed, err)
	}

	unread, _ := svc.CountUnread(ctx, userID)
	if unread != 2 {
		t.Fatalf("expected 2 unread, got %d", unread)
	}

	rows, total, _ = svc.List(ctx, userID, ListOptions{UnreadOnly: true})
	if total != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 unread rows, got %d", total)
	}

	if _, err := svc.MarkAllRead(ctx, userID); err != nil {
		t.Fatalf("MarkAllRead returned error: %v", err)
	}
	if unread, _ := svc.CountUnread(ctx, userID); unread != 0 {
		t.Fatalf("expected 0 unread, got %d", unread)
	}

	if err := svc.Delete(ctx, uuid.New(), ids[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another user's row, got %v", err)
	}
	if err := svc.Delete(ctx, userID, ids[1]); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, total, _ := svc.List(ctx, userID, ListOptions{}); total != 2 {
		t.Fatalf("expected 2 rows after delete, got %d", total)
	}
}

func TestServiceMarkReadRequiresIDs(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.MarkRead(context.Background(), uuid.New(), nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
