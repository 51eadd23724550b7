package favorites

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"estately/internal/properties"

	"github.com/google/uuid"
)

type propertyReaderStub struct {
	rows map[uuid.UUID]properties.Property
}

func (p propertyReaderStub) Get(_ context.Context, id uuid.UUID) (properties.Property, error) {
	row, ok := p.rows[id]
	if !ok {
		return properties.Property{}, properties.ErrNotFound
	}
	return row, nil
}

func newTestService(props ...properties.Property) *Service {
	rows := make(map[uuid.UUID]properties.Property, len(props))
	for _, p := range props {
		rows[p.ID] = p
	}
	return NewService(NewInMemoryRepository(), propertyReaderStub{rows: rows}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAddIsIdempotent(t *testing.T) {
	listing := properties.Property{ID: uuid.New(), Title: "Loft"}
	svc := newTestService(listing)
	user := uuid.New()
	ctx := context.Background()

	first, err := svc.Add(ctx, user, listing.ID)
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	second, err := svc.Add(ctx, user, listing.ID)
	if err != nil {
		t.Fatalf("second Add returned error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same favorite row, got %s and %s", first.ID, second.ID)
	}
	if second.Property == nil || second.Property.Title != "Loft" {
		t.Fatalf("expected expanded property, got %+v", second.Property)
	}

	_, total, err := svc.List(ctx, user, 0, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one favorite, got %d", total)
	}
}

func TestAddRequiresExistingProperty(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Add(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestToggleFlipsState(t *testing.T) {
	listing := properties.Property{ID: uuid.New()}
	svc := newTestService(listing)
	user := uuid.New()
	ctx := context.Background()

	saved, err := svc.Toggle(ctx, user, listing.ID)
	if err != nil || !saved {
		t.Fatalf("expected first toggle to save, got %v, %v", saved, err)
	}
	saved, err = svc.Toggle(ctx, user, listing.ID)
	if err != nil || saved {
		t.Fatalf("expected second toggle to remove, got %v, %v", saved, err)
	}
	if ok, _ := svc.IsFavorite(ctx, user, listing.ID); ok {
		t.Fatalf("expected favorite to be removed")
	}
}

func TestListIsScopedToUserAndNewestFirst(t *testing.T) {
	older := properties.Property{ID: uuid.New(), Title: "Older"}
	newer := properties.Property{ID: uuid.New(), Title: "Newer"}
	svc := newTestService(older, newer)
	user := uuid.New()
	ctx := context.Background()

	clock := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	if _, err := svc.Add(ctx, user, older.ID); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	clock = clock.Add(time.Hour)
	if _, err := svc.Add(ctx, user, newer.ID); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if _, err := svc.Add(ctx, uuid.New(), older.ID); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	rows, total, err := svc.List(ctx, user, 0, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("expected two favorites, got %d (total %d)", len(rows), total)
	}
	if rows[0].Property == nil || rows[0].Property.Title != "Newer" {
		t.Fatalf("expected newest favorite first, got %+v", rows[0])
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	svc := newTestService()
	if err := svc.Remove(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
