package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"reactionmap/progress/internal/model"
)

func TestMemoryStoreStudentUpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	first, err := store.UpsertStudent(ctx, model.Student{ID: "s-1", ClassCode: "CHEM-12A", StudentCodeHash: "h1", DisplayName: "Alex", CreatedAt: created})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := store.UpsertStudent(ctx, model.Student{ID: "s-2", ClassCode: "CHEM-12A", StudentCodeHash: "h1", DisplayName: "Alexandra", CreatedAt: created.Add(time.Hour)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(created) {
		t.Fatalf("expected identity to be preserved, got %+v", second)
	}
	if second.DisplayName != "Alexandra" {
		t.Fatalf("expected display name update, got %s", second.DisplayName)
	}

	other, _ := store.UpsertStudent(ctx, model.Student{ID: "s-3", ClassCode: "CHEM-12B", StudentCodeHash: "h1", DisplayName: "Alex", CreatedAt: created})
	if other.ID != "s-3" {
		t.Fatalf("expected separate identity in another class, got %s", other.ID)
	}
}

func TestMemoryStoreProgressSinceIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	if _, err := store.UpsertProgress(ctx, "s-1", []model.ProgressUpdate{{ActivityID: "a", State: map[string]any{"progress": 0.1}}}, t0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.UpsertProgress(ctx, "s-1", []model.ProgressUpdate{{ActivityID: "b"}}, t1); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, _ := store.ListProgress(ctx, "s-1", nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	since, _ := store.ListProgress(ctx, "s-1", &t0)
	if len(since) != 1 || since[0].ActivityID != "b" {
		t.Fatalf("expected only b after t0, got %+v", since)
	}
	if since[0].State == nil {
		t.Fatalf("expected empty state to default to an object")
	}
	none, _ := store.ListProgress(ctx, "s-2", nil)
	if len(none) != 0 {
		t.Fatalf("expected no records for another student")
	}
}

func TestMemoryStoreSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	_ = store.CreateSession(ctx, model.Session{TokenHash: "live", StudentID: "s-1", ExpiresAt: now.Add(time.Hour)})
	_ = store.CreateSession(ctx, model.Session{TokenHash: "dead", StudentID: "s-1", ExpiresAt: now.Add(-time.Hour)})

	removed, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", removed, err)
	}
	if _, err := store.GetSession(ctx, "dead"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.TouchSession(ctx, "live", now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	session, _ := store.GetSession(ctx, "live")
	if session.LastSeenAt == nil || !session.LastSeenAt.Equal(now) {
		t.Fatalf("expected last seen to be set")
	}
}
