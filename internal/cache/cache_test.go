package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cardbank/cardbank/internal/model"
)

func setupDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close cache: %v", err)
		}
	})
	return db
}

func testSnapshot() model.Snapshot {
	return model.Snapshot{
		RecordID: "rec1",
		Items: []any{
			map[string]any{"id": "t1", "type": "topic", "subject": "Maths", "name": "Algebra"},
			map[string]any{"id": "c1", "type": "card", "topicId": "t1", "question": "2+2?", "answer": "4"},
		},
		TopicLists: []model.TopicList{
			{Subject: "Maths", Topics: []model.TopicEntry{{ID: "t1", Name: "Algebra"}}},
		},
		Metadata: []model.TopicMetadata{
			{TopicID: "t1", Subject: "Maths", Name: "Algebra"},
		},
		ColorMap:  model.ColorMap{"Maths": "#3cb44b"},
		LastSaved: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestSaveLoadSnapshot(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	fetchedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := db.SaveSnapshot(ctx, testSnapshot(), fetchedAt); err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}

	snap, fetched, err := db.LoadSnapshot(ctx, "rec1")
	if err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}

	if len(snap.Items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(snap.Items))
	}
	if len(snap.TopicLists) != 1 || snap.TopicLists[0].Subject != "Maths" {
		t.Errorf("Topic lists lost: %+v", snap.TopicLists)
	}
	if snap.ColorMap["Maths"] != "#3cb44b" {
		t.Errorf("Color map lost: %v", snap.ColorMap)
	}
	if !snap.LastSaved.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("Last saved timestamp lost: %v", snap.LastSaved)
	}
	if !fetched.Equal(fetchedAt) {
		t.Errorf("Fetched-at timestamp lost: %v", fetched)
	}
}

func TestSaveSnapshotUpsert(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	snap := testSnapshot()
	if err := db.SaveSnapshot(ctx, snap, time.Now()); err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}

	snap.Items = append(snap.Items, map[string]any{"id": "c2", "type": "card"})
	if err := db.SaveSnapshot(ctx, snap, time.Now()); err != nil {
		t.Fatalf("Failed to update snapshot: %v", err)
	}

	loaded, _, err := db.LoadSnapshot(ctx, "rec1")
	if err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}
	if len(loaded.Items) != 3 {
		t.Errorf("Expected 3 items after upsert, got %d", len(loaded.Items))
	}

	ids, err := db.RecordIDs(ctx)
	if err != nil {
		t.Fatalf("Failed to list records: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("Upsert created a duplicate row: %v", ids)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	db := setupDB(t)

	_, _, err := db.LoadSnapshot(context.Background(), "nope")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Expected ErrNoSnapshot, got %v", err)
	}
}

func TestSaveSnapshotRequiresRecordID(t *testing.T) {
	db := setupDB(t)

	if err := db.SaveSnapshot(context.Background(), model.Snapshot{}, time.Now()); err == nil {
		t.Error("Expected error for snapshot without record id")
	}
}

func TestDeleteSnapshot(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.SaveSnapshot(ctx, testSnapshot(), time.Now()); err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	if err := db.DeleteSnapshot(ctx, "rec1"); err != nil {
		t.Fatalf("Failed to delete snapshot: %v", err)
	}

	_, _, err := db.LoadSnapshot(ctx, "rec1")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Snapshot survived deletion: %v", err)
	}
}
