package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"teleosint/internal/model"
	"teleosint/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub", "test.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStorePersistAndAlreadyScored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	hit := model.PersistedHit{
		ChatID:          100,
		ChatTitle:       "Example Chat",
		ChatUsername:    "example",
		DateUTC:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		MessageID:       7,
		Text:            "a data breach was reported",
		Lang:            "en",
		MatchedKeywords: []string{"breach"},
		Score:           1,
		URL:             "https://t.me/example/7",
	}

	ok, err := st.AlreadyScored(ctx, hit.ChatID, hit.MessageID)
	if err != nil {
		t.Fatalf("AlreadyScored() before persist error = %v", err)
	}
	if ok {
		t.Fatalf("AlreadyScored() before persist = true, want false")
	}

	if err := st.Persist(ctx, hit); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	ok, err = st.AlreadyScored(ctx, hit.ChatID, hit.MessageID)
	if err != nil {
		t.Fatalf("AlreadyScored() after persist error = %v", err)
	}
	if !ok {
		t.Fatalf("AlreadyScored() after persist = false, want true")
	}
}

func TestStorePersistIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	hit := model.PersistedHit{ChatID: 1, MessageID: 1, Text: "first", DateUTC: time.Now()}
	if err := st.Persist(ctx, hit); err != nil {
		t.Fatalf("first Persist() error = %v", err)
	}
	hit.Text = "updated"
	if err := st.Persist(ctx, hit); err != nil {
		t.Fatalf("second Persist() error = %v", err)
	}

	ok, err := st.AlreadyScored(ctx, 1, 1)
	if err != nil || !ok {
		t.Fatalf("AlreadyScored() = %v, %v, want true, nil", ok, err)
	}
}

func TestStoreLastSeenWatermark(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	last, err := st.LastSeen(ctx, 42)
	if err != nil {
		t.Fatalf("LastSeen() before any writes error = %v", err)
	}
	if last != 0 {
		t.Fatalf("LastSeen() before any writes = %d, want 0", last)
	}

	base := time.Now()
	for _, id := range []int{5, 20, 12} {
		hit := model.PersistedHit{ChatID: 42, MessageID: id, Text: "x", DateUTC: base}
		if err := st.Persist(ctx, hit); err != nil {
			t.Fatalf("Persist(message_id=%d) error = %v", id, err)
		}
	}

	last, err = st.LastSeen(ctx, 42)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if last != 20 {
		t.Fatalf("LastSeen() = %d, want 20 (watermark must clamp to the max seen id)", last)
	}
}

func TestStoreLastSeenUnknownChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	last, err := st.LastSeen(ctx, 9999)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if last != 0 {
		t.Fatalf("LastSeen() for unknown chat = %d, want 0", last)
	}
}
