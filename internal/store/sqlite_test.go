package store

import (
	"path/filepath"
	"testing"
	"time"

	"ragchat/internal/chat"
)

func newTestPersister(t *testing.T) *SQLitePersister {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	p, err := NewSQLitePersister(dbPath)
	if err != nil {
		t.Fatalf("NewSQLitePersister: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSQLiteRoundTrip(t *testing.T) {
	p := newTestPersister(t)

	now := time.Now().UTC()
	sessions := []chat.Session{
		{
			ID:    "sess_1",
			Title: "first",
			Messages: []chat.Message{
				{ID: "m1", Role: chat.RoleUser, Content: "hello", CreatedAt: now},
				{ID: "m2", Role: chat.RoleAssistant, Content: "hi there", CreatedAt: now.Add(time.Second)},
				{ID: "m3", Role: chat.RoleUser, Content: "你好", CreatedAt: now.Add(2 * time.Second)},
			},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Second),
		},
		{
			ID:    "sess_2",
			Title: chat.TitleUntitled,
			Messages: []chat.Message{
				{ID: "m4", Role: chat.RoleUser, Content: "q", CreatedAt: now},
				{ID: "m5", Role: chat.RoleAssistant, Content: "a", CreatedAt: now},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	if err := p.Save(sessions, "sess_2"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, activeID, err := p.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if activeID != "sess_2" {
		t.Fatalf("activeID=%q, want sess_2", activeID)
	}
	if len(loaded) != 2 {
		t.Fatalf("len(loaded)=%d, want 2", len(loaded))
	}
	for i, want := range sessions {
		got := loaded[i]
		if got.ID != want.ID || got.Title != want.Title {
			t.Fatalf("session[%d]=%+v, want %+v", i, got, want)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
			t.Fatalf("session[%d] timestamps changed across round trip", i)
		}
		if len(got.Messages) != len(want.Messages) {
			t.Fatalf("session[%d] message count=%d, want %d", i, len(got.Messages), len(want.Messages))
		}
		for j, wm := range want.Messages {
			gm := got.Messages[j]
			if gm.ID != wm.ID || gm.Role != wm.Role || gm.Content != wm.Content {
				t.Fatalf("message[%d][%d]=%+v, want %+v", i, j, gm, wm)
			}
			if !gm.CreatedAt.Equal(wm.CreatedAt) {
				t.Fatalf("message[%d][%d] timestamp changed across round trip", i, j)
			}
			if gm.CreatedAt.IsZero() {
				t.Fatalf("timestamp must load as a real instant")
			}
		}
	}
}

func TestSQLiteLoadEmpty(t *testing.T) {
	p := newTestPersister(t)
	sessions, activeID, err := p.Load()
	if err != nil {
		t.Fatalf("Load on fresh db: %v", err)
	}
	if len(sessions) != 0 || activeID != "" {
		t.Fatalf("fresh db should load empty, got %d sessions active=%q", len(sessions), activeID)
	}
}

func TestSQLiteSaveOverwrites(t *testing.T) {
	p := newTestPersister(t)
	now := time.Now().UTC()

	if err := p.Save([]chat.Session{{ID: "a", CreatedAt: now, UpdatedAt: now}}, "a"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := p.Save([]chat.Session{{ID: "b", CreatedAt: now, UpdatedAt: now}}, "b"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, activeID, err := p.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "b" || activeID != "b" {
		t.Fatalf("second save should fully replace the record, got %+v active=%q", loaded, activeID)
	}
}

func TestSQLitePersisterEmptyPath(t *testing.T) {
	if _, err := NewSQLitePersister("  "); err == nil {
		t.Fatalf("empty path should fail")
	}
}
