package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/clawinfra/skillclaw/internal/audit"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func event(n int, skillName, instance string) audit.Event {
	return audit.Event{
		Timestamp:   time.Now().UTC(),
		Invocation:  fmt.Sprintf("inv-%03d", n),
		Skill:       skillName,
		Instance:    instance,
		Tool:        "get",
		Outcome:     "ok",
		DurationMS:  int64(n),
		OutputBytes: 100,
	}
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, event(i, "web", "prod")); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d rows, want 5", len(got))
	}
	// Newest first.
	if got[0].Invocation != "inv-004" {
		t.Errorf("expected newest first, got %s", got[0].Invocation)
	}
	if got[0].Outcome != "ok" || got[0].Tool != "get" {
		t.Errorf("row fields lost: %+v", got[0])
	}
}

func TestStore_RecentFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, event(0, "web", "prod")); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, event(1, "web", "staging")); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, event(2, "db", "prod")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, "web", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("skill filter: got %d rows, want 2", len(got))
	}

	got, err = s.Recent(ctx, "web", "staging", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Instance != "staging" {
		t.Errorf("instance filter: got %+v", got)
	}
}

func TestStore_RecentLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.Record(ctx, event(i, "web", "prod")); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Recent(ctx, "", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %d rows, want 3", len(got))
	}
}
