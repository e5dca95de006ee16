package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "study.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func TestParticipantRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetParticipant(ctx, "anon_missing")
	if err != nil || got != nil {
		t.Fatalf("missing participant: got=%v err=%v", got, err)
	}

	now := time.Unix(1_700_000_000, 0)
	p := &domain.Participant{
		ParticipantID: "anon_1",
		Label:         "participant-1",
		LastSeenAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.UpsertParticipant(ctx, p); err != nil {
		t.Fatalf("UpsertParticipant: %v", err)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "anon_1", later); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}
	got, err = repo.GetParticipant(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if got.Label != "participant-1" || !got.LastSeenAt.Equal(later) || !got.CreatedAt.Equal(now) {
		t.Fatalf("participant=%+v", got)
	}
	if err := repo.UpdateLastSeen(ctx, "anon_unknown", later); err != nil {
		t.Fatalf("UpdateLastSeen on unknown participant: %v", err)
	}
}

func TestResultsSaveListGet(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	a := domain.RatingForm{Humanlike: "5", Likeable: "6", Competent: "7", ChatAgain: "4"}
	b := domain.RatingForm{Humanlike: "2", Likeable: "3", Competent: "1", ChatAgain: "2"}
	base := time.UnixMilli(1_772_366_400_000)

	for i, id := range []string{"res-1", "res-2"} {
		err := repo.SaveResult(ctx, &domain.StoredResult{
			ResultID:      id,
			SessionID:     "sess-" + id,
			ParticipantID: "anon_1",
			FileName:      "chat-study-ratings.json",
			Record: domain.ExportRecord{
				Timestamp: base.UTC().Format(time.RFC3339Nano),
				AgentA:    &a,
				AgentB:    &b,
			},
			TranscriptJSON: `[{"agent":"alpha"}]`,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveResult(%s): %v", id, err)
		}
	}

	list, err := repo.ListResults(ctx, 10)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(list) != 2 || list[0].ResultID != "res-2" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	got, err := repo.GetResult(ctx, "res-1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Record.AgentA == nil || *got.Record.AgentA != a || *got.Record.AgentB != b {
		t.Fatalf("record=%+v", got.Record)
	}
	if got.TranscriptJSON != `[{"agent":"alpha"}]` || !got.CreatedAt.Equal(base) {
		t.Fatalf("result=%+v", got)
	}

	if _, err := repo.GetResult(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveResultReplacesSameSession(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first.json", "second.json"} {
		err := repo.SaveResult(ctx, &domain.StoredResult{
			ResultID:      "res-" + name,
			SessionID:     "sess-1",
			ParticipantID: "anon_1",
			FileName:      name,
			CreatedAt:     time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	list, err := repo.ListResults(ctx, 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(list) != 1 || list[0].FileName != "second.json" {
		t.Fatalf("expected a single replaced row, got %+v", list)
	}
}

func TestDeleteInactiveParticipantsKeepsThoseWithResults(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	for _, id := range []string{"anon_idle", "anon_done"} {
		if err := repo.UpsertParticipant(ctx, &domain.Participant{
			ParticipantID: id, Label: id, LastSeenAt: old, CreatedAt: old, UpdatedAt: old,
		}); err != nil {
			t.Fatalf("UpsertParticipant: %v", err)
		}
	}
	if err := repo.SaveResult(ctx, &domain.StoredResult{
		ResultID: "res-1", SessionID: "sess-1", ParticipantID: "anon_done", FileName: "f.json", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	n, err := repo.DeleteInactiveParticipants(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteInactiveParticipants: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	if p, _ := repo.GetParticipant(ctx, "anon_done"); p == nil {
		t.Fatal("participant with a result was deleted")
	}
	if p, _ := repo.GetParticipant(ctx, "anon_idle"); p != nil {
		t.Fatal("idle participant was kept")
	}
}
