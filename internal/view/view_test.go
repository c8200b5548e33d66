package view

import (
	"testing"
	"time"

	"blueprint/api/internal/store"
)

func artifact(id, toolType, status string, updatedAt time.Time) store.Artifact {
	return store.Artifact{
		ID:        id,
		OwnerID:   "user-1",
		ToolType:  toolType,
		Status:    status,
		UpdatedAt: updatedAt,
	}
}

func TestLatestByTypePicksMaxUpdatedAt(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	records := []store.Artifact{
		artifact("art_1", store.ToolCanvas, store.StatusInProgress, t1),
		artifact("art_2", store.ToolCanvas, store.StatusComplete, t2),
		artifact("art_3", store.ToolPitch, store.StatusDraft, t3),
	}

	latest := LatestByType(records)
	if len(latest) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(latest))
	}
	if latest[store.ToolCanvas].ID != "art_2" {
		t.Errorf("expected canvas art_2, got %s", latest[store.ToolCanvas].ID)
	}
	if latest[store.ToolPitch].ID != "art_3" {
		t.Errorf("expected pitch art_3, got %s", latest[store.ToolPitch].ID)
	}
}

func TestLatestByTypeBreaksTiesByID(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []store.Artifact{
		artifact("art_b", store.ToolCanvas, store.StatusDraft, at),
		artifact("art_a", store.ToolCanvas, store.StatusDraft, at),
	}

	// Same result regardless of input order.
	if got := LatestByType(records)[store.ToolCanvas].ID; got != "art_a" {
		t.Errorf("expected art_a, got %s", got)
	}
	reversed := []store.Artifact{records[1], records[0]}
	if got := LatestByType(reversed)[store.ToolCanvas].ID; got != "art_a" {
		t.Errorf("expected art_a for reversed input, got %s", got)
	}
}

func TestLatestByTypeEmptyInput(t *testing.T) {
	if latest := LatestByType(nil); len(latest) != 0 {
		t.Errorf("expected empty map, got %v", latest)
	}
}

func TestCompletionCountsKeyTypes(t *testing.T) {
	at := time.Now()
	latest := LatestByType([]store.Artifact{
		artifact("art_1", store.ToolCanvas, store.StatusComplete, at),
		artifact("art_2", store.ToolPitch, store.StatusComplete, at),
		artifact("art_3", store.ToolValueProposition, store.StatusInProgress, at),
	})

	if got := Completion(latest); got != 50 {
		t.Errorf("expected 50, got %d", got)
	}
}

func TestCompletionAllAndNone(t *testing.T) {
	at := time.Now()
	var all []store.Artifact
	for i, toolType := range KeyToolTypes {
		all = append(all, artifact("art_"+string(rune('a'+i)), toolType, store.StatusComplete, at))
	}
	if got := Completion(LatestByType(all)); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
	if got := Completion(LatestByType(nil)); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestCompletionIgnoresSupersededCompleteRecord(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	// An older complete canvas superseded by a newer in-progress one does
	// not count: only the latest record per type matters.
	latest := LatestByType([]store.Artifact{
		artifact("art_1", store.ToolCanvas, store.StatusComplete, t1),
		artifact("art_2", store.ToolCanvas, store.StatusInProgress, t2),
	})
	if got := Completion(latest); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
