// Package persist implements the save-or-create operation shared by every
// planning tool: an absent id creates exactly one row, a present id always
// updates that row. Retry policy lives with the caller; this layer only
// guarantees that a save never duplicates a record and that every
// acknowledged write invalidates the read cache and notifies other sessions.
package persist

import (
	"context"
	"fmt"
	"log"

	"blueprint/api/internal/cache"
	"blueprint/api/internal/realtime"
	"blueprint/api/internal/store"
)

type artifactStore interface {
	InsertArtifact(ctx context.Context, ownerID string, patch store.ArtifactPatch) (store.Artifact, error)
	UpdateArtifact(ctx context.Context, ownerID, artifactID string, patch store.ArtifactPatch) (store.Artifact, error)
	DeleteArtifact(ctx context.Context, ownerID, artifactID string) error
}

type invalidator interface {
	Invalidate(ctx context.Context, ownerID string, scopes ...string) error
}

type publisher interface {
	Publish(ctx context.Context, ev realtime.Event) error
}

type Saver struct {
	store     artifactStore
	cache     invalidator
	publisher publisher
}

func NewSaver(artifacts artifactStore, inv invalidator, pub publisher) *Saver {
	return &Saver{store: artifacts, cache: inv, publisher: pub}
}

// Save writes the patch for ownerID. With an empty existingID it creates a
// new row; otherwise it updates that row and never inserts. Store failures
// propagate unretried and leave the cache untouched. On success the owner's
// affected cache scopes are invalidated before returning, so a read issued
// right after Save resolves sees the new value.
func (s *Saver) Save(ctx context.Context, ownerID, existingID string, patch store.ArtifactPatch) (store.Artifact, error) {
	if ownerID == "" {
		return store.Artifact{}, fmt.Errorf("save artifact: owner cannot be empty")
	}
	if !store.IsToolType(patch.ToolType) {
		return store.Artifact{}, fmt.Errorf("save artifact: unknown tool type %q", patch.ToolType)
	}
	if !store.IsStatus(patch.Status) {
		return store.Artifact{}, fmt.Errorf("save artifact: unknown status %q", patch.Status)
	}

	var (
		saved store.Artifact
		op    string
		err   error
	)
	if existingID == "" {
		saved, err = s.store.InsertArtifact(ctx, ownerID, patch)
		op = realtime.OpInsert
	} else {
		saved, err = s.store.UpdateArtifact(ctx, ownerID, existingID, patch)
		op = realtime.OpUpdate
	}
	if err != nil {
		return store.Artifact{}, err
	}

	s.fanOut(ctx, saved.OwnerID, saved.ID, saved.ToolType, op)
	return saved, nil
}

// Delete removes a row, then invalidates and notifies like any other write.
func (s *Saver) Delete(ctx context.Context, ownerID, artifactID, toolType string) error {
	if err := s.store.DeleteArtifact(ctx, ownerID, artifactID); err != nil {
		return err
	}
	s.fanOut(ctx, ownerID, artifactID, toolType, realtime.OpDelete)
	return nil
}

// fanOut performs the post-write bookkeeping. Neither step may fail the
// write: the row is already committed, and both cache refetch and Pub/Sub
// redelivery are self-healing.
func (s *Saver) fanOut(ctx context.Context, ownerID, artifactID, toolType, op string) {
	scopes := []string{cache.ScopeAll, cache.ScopeType(toolType), cache.ScopeID(artifactID)}
	if err := s.cache.Invalidate(ctx, ownerID, scopes...); err != nil {
		log.Printf("persist: invalidate after %s: %v", op, err)
	}

	ev := realtime.Event{
		Table:    realtime.TableArtifacts,
		Op:       op,
		OwnerID:  ownerID,
		RecordID: artifactID,
		ToolType: toolType,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Printf("persist: publish %s event: %v", op, err)
	}
}
