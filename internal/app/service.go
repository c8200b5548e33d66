// Package app composes the store, cache, draft engines, and realtime bridge
// into the operations the HTTP layer exposes.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"blueprint/api/internal/cache"
	"blueprint/api/internal/draft"
	"blueprint/api/internal/identity"
	"blueprint/api/internal/persist"
	"blueprint/api/internal/realtime"
	"blueprint/api/internal/store"
	"blueprint/api/internal/view"
)

type dataStore interface {
	InsertArtifact(ctx context.Context, ownerID string, patch store.ArtifactPatch) (store.Artifact, error)
	UpdateArtifact(ctx context.Context, ownerID, artifactID string, patch store.ArtifactPatch) (store.Artifact, error)
	GetArtifact(ctx context.Context, ownerID, artifactID string) (store.Artifact, error)
	GetLatestArtifactByType(ctx context.Context, ownerID, toolType string) (*store.Artifact, error)
	ListArtifacts(ctx context.Context, ownerID string) ([]store.Artifact, error)
	DeleteArtifact(ctx context.Context, ownerID, artifactID string) error
	ListMilestones(ctx context.Context, ownerID string) ([]store.Milestone, error)
	InsertMilestone(ctx context.Context, ownerID, label string) (store.Milestone, error)
	ToggleMilestone(ctx context.Context, ownerID, milestoneID string) (store.Milestone, error)
	Ping(ctx context.Context) error
}

type sessionKey struct {
	ownerID  string
	toolType string
}

// Service owns the per-owner realtime bridges and the per-(owner, tool) draft
// sessions, and serves every cached read through the shared cache.
type Service struct {
	store     dataStore
	cache     *cache.Cache
	saver     *persist.Saver
	publisher *realtime.Publisher
	rdb       *redis.Client
	resolver  identity.Resolver
	tools     map[string]draft.Tool
	debounce  time.Duration

	mu       sync.Mutex
	sessions map[sessionKey]*draft.Engine
	bridges  map[string]*realtime.Bridge
}

func NewService(st dataStore, c *cache.Cache, rdb *redis.Client, resolver identity.Resolver, debounce time.Duration) *Service {
	return &Service{
		store:     st,
		cache:     c,
		saver:     persist.NewSaver(st, c, realtime.NewPublisher(rdb)),
		publisher: realtime.NewPublisher(rdb),
		rdb:       rdb,
		resolver:  resolver,
		tools:     defaultTools(),
		debounce:  debounce,
		sessions:  make(map[sessionKey]*draft.Engine),
		bridges:   make(map[string]*realtime.Bridge),
	}
}

// ResolveOwner maps a bearer token to an owner id, failing closed.
func (s *Service) ResolveOwner(ctx context.Context, token string) (string, error) {
	owner, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	return owner, nil
}

// OpenTool starts (or resumes) the owner's draft session for a tool and
// returns its loaded snapshot. The owner's realtime bridge is armed before
// the session exists, so no change notification published during the load
// can slip past unobserved.
func (s *Service) OpenTool(ctx context.Context, ownerID, toolType string) (draft.Snapshot, error) {
	tool, ok := s.tools[toolType]
	if !ok {
		return draft.Snapshot{}, domainError(http.StatusNotFound, "UNKNOWN_TOOL", "Unknown tool type", nil)
	}

	if err := s.armBridge(ctx, ownerID); err != nil {
		// The bridge is a freshness optimization; reads still converge
		// through invalidate-on-write, so a failed subscription does not
		// block opening the tool.
		log.Printf("app: arm bridge for %s: %v", ownerID, err)
	}

	engine := s.session(ownerID, toolType, tool)
	snap, err := engine.Load(ctx)
	if err != nil {
		return snap, domainError(http.StatusBadGateway, "LOAD_FAILED", "Could not load draft", nil)
	}
	return snap, nil
}

// EditTool buffers new content into the open session and restarts its
// autosave window.
func (s *Service) EditTool(ctx context.Context, ownerID, toolType string, content json.RawMessage) (draft.Snapshot, error) {
	engine, err := s.openSession(ownerID, toolType)
	if err != nil {
		return draft.Snapshot{}, err
	}
	snap, err := engine.Edit(content)
	if err != nil {
		return snap, mapDraftError(err)
	}
	return snap, nil
}

// FinalizeTool saves the open session as complete. Unlike autosave, a
// finalize failure surfaces to the caller and the session stays editable.
func (s *Service) FinalizeTool(ctx context.Context, ownerID, toolType string) (draft.Snapshot, error) {
	engine, err := s.openSession(ownerID, toolType)
	if err != nil {
		return draft.Snapshot{}, err
	}
	snap, err := engine.Finalize(ctx)
	if err != nil {
		return snap, mapDraftError(err)
	}
	return snap, nil
}

// CloseTool flushes and discards the owner's session for a tool. Closing a
// tool that is not open is a no-op. The owner's bridge is disarmed once the
// last session is gone.
func (s *Service) CloseTool(ctx context.Context, ownerID, toolType string) error {
	s.mu.Lock()
	key := sessionKey{ownerID: ownerID, toolType: toolType}
	engine, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	err := engine.Close(ctx)
	s.releaseBridgeIfIdle(ownerID)
	if err != nil {
		return domainError(http.StatusBadGateway, "FLUSH_FAILED", "Could not flush pending changes", nil)
	}
	return nil
}

// SignOut tears down everything bound to the owner's identity: every open
// session is flushed and dropped, and the change-feed bridge is disarmed so
// no notification is processed for a signed-out owner.
func (s *Service) SignOut(ctx context.Context, ownerID string) {
	s.mu.Lock()
	var engines []*draft.Engine
	for key, engine := range s.sessions {
		if key.ownerID == ownerID {
			engines = append(engines, engine)
			delete(s.sessions, key)
		}
	}
	bridge := s.bridges[ownerID]
	delete(s.bridges, ownerID)
	s.mu.Unlock()

	for _, engine := range engines {
		if err := engine.Close(ctx); err != nil {
			log.Printf("app: flush on sign-out for %s: %v", ownerID, err)
		}
	}
	if bridge != nil {
		bridge.Disarm()
	}
}

// Watch consumes identity-change notifications until ctx is cancelled. A
// change to a concrete owner re-arms that owner's bridge; a sign-out tears
// down all sessions, since the resolver cannot say whose token was revoked.
func (s *Service) Watch(ctx context.Context, changes <-chan identity.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.OwnerID == "" {
				s.SignOutAll(ctx)
				continue
			}
			s.mu.Lock()
			bridge := s.bridges[change.OwnerID]
			s.mu.Unlock()
			if bridge != nil {
				if err := bridge.Arm(ctx, change.OwnerID); err != nil {
					log.Printf("app: re-arm bridge for %s: %v", change.OwnerID, err)
				}
			}
		}
	}
}

// SignOutAll flushes and tears down every owner's sessions and bridges. Used
// on global sign-out and at process shutdown.
func (s *Service) SignOutAll(ctx context.Context) {
	s.mu.Lock()
	owners := make(map[string]struct{}, len(s.bridges))
	for key := range s.sessions {
		owners[key.ownerID] = struct{}{}
	}
	for owner := range s.bridges {
		owners[owner] = struct{}{}
	}
	s.mu.Unlock()

	for owner := range owners {
		s.SignOut(ctx, owner)
	}
}

// Artifacts lists every artifact for the owner, newest first, through the
// cache.
func (s *Service) Artifacts(ctx context.Context, ownerID string) ([]store.Artifact, error) {
	return cache.Fetch(ctx, s.cache, ownerID, cache.ScopeAll, func(ctx context.Context) ([]store.Artifact, error) {
		return s.store.ListArtifacts(ctx, ownerID)
	})
}

// Artifact reads one artifact by id through the cache.
func (s *Service) Artifact(ctx context.Context, ownerID, artifactID string) (store.Artifact, error) {
	artifact, err := cache.Fetch(ctx, s.cache, ownerID, cache.ScopeID(artifactID), func(ctx context.Context) (store.Artifact, error) {
		return s.store.GetArtifact(ctx, ownerID, artifactID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Artifact{}, domainError(http.StatusNotFound, "NOT_FOUND", "Artifact not found", nil)
	}
	return artifact, err
}

// LatestArtifact reads the owner's most recent artifact of a tool type
// through the cache. A nil result means the owner has none yet.
func (s *Service) LatestArtifact(ctx context.Context, ownerID, toolType string) (*store.Artifact, error) {
	if !store.IsToolType(toolType) {
		return nil, domainError(http.StatusNotFound, "UNKNOWN_TOOL", "Unknown tool type", nil)
	}
	return cache.Fetch(ctx, s.cache, ownerID, cache.ScopeType(toolType), func(ctx context.Context) (*store.Artifact, error) {
		return s.store.GetLatestArtifactByType(ctx, ownerID, toolType)
	})
}

// Overview is the dashboard projection: one latest artifact per tool type,
// the plan completion percentage, and the owner's milestones.
type Overview struct {
	Tools      map[string]store.Artifact `json:"tools"`
	Completion int                       `json:"completion"`
	Milestones []store.Milestone         `json:"milestones"`
}

func (s *Service) Overview(ctx context.Context, ownerID string) (Overview, error) {
	artifacts, err := s.Artifacts(ctx, ownerID)
	if err != nil {
		return Overview{}, err
	}
	latest := view.LatestByType(artifacts)

	milestones, err := s.store.ListMilestones(ctx, ownerID)
	if err != nil {
		return Overview{}, err
	}

	return Overview{
		Tools:      latest,
		Completion: view.Completion(latest),
		Milestones: milestones,
	}, nil
}

// DeleteArtifact removes an artifact and fans the deletion out to the cache
// and the change feed.
func (s *Service) DeleteArtifact(ctx context.Context, ownerID, artifactID string) error {
	artifact, err := s.store.GetArtifact(ctx, ownerID, artifactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Artifact not found", nil)
		}
		return err
	}
	if err := s.saver.Delete(ctx, ownerID, artifactID, artifact.ToolType); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Artifact not found", nil)
		}
		return err
	}
	return nil
}

// Milestones lists the owner's milestones.
func (s *Service) Milestones(ctx context.Context, ownerID string) ([]store.Milestone, error) {
	return s.store.ListMilestones(ctx, ownerID)
}

// AddMilestone creates a milestone and notifies like any other write.
func (s *Service) AddMilestone(ctx context.Context, ownerID, label string) (store.Milestone, error) {
	if label == "" {
		return store.Milestone{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "label is required", nil)
	}
	milestone, err := s.store.InsertMilestone(ctx, ownerID, label)
	if err != nil {
		return store.Milestone{}, err
	}
	s.milestoneFanOut(ctx, ownerID, milestone.ID, realtime.OpInsert)
	return milestone, nil
}

// ToggleMilestone flips a milestone's done flag.
func (s *Service) ToggleMilestone(ctx context.Context, ownerID, milestoneID string) (store.Milestone, error) {
	milestone, err := s.store.ToggleMilestone(ctx, ownerID, milestoneID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Milestone{}, domainError(http.StatusNotFound, "NOT_FOUND", "Milestone not found", nil)
		}
		return store.Milestone{}, err
	}
	s.milestoneFanOut(ctx, ownerID, milestone.ID, realtime.OpUpdate)
	return milestone, nil
}

func (s *Service) milestoneFanOut(ctx context.Context, ownerID, milestoneID, op string) {
	if err := s.cache.Invalidate(ctx, ownerID, cache.ScopeAll); err != nil {
		log.Printf("app: invalidate after milestone %s: %v", op, err)
	}
	ev := realtime.Event{
		Table:    realtime.TableMilestones,
		Op:       op,
		OwnerID:  ownerID,
		RecordID: milestoneID,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Printf("app: publish milestone %s event: %v", op, err)
	}
}

// Ping checks database connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache checks Redis connectivity.
func (s *Service) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// session returns the engine for (owner, tool), creating it on first use.
func (s *Service) session(ownerID, toolType string, tool draft.Tool) *draft.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{ownerID: ownerID, toolType: toolType}
	if engine, ok := s.sessions[key]; ok {
		return engine
	}
	engine := draft.NewEngine(draft.Config{
		OwnerID:  ownerID,
		Tool:     tool,
		Saver:    s.saver,
		Loader:   s.store,
		Debounce: s.debounce,
	})
	s.sessions[key] = engine
	return engine
}

// openSession returns the existing engine for (owner, tool) or a conflict
// error; edits and finalizes never create sessions implicitly.
func (s *Service) openSession(ownerID, toolType string) (*draft.Engine, error) {
	if _, ok := s.tools[toolType]; !ok {
		return nil, domainError(http.StatusNotFound, "UNKNOWN_TOOL", "Unknown tool type", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	engine, ok := s.sessions[sessionKey{ownerID: ownerID, toolType: toolType}]
	if !ok {
		return nil, domainError(http.StatusConflict, "SESSION_NOT_OPEN", "Open the tool before editing", nil)
	}
	return engine, nil
}

func (s *Service) armBridge(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	bridge, ok := s.bridges[ownerID]
	if !ok {
		bridge = realtime.NewBridge(s.rdb, s.cache)
		s.bridges[ownerID] = bridge
	}
	s.mu.Unlock()
	return bridge.Arm(ctx, ownerID)
}

func (s *Service) releaseBridgeIfIdle(ownerID string) {
	s.mu.Lock()
	for key := range s.sessions {
		if key.ownerID == ownerID {
			s.mu.Unlock()
			return
		}
	}
	bridge := s.bridges[ownerID]
	delete(s.bridges, ownerID)
	s.mu.Unlock()

	if bridge != nil {
		bridge.Disarm()
	}
}

func mapDraftError(err error) error {
	switch {
	case errors.Is(err, draft.ErrNotLoaded):
		return domainError(http.StatusConflict, "NOT_LOADED", "Draft is still loading", nil)
	case errors.Is(err, draft.ErrFinalized):
		return domainError(http.StatusConflict, "FINALIZED", "Finalized drafts are read-only", nil)
	case errors.Is(err, draft.ErrReauthRequired), errors.Is(err, store.ErrUnauthorized):
		return domainError(http.StatusUnauthorized, "REAUTH_REQUIRED", "Re-authentication required", nil)
	default:
		return err
	}
}
