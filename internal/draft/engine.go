// Package draft runs the per-tool editing session: it seeds content from the
// latest persisted record (or an upstream tool), debounces autosaves, pins
// the artifact id after the first successful save, and gates everything
// behind a one-way finalize.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"blueprint/api/internal/store"
)

var (
	// ErrNotLoaded is returned for operations that require the initial
	// load to have resolved.
	ErrNotLoaded = errors.New("draft session not loaded")
	// ErrFinalized is returned once a session is complete; finalized
	// content is read-only.
	ErrFinalized = errors.New("draft session is finalized")
	// ErrReauthRequired is returned after an authorization failure; the
	// engine stops autosaving rather than silently discarding edits.
	ErrReauthRequired = errors.New("re-authentication required")
)

// DefaultDebounce is the autosave quiet window after the last edit.
const DefaultDebounce = 1500 * time.Millisecond

const saveTimeout = 10 * time.Second

// Tool describes one planning tool's lifecycle parameters. Content stays
// opaque to the engine except for the Seed hook, which the tool owns.
type Tool struct {
	Type         string
	DefaultTitle string
	// Empty is the content a brand-new session starts from when nothing
	// can be seeded.
	Empty json.RawMessage
	// Upstream, when set, names the tool type whose latest artifact seeds
	// a fresh session, mapped through Seed.
	Upstream string
	Seed     func(upstream json.RawMessage) json.RawMessage
}

// SaveClient is the idempotent save-or-create operation.
type SaveClient interface {
	Save(ctx context.Context, ownerID, existingID string, patch store.ArtifactPatch) (store.Artifact, error)
}

// LatestLoader reads the most recent artifact of a tool type for an owner.
type LatestLoader interface {
	GetLatestArtifactByType(ctx context.Context, ownerID, toolType string) (*store.Artifact, error)
}

// Snapshot is a point-in-time copy of the session, safe to hand out.
type Snapshot struct {
	State       State           `json:"state"`
	ArtifactID  string          `json:"artifactId,omitempty"`
	ToolType    string          `json:"toolType"`
	Title       string          `json:"title"`
	Content     json.RawMessage `json:"content"`
	Status      string          `json:"status"`
	Dirty       bool            `json:"dirty"`
	NeedsReauth bool            `json:"needsReauth,omitempty"`
}

type Config struct {
	OwnerID  string
	Tool     Tool
	Saver    SaveClient
	Loader   LatestLoader
	Debounce time.Duration
	Logf     func(format string, args ...any)
}

// Engine is the state machine for one (owner, tool) editing session. All
// methods are safe for concurrent use; the mutex serializes the UI-facing
// calls against timer and save callbacks the way a single-threaded event
// loop would.
type Engine struct {
	ownerID  string
	tool     Tool
	saver    SaveClient
	loader   LatestLoader
	debounce time.Duration
	logf     func(format string, args ...any)

	// saveMu serializes the network portion of saves. A finalize or
	// flush never starts while a create is still in flight, so the id
	// assigned by the first create is always pinned before the next save
	// reads it — without this, two near-simultaneous saves with no id
	// yet could each insert a row.
	saveMu sync.Mutex

	mu         sync.Mutex
	state      State
	artifactID string
	title      string
	content    json.RawMessage
	status     string
	dirty      bool
	seeded     bool
	finalizing bool
	reauth     bool
	timer      *time.Timer
}

func NewEngine(cfg Config) *Engine {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Engine{
		ownerID:  cfg.OwnerID,
		tool:     cfg.Tool,
		saver:    cfg.Saver,
		loader:   cfg.Loader,
		debounce: debounce,
		logf:     logf,
		state:    StateUnloaded,
		title:    cfg.Tool.DefaultTitle,
		content:  cfg.Tool.Empty,
		status:   store.StatusDraft,
	}
}

// Load resolves the session seed: the owner's latest artifact of this tool
// type (resume), else the designated upstream tool's latest output, else the
// tool's empty defaults. It runs at most once; subsequent calls return the
// current snapshot. No save can fire before Load resolves, and a seed never
// overwrites edits buffered while the load was in flight.
func (e *Engine) Load(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	if e.seeded || e.state != StateUnloaded {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, nil
	}
	e.state, _ = transition(e.state, eventLoadStart)
	e.mu.Unlock()

	own, err := e.loader.GetLatestArtifactByType(ctx, e.ownerID, e.tool.Type)
	if err != nil {
		e.mu.Lock()
		e.state, _ = transition(e.state, eventLoadFailed)
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, fmt.Errorf("load %s draft: %w", e.tool.Type, err)
	}

	var seedContent json.RawMessage
	if own == nil && e.tool.Upstream != "" && e.tool.Seed != nil {
		upstream, err := e.loader.GetLatestArtifactByType(ctx, e.ownerID, e.tool.Upstream)
		if err != nil {
			// Cross-tool seeding is best-effort: fall back to empty
			// defaults rather than failing the page load.
			e.logf("draft: seed %s from %s: %v", e.tool.Type, e.tool.Upstream, err)
		} else if upstream != nil {
			seedContent = e.tool.Seed(upstream.Content)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.seeded = true
	e.state, _ = transition(e.state, eventLoadDone)

	if own != nil {
		// Resume: pin the id even if edits were buffered during the
		// load, so the first save updates instead of duplicating.
		e.artifactID = own.ID
		e.status = own.Status
		if !e.dirty {
			e.title = own.Title
			e.content = own.Content
		}
		if own.Status == store.StatusComplete {
			e.state, _ = transition(e.state, eventFinalizeDone)
			return e.snapshotLocked(), nil
		}
	} else if seedContent != nil && !e.dirty {
		e.content = seedContent
	}

	if e.dirty {
		e.scheduleLocked()
	}
	return e.snapshotLocked(), nil
}

// Edit replaces the in-memory content and restarts the debounce window.
// Before the load resolves, edits are buffered only; no save is scheduled.
func (e *Engine) Edit(content json.RawMessage) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.reauth {
		return e.snapshotLocked(), ErrReauthRequired
	}
	if e.finalizing || e.state == StateFinalized {
		return e.snapshotLocked(), ErrFinalized
	}

	e.content = content
	e.dirty = true
	if e.seeded {
		e.scheduleLocked()
	}
	return e.snapshotLocked(), nil
}

// Finalize saves the session with status complete. Failure surfaces to the
// caller and local state stays editable; success makes the session terminal.
// From the moment Finalize begins, autosaves are blocked so a stale
// in_progress write can never interleave behind the complete one.
func (e *Engine) Finalize(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	if !e.seeded {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, ErrNotLoaded
	}
	if e.state == StateFinalized {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, nil
	}
	if e.finalizing {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap, fmt.Errorf("finalize already in progress")
	}
	e.finalizing = true
	e.stopTimerLocked()
	e.mu.Unlock()

	// Wait out any in-flight autosave so the finalize save carries the
	// pinned id and lands last.
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	existingID := e.artifactID
	patch := e.patchLocked(store.StatusComplete)
	e.mu.Unlock()

	saved, err := e.saver.Save(ctx, e.ownerID, existingID, patch)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalizing = false
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			e.reauth = true
		}
		return e.snapshotLocked(), fmt.Errorf("finalize %s: %w", e.tool.Type, err)
	}

	e.artifactID = saved.ID
	e.status = store.StatusComplete
	e.dirty = false
	e.state, _ = transition(e.state, eventFinalizeDone)
	return e.snapshotLocked(), nil
}

// Close tears the session down. A pending debounce is flushed synchronously
// so the last keystrokes are not lost between the final edit and the timer
// firing; a finalized or unauthorized session flushes nothing.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.stopTimerLocked()
	mustFlush := e.dirty && e.seeded && !e.finalizing &&
		e.state != StateFinalized && !e.reauth
	e.mu.Unlock()

	if !mustFlush {
		return nil
	}
	return e.save(ctx)
}

// Snapshot returns the current session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		State:       e.state,
		ArtifactID:  e.artifactID,
		ToolType:    e.tool.Type,
		Title:       e.title,
		Content:     e.content,
		Status:      e.status,
		Dirty:       e.dirty,
		NeedsReauth: e.reauth,
	}
}

func (e *Engine) patchLocked(status string) store.ArtifactPatch {
	return store.ArtifactPatch{
		ToolType: e.tool.Type,
		Title:    e.title,
		Content:  e.content,
		Status:   status,
	}
}

func (e *Engine) scheduleLocked() {
	e.stopTimerLocked()
	e.timer = time.AfterFunc(e.debounce, e.autosave)
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := e.save(ctx); err != nil {
		// Autosave is best-effort: log and wait for the next edit to
		// trigger another cycle. Finalize and load failures, by
		// contrast, surface to the caller.
		e.logf("draft: autosave %s for %s: %v", e.tool.Type, e.ownerID, err)
	}
}

// save performs one debounced or flush save with status in_progress. The
// save is skipped when there is nothing dirty or the session stopped being
// writable after the timer was armed.
func (e *Engine) save(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	if !e.dirty || !e.seeded || e.finalizing ||
		e.state == StateFinalized || e.reauth {
		e.mu.Unlock()
		return nil
	}
	e.state, _ = transition(e.state, eventSaveStart)
	e.dirty = false
	existingID := e.artifactID
	patch := e.patchLocked(store.StatusInProgress)
	e.mu.Unlock()

	saved, err := e.saver.Save(ctx, e.ownerID, existingID, patch)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSaving {
		e.state, _ = transition(e.state, eventSaveDone)
	}
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			e.reauth = true
		}
		return err
	}

	// Pin the id assigned by the first create; every later save in this
	// session updates that row.
	if e.artifactID == "" {
		e.artifactID = saved.ID
	}
	if e.status != store.StatusComplete {
		e.status = saved.Status
	}
	return nil
}
