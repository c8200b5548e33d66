package store

import (
	"encoding/json"
	"time"
)

// Artifact statuses. An artifact starts as a draft, moves to in_progress on
// the first autosave, and is finalized as complete. Complete never reverts.
const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// Tool types form a closed set; each artifact row is tagged with exactly one.
const (
	ToolCanvas            = "canvas"
	ToolStrategicAnalysis = "strategic_analysis"
	ToolValueProposition  = "value_proposition"
	ToolPitch             = "pitch"
)

var toolTypes = map[string]struct{}{
	ToolCanvas:            {},
	ToolStrategicAnalysis: {},
	ToolValueProposition:  {},
	ToolPitch:             {},
}

func IsToolType(toolType string) bool {
	_, ok := toolTypes[toolType]
	return ok
}

func IsStatus(status string) bool {
	return status == StatusDraft || status == StatusInProgress || status == StatusComplete
}

// Artifact is a persisted planning-tool document. Content is an opaque blob
// owned entirely by the tool that produced it; the store never inspects it.
type Artifact struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	ToolType  string          `json:"toolType"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ArtifactPatch is the writable subset of an artifact carried by every save.
type ArtifactPatch struct {
	ToolType string          `json:"toolType"`
	Title    string          `json:"title"`
	Content  json.RawMessage `json:"content"`
	Status   string          `json:"status"`
}

type Milestone struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Label     string    `json:"label"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
