// Package view computes read-side projections over an owner's artifacts.
// Everything here is pure: recomputed on every cache refresh, holding no
// state of its own.
package view

import (
	"blueprint/api/internal/store"
)

// KeyToolTypes are the tools counted toward plan completion.
var KeyToolTypes = []string{
	store.ToolCanvas,
	store.ToolStrategicAnalysis,
	store.ToolValueProposition,
	store.ToolPitch,
}

// LatestByType selects, for each tool type, the single artifact with the
// maximum UpdatedAt. Ties are broken by the lexicographically smaller ID so
// the result never depends on input order.
func LatestByType(records []store.Artifact) map[string]store.Artifact {
	latest := make(map[string]store.Artifact, len(records))
	for _, record := range records {
		current, ok := latest[record.ToolType]
		if !ok {
			latest[record.ToolType] = record
			continue
		}
		if record.UpdatedAt.After(current.UpdatedAt) {
			latest[record.ToolType] = record
			continue
		}
		if record.UpdatedAt.Equal(current.UpdatedAt) && record.ID < current.ID {
			latest[record.ToolType] = record
		}
	}
	return latest
}

// Completion is the share of key tool types whose latest artifact is
// complete, as a percentage rounded down. The denominator is always the
// fixed number of key types, not the number of artifacts present.
func Completion(latest map[string]store.Artifact) int {
	if len(KeyToolTypes) == 0 {
		return 0
	}
	complete := 0
	for _, toolType := range KeyToolTypes {
		if record, ok := latest[toolType]; ok && record.Status == store.StatusComplete {
			complete++
		}
	}
	return complete * 100 / len(KeyToolTypes)
}
