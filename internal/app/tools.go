package app

import (
	"encoding/json"

	"blueprint/api/internal/draft"
	"blueprint/api/internal/store"
)

// defaultTools is the closed registry of planning tools. Each entry owns its
// content shape; the lifecycle engine treats content as opaque and only the
// Seed hooks here look inside another tool's blob.
func defaultTools() map[string]draft.Tool {
	return map[string]draft.Tool{
		store.ToolCanvas: {
			Type:         store.ToolCanvas,
			DefaultTitle: "Business Model Canvas",
			Empty:        json.RawMessage(`{}`),
		},
		store.ToolStrategicAnalysis: {
			Type:         store.ToolStrategicAnalysis,
			DefaultTitle: "Strategic Analysis",
			Empty:        json.RawMessage(`{}`),
		},
		store.ToolValueProposition: {
			Type:         store.ToolValueProposition,
			DefaultTitle: "Value Proposition",
			Empty:        json.RawMessage(`{}`),
			Upstream:     store.ToolCanvas,
			Seed:         seedValuePropositionFromCanvas,
		},
		store.ToolPitch: {
			Type:         store.ToolPitch,
			DefaultTitle: "Pitch Deck",
			Empty:        json.RawMessage(`{}`),
			Upstream:     store.ToolCanvas,
			Seed:         seedPitchFromCanvas,
		},
	}
}

type canvasContent struct {
	CustomerSegments  string `json:"customerSegments"`
	ValuePropositions string `json:"valuePropositions"`
}

// seedPitchFromCanvas pre-fills a fresh pitch deck's market-size field from
// the canvas's customer segments.
func seedPitchFromCanvas(upstream json.RawMessage) json.RawMessage {
	var canvas canvasContent
	if err := json.Unmarshal(upstream, &canvas); err != nil || canvas.CustomerSegments == "" {
		return json.RawMessage(`{}`)
	}
	seeded, err := json.Marshal(map[string]string{"marketSize": canvas.CustomerSegments})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return seeded
}

// seedValuePropositionFromCanvas carries the canvas's customer segments and
// value propositions into a fresh value-proposition worksheet.
func seedValuePropositionFromCanvas(upstream json.RawMessage) json.RawMessage {
	var canvas canvasContent
	if err := json.Unmarshal(upstream, &canvas); err != nil {
		return json.RawMessage(`{}`)
	}
	fields := make(map[string]string)
	if canvas.CustomerSegments != "" {
		fields["customerProfile"] = canvas.CustomerSegments
	}
	if canvas.ValuePropositions != "" {
		fields["valueMap"] = canvas.ValuePropositions
	}
	if len(fields) == 0 {
		return json.RawMessage(`{}`)
	}
	seeded, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return seeded
}
