// Package generation runs streaming content-generation sessions: it sends a
// stage prompt to the agent, decodes the incrementally arriving text into
// typed items, and reports per-item updates plus one terminal outcome. On
// failure the items decoded so far are persisted so the caller can resume
// instead of regenerating from scratch.
package generation

import (
	"personaut/internal/project"
)

// Item is one decoded unit (persona, feature, story, flow, screen). Items
// are loosely typed maps; the stage determines their semantic shape. Every
// item carries a stable "id".
type Item map[string]any

// ID returns the item's stable identifier.
func (it Item) ID() string {
	id, _ := it["id"].(string)
	return id
}

// Update is one event from a generation session. Non-terminal updates carry
// a decoded item and its index; the terminal update has Complete=true and,
// on failure, a non-empty Err.
type Update struct {
	Stage      project.Stage      `json:"stage"`
	UpdateType project.UpdateType `json:"updateType"`
	Data       Item               `json:"data,omitempty"`
	Index      int                `json:"index"`
	Complete   bool               `json:"complete"`
	Err        string             `json:"error,omitempty"`
}

// itemUpdateType picks the update type for one item. The design stage emits
// both screens and flows; an explicit "type" field on the item wins over
// the stage default.
func itemUpdateType(stage project.Stage, it Item) project.UpdateType {
	if raw, ok := it["type"].(string); ok {
		switch project.UpdateType(raw) {
		case project.UpdatePersona, project.UpdateFeature, project.UpdateStory,
			project.UpdateFlow, project.UpdateScreen:
			return project.UpdateType(raw)
		}
	}
	return project.UpdateTypeFor(stage)
}
