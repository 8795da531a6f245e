package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"personaut/internal/project"
)

// SystemPrompt returns the system message for a stage's generation run. All
// stages share the output contract: a JSON array of objects, each with a
// stable "id", streamed so that every object is self-contained.
func SystemPrompt(stage project.Stage) string {
	var role string
	switch stage {
	case project.StageIdea:
		role = "You are a product strategist refining a raw product idea into a clear title and description."
	case project.StageUsers:
		role = "You are a user researcher defining the personas who will use this product."
	case project.StageFeatures:
		role = "You are a product manager deriving the feature set from the product idea and its personas."
	case project.StageTeam:
		role = "You are a staffing planner proposing the team roles needed to build this product."
	case project.StageStories:
		role = "You are a product owner writing user stories that connect personas to features."
	case project.StageDesign:
		role = "You are a UX designer defining the screens and user flows for this product."
	default:
		role = "You are a product planning assistant."
	}
	return role + "\n\n" + outputContract
}

const outputContract = `Respond with a JSON array of objects and nothing else.
Every object must include a short stable "id" string. Emit each object
completely before starting the next so partial output is still usable.`

// resumeSuffix tells the model which items already exist so a resumed run
// continues the list instead of regenerating it.
func resumeSuffix(partial []Item) string {
	if len(partial) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\nA previous attempt produced %d item(s) before failing. They are kept; do not repeat them. Existing items:\n", len(partial))
	for _, it := range partial {
		line, err := json.Marshal(it)
		if err != nil {
			continue
		}
		b.WriteString("- ")
		b.Write(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nContinue the array from where it stopped, emitting only new items.")
	return b.String()
}
