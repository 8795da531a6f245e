// Package project defines project identity (title -> filesystem slug), the
// fixed planning-stage sequence, the on-disk path layout, and the pure
// navigation rules derived from stage completion.
package project

// Stage is one step of the fixed product-definition sequence.
type Stage string

const (
	StageIdea     Stage = "idea"
	StageUsers    Stage = "users"
	StageFeatures Stage = "features"
	StageTeam     Stage = "team"
	StageStories  Stage = "stories"
	StageDesign   Stage = "design"

	// StageBuilding is the logical seventh stage driven by the iteration
	// loop. It has no stage file and never appears in StageOrder.
	StageBuilding Stage = "building"
)

// StageOrder is the fixed sequence of file-backed planning stages.
// Reachability and current-stage derivation walk this slice; never reorder.
var StageOrder = []Stage{
	StageIdea,
	StageUsers,
	StageFeatures,
	StageTeam,
	StageStories,
	StageDesign,
}

// Completion maps each planning stage to its completed flag. Missing
// entries read as false.
type Completion map[Stage]bool

// StageIndex returns the position of s in StageOrder, or -1 when s is not a
// file-backed planning stage.
func StageIndex(s Stage) int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// ValidStage reports whether s is a file-backed planning stage.
func ValidStage(s Stage) bool {
	return StageIndex(s) >= 0
}

// DeriveCurrentStage returns the first stage whose completion flag is
// false, or the last stage when every flag is true. The current stage is
// always derived, never stored; callers re-derive on every load and every
// completion-flag change.
func DeriveCurrentStage(c Completion) Stage {
	for _, s := range StageOrder {
		if !c[s] {
			return s
		}
	}
	return StageOrder[len(StageOrder)-1]
}

// CanNavigateTo reports whether target is reachable under the completion
// map: the first stage always is, and stage k>0 is reachable iff stage k-1
// is completed.
func CanNavigateTo(c Completion, target Stage) bool {
	idx := StageIndex(target)
	if idx < 0 {
		return false
	}
	if idx == 0 {
		return true
	}
	return c[StageOrder[idx-1]]
}

// UpdateType is the streaming item kind produced while generating content
// for a stage.
type UpdateType string

const (
	UpdatePersona UpdateType = "persona"
	UpdateFeature UpdateType = "feature"
	UpdateStory   UpdateType = "story"
	UpdateFlow    UpdateType = "flow"
	UpdateScreen  UpdateType = "screen"
)

// UpdateTypeFor returns the item kind a stage's generation session emits.
// The team stage generates no streamed items and returns "".
func UpdateTypeFor(s Stage) UpdateType {
	switch s {
	case StageUsers:
		return UpdatePersona
	case StageFeatures:
		return UpdateFeature
	case StageStories:
		return UpdateStory
	case StageDesign:
		return UpdateScreen
	default:
		return ""
	}
}
