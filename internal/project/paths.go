package project

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RootDirName is the dot-directory every project lives under. The layout
// below is a compatibility surface; downstream tooling depends on these
// exact paths.
//
//	.personaut/{project}/planning/{stage}.json
//	.personaut/{project}/iterations/{n}/feedback.json
//	.personaut/{project}/iterations/{n}/{page}.png
const RootDirName = ".personaut"

// Root returns the personaut root under workspace.
func Root(workspace string) string {
	return filepath.Join(workspace, RootDirName)
}

// Dir returns the directory of one project.
func Dir(workspace, name string) string {
	return filepath.Join(Root(workspace), name)
}

// PlanningDir returns the directory holding stage files.
func PlanningDir(workspace, name string) string {
	return filepath.Join(Dir(workspace, name), "planning")
}

// StagePath returns the stage file for one (project, stage) pair.
func StagePath(workspace, name string, s Stage) string {
	return filepath.Join(PlanningDir(workspace, name), string(s)+".json")
}

// StageRef is the stage-path reference stored inside the build state
// master: always the new planning-relative form.
func StageRef(s Stage) string {
	return "planning/" + string(s) + ".json"
}

// MasterPath returns the per-project build state master file.
func MasterPath(workspace, name string) string {
	return filepath.Join(Dir(workspace, name), "build-state.json")
}

// LogPath returns the per-project append-only build log.
func LogPath(workspace, name string) string {
	return filepath.Join(Dir(workspace, name), "build-log.jsonl")
}

// IterationsDir returns the directory holding iteration artifacts.
func IterationsDir(workspace, name string) string {
	return filepath.Join(Dir(workspace, name), "iterations")
}

// IterationDir returns the directory for iteration n.
func IterationDir(workspace, name string, n int) string {
	return filepath.Join(IterationsDir(workspace, name), fmt.Sprintf("%d", n))
}

// FeedbackPath returns the archived feedback report for iteration n.
func FeedbackPath(workspace, name string, n int) string {
	return filepath.Join(IterationDir(workspace, name, n), "feedback.json")
}

// ScreenshotPath returns the screenshot file for a page within iteration n.
// The page name is sanitized the same way project titles are.
func ScreenshotPath(workspace, name string, n int, page string) string {
	safe := Sanitize(page)
	if safe == "" {
		safe = "screen"
	}
	return filepath.Join(IterationDir(workspace, name, n), safe+".png")
}

// IterationStatePath returns the courtesy persistence file for the
// iteration loop.
func IterationStatePath(workspace, name string) string {
	return filepath.Join(Dir(workspace, name), "iteration-state.json")
}

// Legacy layout, migration source only. Before the planning/ directory
// existed, the idea stage lived in {project}.json and every other stage in
// {stage}.stage.json at the project root.

// LegacyStagePath returns the pre-migration location of a stage file.
func LegacyStagePath(workspace, name string, s Stage) string {
	if s == StageIdea {
		return filepath.Join(Dir(workspace, name), name+".json")
	}
	return filepath.Join(Dir(workspace, name), string(s)+".stage.json")
}

// IsLegacyStageRef reports whether a stored stage-path reference still
// points at the pre-migration layout.
func IsLegacyStageRef(ref string) bool {
	if strings.HasSuffix(ref, ".stage.json") {
		return true
	}
	return strings.HasSuffix(ref, ".json") && !strings.Contains(ref, "planning/")
}
