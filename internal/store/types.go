// Package store persists project planning state: one stage file per
// (project, stage) under planning/, a per-project build state master that is
// the authoritative source for completion flags, and an append-only build
// log. It also performs the one-time migration from the legacy
// single-file-per-stage layout.
package store

import (
	"errors"
	"time"

	"personaut/internal/project"
)

// ErrNotFound is returned when a stage record or master file does not exist.
var ErrNotFound = errors.New("not found")

// StageRecord is the persisted artifact for one (project, stage) pair.
type StageRecord struct {
	ProjectName string        `json:"projectName"`
	Stage       project.Stage `json:"stage"`
	Completed   bool          `json:"completed"`
	Data        any           `json:"data"`
	Error       string        `json:"error,omitempty"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// MasterStage is one stage entry inside the build state master. Path is the
// project-relative stage-file reference; after migration it is always the
// planning/{stage}.json form.
type MasterStage struct {
	Completed bool   `json:"completed"`
	Path      string `json:"path,omitempty"`
}

// BuildStateMaster is the per-project aggregate of completion flags and the
// editable project title. The current stage is derived from it, never
// stored.
type BuildStateMaster struct {
	ProjectTitle string                          `json:"projectTitle"`
	Stages       map[project.Stage]*MasterStage `json:"stages"`
}

// Completion projects the master down to the completion map navigation
// runs on.
func (m *BuildStateMaster) Completion() project.Completion {
	c := project.Completion{}
	for stage, entry := range m.Stages {
		c[stage] = entry.Completed
	}
	return c
}

// LogType classifies build log entries.
type LogType string

const (
	LogUser      LogType = "user"
	LogAssistant LogType = "assistant"
	LogSystem    LogType = "system"
	LogError     LogType = "error"
)

// BuildLogEntry is one append-only log record. Entries are immutable once
// written.
type BuildLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      LogType        `json:"type"`
	Stage     project.Stage  `json:"stage,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
