// Package bridge is the message boundary between the engine and whatever
// UI hosts it. Collaborators send typed requests and receive notifications;
// the engine's internals never leak past this package. A thin websocket
// server carries the same envelopes for out-of-process UIs.
package bridge

import (
	"encoding/json"

	"personaut/internal/iteration"
	"personaut/internal/project"
	"personaut/internal/store"
)

// Request type names are the contract with collaborators.
const (
	ReqGenerateContent   = "generate-content"
	ReqSaveStage         = "save-stage"
	ReqLoadStage         = "load-stage"
	ReqCheckProjectFiles = "check-project-files"
	ReqRetryGeneration   = "retry-generation"
	ReqInitializeProject = "initialize-project"
	ReqAppendLog         = "append-log"
	ReqLoadLog           = "load-log"
	ReqListProjects      = "list-projects"
	ReqAbortGeneration   = "abort-generation"
	ReqStartIteration    = "start-iteration"
	ReqNextStep          = "next-step"
	ReqRetryStep         = "retry-step"
	ReqContinueIteration = "continue-iteration"
	ReqStopIteration     = "stop-iteration"
)

// Notification type names.
const (
	NoteStreamUpdate     = "stream-update"
	NoteStageSaved       = "stage-saved"
	NoteStageError       = "stage-error"
	NoteStageLoaded      = "stage-loaded"
	NoteStageNotFound    = "stage-not-found"
	NoteBuildStateLoaded = "build-state-loaded"
	NoteBuildLogLoaded   = "build-log-loaded"
	NoteBuildLogAppended = "build-log-appended"
	NoteBuildLogError    = "build-log-error"
	NoteRetryReady       = "retry-ready"
	NoteProjectCreated   = "project-created"
	NoteProjectList      = "project-list"
	NoteIterationUpdate  = "iteration-update"
	NoteError            = "error"
)

// Request is the inbound envelope. Fields beyond Type are populated per
// request type; unknown fields are ignored.
type Request struct {
	Type    string        `json:"type"`
	Project string        `json:"project,omitempty"`
	Stage   project.Stage `json:"stage,omitempty"`

	// initialize-project
	Title string `json:"title,omitempty"`

	// generate-content
	Prompt       string `json:"prompt,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// save-stage
	Data      json.RawMessage `json:"data,omitempty"`
	Completed bool            `json:"completed,omitempty"`
	AutoSave  bool            `json:"autoSave,omitempty"`

	// append-log
	Entry *store.BuildLogEntry `json:"entry,omitempty"`

	// start-iteration
	Iteration *iteration.Config `json:"iteration,omitempty"`

	// continue-iteration
	Approved bool   `json:"approved,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// Notification is the outbound envelope.
type Notification struct {
	Type    string        `json:"type"`
	Project string        `json:"project,omitempty"`
	Stage   project.Stage `json:"stage,omitempty"`

	// stream-update
	UpdateType project.UpdateType `json:"updateType,omitempty"`
	Data       any                `json:"data,omitempty"`
	Index      int                `json:"index,omitempty"`
	Complete   bool               `json:"complete,omitempty"`

	// build-state-loaded
	Title        string             `json:"title,omitempty"`
	Completion   project.Completion `json:"completion,omitempty"`
	CurrentStage project.Stage      `json:"currentStage,omitempty"`

	// stage-loaded
	Record *store.StageRecord `json:"record,omitempty"`

	// build-log-loaded
	Log []store.BuildLogEntry `json:"log,omitempty"`

	// retry-ready
	PartialContent   any `json:"partialContent,omitempty"`
	PartialItemCount int `json:"partialItemCount,omitempty"`

	// project-list
	Projects []string `json:"projects,omitempty"`

	// iteration-update
	Iteration *iteration.Event `json:"iteration,omitempty"`

	Err string `json:"error,omitempty"`
}
