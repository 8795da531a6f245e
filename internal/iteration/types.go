// Package iteration drives the post-design build loop: for each screen it
// cycles the team flow (configured roles with "User Feedback" always last),
// dispatches one agent prompt per step, interprets the reply, and gates
// screen advancement on feedback approval.
package iteration

import (
	"time"
)

// Phase is the scheduler's position in its step lifecycle.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRunningStep      Phase = "running-step"
	PhaseStepComplete     Phase = "step-complete"
	PhaseAwaitingApproval Phase = "awaiting-approval"
)

// RoleUserFeedback is the synthetic role appended to every team flow. It is
// always last and never reordered.
const RoleUserFeedback = "User Feedback"

// Persona is one simulated user; Name and Description come from the users
// stage.
type Persona struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Screen is one design-stage screen the loop iterates over.
type Screen struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Config describes one build loop.
type Config struct {
	// Roles are the configured team roles in order. "User Feedback" must
	// not be included; the scheduler appends it.
	Roles []string

	Personas []Persona
	// SelectedPersonas optionally narrows the roster; project personas win
	// when both are set.
	SelectedPersonas []Persona

	Screens   []Screen
	Framework string

	// Context carried into role prompts.
	Idea     string
	Users    string
	Features string

	// PreviewURL is screenshotted before each "User Feedback" step.
	PreviewURL string

	AutoRun      bool
	AutoRunDelay time.Duration
}

// TeamFlow returns the ordered roles for this config with "User Feedback"
// appended.
func (c Config) TeamFlow() []string {
	flow := make([]string, 0, len(c.Roles)+1)
	for _, role := range c.Roles {
		if role == RoleUserFeedback {
			continue
		}
		flow = append(flow, role)
	}
	return append(flow, RoleUserFeedback)
}

// ActivePersonas resolves the persona set for feedback steps.
func (c Config) ActivePersonas() []Persona {
	if len(c.Personas) > 0 {
		return c.Personas
	}
	return c.SelectedPersonas
}

// State is the scheduler's externally visible position.
type State struct {
	Active            bool   `json:"active"`
	Phase             Phase  `json:"phase"`
	ScreenIndex       int    `json:"screenIndex"`
	TeamMemberIndex   int    `json:"teamMemberIndex"`
	Iteration         int    `json:"iteration"`
	Round             int    `json:"round"` // archives completed, names the next feedback dir
	ScreenshotPending bool   `json:"screenshotPending"`
	ScreenshotError   string `json:"screenshotError,omitempty"`
}

// Rating is one persona's verdict on the current screen.
type Rating struct {
	Persona string  `json:"persona"`
	Rating  float64 `json:"rating"`
	Summary string  `json:"summary,omitempty"`
}

// FeedbackReport is the parsed outcome of a "User Feedback" step.
type FeedbackReport struct {
	Ratings        []Rating `json:"ratings"`
	AverageRating  float64  `json:"averageRating"`
	TopIssues      []string `json:"topIssues,omitempty"`
	QuickWins      []string `json:"quickWins,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	// Consolidated is the synthesized human-readable summary fed back to
	// the UX role on rejected rounds.
	Consolidated string `json:"consolidated,omitempty"`
}

// Artifact is a file-creation instruction extracted from a reply. The
// scheduler records artifacts; writing them to disk is the collaborator's
// job.
type Artifact struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EventType names the scheduler's outbound notifications.
type EventType string

const (
	EventStepStarted       EventType = "step-started"
	EventStepComplete      EventType = "step-complete"
	EventAwaitingApproval  EventType = "awaiting-approval"
	EventScreenshotPending EventType = "screenshot-pending"
	EventArtifact          EventType = "artifact"
	EventStepError         EventType = "step-error"
	EventLoopComplete      EventType = "loop-complete"
)

// Event is one outbound notification from the scheduler.
type Event struct {
	Type     EventType       `json:"type"`
	State    State           `json:"state"`
	Role     string          `json:"role,omitempty"`
	Screen   string          `json:"screen,omitempty"`
	Reply    string          `json:"reply,omitempty"`
	Artifact *Artifact       `json:"artifact,omitempty"`
	Feedback *FeedbackReport `json:"feedback,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Err      string          `json:"error,omitempty"`
}
