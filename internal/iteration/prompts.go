package iteration

import (
	"fmt"
	"strings"
)

// completionSignal is the fixed marker every role prompt asks the agent to
// emit when it has finished. Detection of this marker is the only thing
// that advances the state machine; free-form text never does.
const completionSignal = "=== STEP COMPLETE ==="

// repliedComplete is the single predicate deciding whether a reply carries
// the completion signal. All transition logic goes through here so the
// detection strategy can be hardened in one place.
func repliedComplete(reply string) bool {
	return strings.Contains(reply, completionSignal)
}

const signalInstruction = "\n\nWhen your response is finished, end it with the exact line:\n" + completionSignal

// filePrefix introduces a file-creation instruction inside a reply. The
// developer prompt teaches the format; extractArtifacts parses it.
const filePrefix = "FILE:"

func uxPrompt(cfg Config, screen Screen, iteration int, previousFeedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the UX designer. Design iteration %d of the screen %q.\n\n", iteration, screen.Name)
	if screen.Description != "" {
		fmt.Fprintf(&b, "Screen purpose: %s\n\n", screen.Description)
	}
	if cfg.Idea != "" {
		fmt.Fprintf(&b, "Product idea:\n%s\n\n", cfg.Idea)
	}
	if cfg.Users != "" {
		fmt.Fprintf(&b, "Target users:\n%s\n\n", cfg.Users)
	}
	if cfg.Features != "" {
		fmt.Fprintf(&b, "Feature list:\n%s\n\n", cfg.Features)
	}
	if previousFeedback != "" {
		fmt.Fprintf(&b, "The previous round was not approved. Address this feedback:\n%s\n\n", previousFeedback)
	}
	b.WriteString("Describe the layout, interactions, and visual hierarchy for this screen.")
	b.WriteString(signalInstruction)
	return b.String()
}

func developerPrompt(cfg Config, screen Screen) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the developer. Implement the screen %q", screen.Name)
	if cfg.Framework != "" {
		fmt.Fprintf(&b, " using %s", cfg.Framework)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "For every file you create, emit a line %q followed by a fenced code block with the file's full content, like:\n\n", filePrefix+" path/to/file")
	b.WriteString(filePrefix + " src/example.txt\n```\nfile content here\n```\n")
	b.WriteString(signalInstruction)
	return b.String()
}

func feedbackPrompt(cfg Config, screen Screen) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role-play each of the following personas using the screen %q. For each persona give a 1-10 rating and a short summary of their experience.\n\nPersonas:\n", screen.Name)
	for _, p := range cfg.ActivePersonas() {
		fmt.Fprintf(&b, "- %s", p.Name)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteString(`
After the role-play, emit a machine-readable summary as a fenced JSON block:

` + "```json" + `
{
  "ratings": [{"persona": "...", "rating": 7, "summary": "..."}],
  "averageRating": 7.0,
  "topIssues": ["..."],
  "quickWins": ["..."],
  "recommendation": "..."
}
` + "```")
	b.WriteString(signalInstruction)
	return b.String()
}

func genericPrompt(role string, screen Screen) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s. Review the current state of the screen %q from your role's perspective and give concrete, actionable notes.", role, screen.Name)
	b.WriteString(signalInstruction)
	return b.String()
}

// stepPrompt builds the prompt for one (screen, role, iteration) triple.
func stepPrompt(cfg Config, role string, screen Screen, iteration int, previousFeedback string) string {
	switch {
	case role == RoleUserFeedback:
		return feedbackPrompt(cfg, screen)
	case strings.EqualFold(role, "ux") || strings.EqualFold(role, "ux designer"):
		return uxPrompt(cfg, screen, iteration, previousFeedback)
	case strings.EqualFold(role, "developer"):
		return developerPrompt(cfg, screen)
	default:
		return genericPrompt(role, screen)
	}
}

// formatFeedbackBlock renders a rejected round's feedback for the next UX
// prompt.
func formatFeedbackBlock(report *FeedbackReport, override string) string {
	if report == nil && override == "" {
		return ""
	}
	var b strings.Builder
	if report != nil {
		fmt.Fprintf(&b, "Average rating: %.1f/10\n", report.AverageRating)
		for _, r := range report.Ratings {
			fmt.Fprintf(&b, "- %s rated it %.0f/10: %s\n", r.Persona, r.Rating, r.Summary)
		}
		if report.Consolidated != "" {
			b.WriteString(report.Consolidated)
			b.WriteByte('\n')
		}
	}
	if override != "" {
		fmt.Fprintf(&b, "Additional notes: %s\n", override)
	}
	return b.String()
}
