package iteration

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"personaut/internal/project"
	"personaut/internal/store"
)

// scriptedAgent replays canned replies in order and records the prompts it
// was given.
type scriptedAgent struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (a *scriptedAgent) next(prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	i := len(a.prompts) - 1
	if i < len(a.errs) && a.errs[i] != nil {
		return "", a.errs[i]
	}
	if i < len(a.replies) {
		return a.replies[i], nil
	}
	return "", errors.New("script exhausted")
}

func (a *scriptedAgent) prompt(i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.prompts) {
		return ""
	}
	return a.prompts[i]
}

func (a *scriptedAgent) Complete(ctx context.Context, prompt string) (string, error) {
	return a.next(prompt)
}

func (a *scriptedAgent) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return a.next(user)
}

func (a *scriptedAgent) Stream(ctx context.Context, system, user string, onDelta func(string)) (string, error) {
	return a.next(user)
}

const (
	uxReply  = "Here is the layout.\n\n" + completionSignal
	devReply = "Building it.\n\nFILE: src/home.tsx\n```tsx\nexport const Home = () => null;\n```\n\n" + completionSignal
)

const feedbackReply = "Role-playing done.\n```json\n" + `{
  "ratings": [
    {"persona": "Ana", "rating": 8, "summary": "good"},
    {"persona": "Ben", "rating": 6, "summary": "fine"}
  ],
  "topIssues": ["contrast too low"],
  "recommendation": "ship it"
}` + "\n```\n" + completionSignal

func testConfig() Config {
	return Config{
		Roles:    []string{"UX", "Developer"},
		Personas: []Persona{{Name: "Ana"}, {Name: "Ben"}},
		Screens:  []Screen{{Name: "Home", Description: "landing screen"}},
		Idea:     "a coffee finder",
	}
}

func newTestScheduler(t *testing.T, a *scriptedAgent, opts ...SchedulerOption) (*Scheduler, *store.Store, string) {
	t.Helper()
	st := store.New(t.TempDir())
	name, err := st.InitializeProject("Iteration Test")
	if err != nil {
		t.Fatal(err)
	}
	return NewScheduler(a, st, opts...), st, name
}

// waitFor reads events until one of the wanted type arrives.
func waitFor(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
			if ev.Type == EventStepError && want != EventStepError {
				t.Fatalf("step error while waiting for %s: %s", want, ev.Err)
			}
		case <-deadline:
			t.Fatalf("no %s event within 3s", want)
		}
	}
}

func TestFullScreenCycle(t *testing.T) {
	a := &scriptedAgent{replies: []string{uxReply, devReply, feedbackReply}}
	s, st, name := newTestScheduler(t, a)

	events, err := s.Start(context.Background(), name, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	// UX step.
	ev := waitFor(t, events, EventStepComplete)
	if ev.Role != "UX" || ev.State.Phase != PhaseStepComplete {
		t.Errorf("first completion = %+v", ev)
	}
	if !strings.Contains(a.prompt(0), "coffee finder") {
		t.Error("UX prompt missing product idea")
	}
	if !strings.Contains(a.prompt(0), completionSignal) {
		t.Error("UX prompt missing completion-signal instruction")
	}

	// Developer step emits the file artifact.
	if err := s.NextStep(); err != nil {
		t.Fatal(err)
	}
	art := waitFor(t, events, EventArtifact)
	if art.Artifact == nil || art.Artifact.Path != "src/home.tsx" {
		t.Errorf("artifact = %+v", art.Artifact)
	}
	waitFor(t, events, EventStepComplete)

	// Feedback step: screenshot flagged, then approval requested.
	if err := s.NextStep(); err != nil {
		t.Fatal(err)
	}
	shot := waitFor(t, events, EventScreenshotPending)
	if !shot.State.ScreenshotPending {
		t.Error("screenshot-pending flag not set")
	}
	approval := waitFor(t, events, EventAwaitingApproval)
	if approval.Feedback == nil {
		t.Fatal("no feedback report on approval event")
	}
	if approval.Feedback.AverageRating != 7 {
		t.Errorf("averageRating = %v, want recomputed 7", approval.Feedback.AverageRating)
	}
	if !strings.Contains(a.prompt(2), "Ana") || !strings.Contains(a.prompt(2), "Ben") {
		t.Error("feedback prompt missing persona roster")
	}

	// Approving the only screen finishes the loop and archives feedback.
	if err := s.ContinueIteration(true, ""); err != nil {
		t.Fatal(err)
	}
	done := waitFor(t, events, EventLoopComplete)
	if done.State.Active {
		t.Error("loop still active after completion")
	}
	if done.State.Phase != PhaseIdle {
		t.Errorf("phase in final event = %s, want idle", done.State.Phase)
	}
	if done.Summary == "" {
		t.Error("final event carries no summary")
	}
	if _, ok := <-events; ok {
		t.Error("channel not closed after loop completion")
	}

	if _, err := os.Stat(project.FeedbackPath(st.Workspace(), name, 1)); err != nil {
		t.Errorf("feedback report not archived: %v", err)
	}

	// The assistant replies landed in the build log.
	log, err := st.ReadLog(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 3 {
		t.Errorf("build log entries = %d, want 3", len(log))
	}
}

func TestRejectionRerunsSameScreenWithFeedback(t *testing.T) {
	a := &scriptedAgent{replies: []string{uxReply, devReply, feedbackReply, uxReply}}
	s, _, name := newTestScheduler(t, a)

	cfg := testConfig()
	events, err := s.Start(context.Background(), name, cfg)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, events, EventStepComplete)
	if err := s.NextStep(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, EventStepComplete)
	if err := s.NextStep(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, EventAwaitingApproval)

	if err := s.ContinueIteration(false, "make the search box bigger"); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, events, EventStepComplete)

	// Same screen, next iteration, back at the UX role.
	if ev.Role != "UX" || ev.Screen != "Home" {
		t.Errorf("rerun step = %s / %s", ev.Role, ev.Screen)
	}
	if ev.State.ScreenIndex != 0 || ev.State.Iteration != 2 {
		t.Errorf("state after rejection = %+v", ev.State)
	}

	rerunPrompt := a.prompt(3)
	if !strings.Contains(rerunPrompt, "contrast too low") {
		t.Error("rerun prompt missing consolidated feedback")
	}
	if !strings.Contains(rerunPrompt, "make the search box bigger") {
		t.Error("rerun prompt missing override notes")
	}
	if !strings.Contains(rerunPrompt, "Ana rated it 8/10") {
		t.Error("rerun prompt missing individual ratings")
	}
}

func TestSignallessReplyNeverAdvances(t *testing.T) {
	a := &scriptedAgent{replies: []string{"looks great, all done!", uxReply}}
	s, _, name := newTestScheduler(t, a)

	events, err := s.Start(context.Background(), name, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, events, EventStepError)
	if !strings.Contains(ev.Err, "completion signal") {
		t.Errorf("error = %q", ev.Err)
	}
	if got := s.State().Phase; got != PhaseRunningStep {
		t.Errorf("phase after signal-less reply = %s", got)
	}
	if err := s.NextStep(); err == nil {
		t.Error("advance allowed without a completed step")
	}

	// The same triple can be retried.
	if err := s.RetryStep(); err != nil {
		t.Fatal(err)
	}
	ev = waitFor(t, events, EventStepComplete)
	if ev.State.TeamMemberIndex != 0 {
		t.Errorf("retry moved the triple: %+v", ev.State)
	}
}

func TestAutoRunAdvancesAfterDelay(t *testing.T) {
	a := &scriptedAgent{replies: []string{uxReply, devReply, feedbackReply}}
	s, _, name := newTestScheduler(t, a)

	cfg := testConfig()
	cfg.AutoRun = true
	cfg.AutoRunDelay = 10 * time.Millisecond
	events, err := s.Start(context.Background(), name, cfg)
	if err != nil {
		t.Fatal(err)
	}

	// No NextStep calls: the loop should reach approval on its own.
	ev := waitFor(t, events, EventAwaitingApproval)
	if ev.State.TeamMemberIndex != 2 {
		t.Errorf("state = %+v", ev.State)
	}
	// Approval is still a human gate; auto-run must stop here.
	time.Sleep(50 * time.Millisecond)
	if got := s.State().Phase; got != PhaseAwaitingApproval {
		t.Errorf("auto-run crossed the approval gate: %s", got)
	}
	s.Stop()
}

type failingCapturer struct{}

func (failingCapturer) Capture(ctx context.Context, url, outPath string) error {
	return errors.New("browser exploded")
}

func TestScreenshotFailureIsNonFatal(t *testing.T) {
	a := &scriptedAgent{replies: []string{uxReply, devReply, feedbackReply}}
	s, _, name := newTestScheduler(t, a, WithCapturer(failingCapturer{}))

	cfg := testConfig()
	cfg.PreviewURL = "http://localhost:3000"
	events, err := s.Start(context.Background(), name, cfg)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, events, EventStepComplete)
	if err := s.NextStep(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, EventStepComplete)
	if err := s.NextStep(); err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, events, EventAwaitingApproval)
	if ev.Feedback == nil {
		t.Fatal("feedback did not proceed past the failed screenshot")
	}
	if ev.State.ScreenshotError == "" || !ev.State.ScreenshotPending {
		t.Errorf("screenshot failure not surfaced for retry: %+v", ev.State)
	}
}

func TestStartValidation(t *testing.T) {
	a := &scriptedAgent{replies: []string{uxReply}}
	s, _, name := newTestScheduler(t, a)

	if _, err := s.Start(context.Background(), name, Config{}); err == nil {
		t.Error("no-screen config accepted")
	}
	if _, err := s.Start(context.Background(), name, testConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(context.Background(), name, testConfig()); err == nil {
		t.Error("second concurrent start accepted")
	}
	s.Stop()
}
