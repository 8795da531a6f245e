package iteration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"personaut/internal/agent"
	"personaut/internal/capture"
	"personaut/internal/errs"
	"personaut/internal/project"
	"personaut/internal/store"
)

// Scheduler runs the build loop for one project at a time. All state
// transitions happen under the mutex; the only long-running work is the
// agent call and the optional screenshot, both done off-lock.
type Scheduler struct {
	agent    agent.Agent
	store    *store.Store
	capturer capture.Capturer
	logger   *zap.Logger

	mu           sync.Mutex
	project      string
	cfg          Config
	flow         []string
	state        State
	lastFeedback *FeedbackReport
	prevFeedback string
	events       chan Event
	cancel       context.CancelFunc
	runCtx       context.Context
	autoTimer    *time.Timer
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCapturer attaches a screenshotter for "User Feedback" steps.
func WithCapturer(c capture.Capturer) SchedulerOption {
	return func(s *Scheduler) { s.capturer = c }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler builds a scheduler over an agent and a store.
func NewScheduler(a agent.Agent, st *store.Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		agent:  a,
		store:  st,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start activates the loop at (screen 0, team member 0, iteration 1) and
// returns the event channel. The channel closes when the loop finishes or
// is stopped.
func (s *Scheduler) Start(ctx context.Context, projectName string, cfg Config) (<-chan Event, error) {
	if len(cfg.Screens) == 0 {
		return nil, errs.New(errs.KindValidation, "start-iteration", "no screens to iterate over")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active {
		return nil, errs.New(errs.KindValidation, "start-iteration", "iteration loop already active")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.project = projectName
	s.cfg = cfg
	s.flow = cfg.TeamFlow()
	s.state = State{Active: true, Phase: PhaseIdle, Iteration: 1}
	s.lastFeedback = nil
	s.prevFeedback = ""
	s.events = make(chan Event, 32)
	s.runCtx = runCtx
	s.cancel = cancel

	s.dispatchLocked()
	return s.events, nil
}

// Stop cancels any in-flight step and deactivates the loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active {
		return
	}
	s.deactivateLocked(nil)
}

// State returns the current loop position.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextStep advances to the next team member. With autoRun enabled this
// happens automatically after the configured delay; otherwise the
// collaborator calls it once the completed step has been reviewed.
func (s *Scheduler) NextStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active || s.state.Phase != PhaseStepComplete {
		return errs.Newf(errs.KindValidation, "next-step", "no completed step to advance from (phase %s)", s.state.Phase)
	}
	s.stopAutoTimerLocked()
	s.state.TeamMemberIndex++
	s.dispatchLocked()
	return nil
}

// RetryStep re-dispatches the current step after a failed or signal-less
// reply. The triple does not change.
func (s *Scheduler) RetryStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active || s.state.Phase != PhaseRunningStep {
		return errs.Newf(errs.KindValidation, "retry-step", "no failed step to retry (phase %s)", s.state.Phase)
	}
	s.dispatchLocked()
	return nil
}

// ContinueIteration resolves an awaiting-approval state. Approval archives
// the feedback report and moves to the next screen; rejection reruns the
// same screen from the UX role with the feedback attached.
func (s *Scheduler) ContinueIteration(approved bool, feedbackOverride string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active || s.state.Phase != PhaseAwaitingApproval {
		return errs.Newf(errs.KindValidation, "continue-iteration", "not awaiting approval (phase %s)", s.state.Phase)
	}

	if approved {
		round := s.state.Round + 1
		if err := s.store.ArchiveFeedback(s.project, round, s.lastFeedback); err != nil {
			return err
		}
		s.state.Round = round
		s.state.ScreenIndex++
		s.state.TeamMemberIndex = 0
		s.state.Iteration = 1
		s.prevFeedback = ""
		s.lastFeedback = nil

		if s.state.ScreenIndex >= len(s.cfg.Screens) {
			s.deactivateLocked(&Event{
				Type:    EventLoopComplete,
				Summary: fmt.Sprintf("All %d screens approved over %d feedback rounds.", len(s.cfg.Screens), s.state.Round),
			})
			return nil
		}
		s.dispatchLocked()
		return nil
	}

	s.state.Iteration++
	s.state.TeamMemberIndex = 0
	s.prevFeedback = formatFeedbackBlock(s.lastFeedback, feedbackOverride)
	s.dispatchLocked()
	return nil
}

// dispatchLocked kicks off the step for the current triple. Caller holds
// the mutex.
func (s *Scheduler) dispatchLocked() {
	screen := s.cfg.Screens[s.state.ScreenIndex]
	role := s.flow[s.state.TeamMemberIndex]

	s.state.Phase = PhaseRunningStep
	if role == RoleUserFeedback {
		s.state.ScreenshotPending = true
		s.state.ScreenshotError = ""
		s.emitLocked(Event{Type: EventScreenshotPending, State: s.state, Role: role, Screen: screen.Name})
	}
	s.emitLocked(Event{Type: EventStepStarted, State: s.state, Role: role, Screen: screen.Name})
	s.persistStateLocked()

	prompt := stepPrompt(s.cfg, role, screen, s.state.Iteration, s.prevFeedback)
	go s.executeStep(s.runCtx, role, screen, prompt, s.state.Round+1)
}

// executeStep does the off-lock work for one step: the optional screenshot
// and the agent call, then hands the reply back to the state machine.
func (s *Scheduler) executeStep(ctx context.Context, role string, screen Screen, prompt string, round int) {
	if role == RoleUserFeedback {
		s.captureScreen(ctx, screen, round)
	}

	system := "You are part of a product team building an application screen by screen. Stay in the role you are given."
	reply, err := s.agent.CompleteWithSystem(ctx, system, prompt)
	s.handleReply(role, screen, reply, err)
}

// captureScreen attempts the pre-feedback screenshot. Failure is recorded
// for manual retry and never blocks the feedback step.
func (s *Scheduler) captureScreen(ctx context.Context, screen Screen, round int) {
	s.mu.Lock()
	capturer := s.capturer
	url := s.cfg.PreviewURL
	outPath := project.ScreenshotPath(s.store.Workspace(), s.project, round, screen.Name)
	s.mu.Unlock()

	if capturer == nil || url == "" {
		return
	}

	err := capturer.Capture(ctx, url, outPath)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state.ScreenshotError = err.Error()
		s.logger.Warn("screenshot failed, feedback proceeds without it",
			zap.String("project", s.project),
			zap.String("screen", screen.Name),
			zap.Error(err))
		return
	}
	s.state.ScreenshotPending = false
}

func (s *Scheduler) handleReply(role string, screen Screen, reply string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active || s.state.Phase != PhaseRunningStep {
		return // stopped or superseded while the call was in flight
	}

	if err != nil {
		s.stepFailedLocked(role, screen, errs.Wrap(errs.KindGeneration, "run-step", err))
		return
	}
	if !repliedComplete(reply) {
		s.stepFailedLocked(role, screen, errs.New(errs.KindGeneration, "run-step",
			"reply carries no completion signal"))
		return
	}

	s.appendLogLocked(store.LogAssistant, fmt.Sprintf("[%s / %s] %s", screen.Name, role, reply), nil)

	for _, artifact := range extractArtifacts(reply) {
		a := artifact
		s.emitLocked(Event{Type: EventArtifact, State: s.state, Role: role, Screen: screen.Name, Artifact: &a})
	}

	if role == RoleUserFeedback {
		report, perr := parseFeedback(reply)
		if perr != nil {
			s.stepFailedLocked(role, screen, perr)
			return
		}
		s.lastFeedback = report
		s.state.Phase = PhaseAwaitingApproval
		s.emitLocked(Event{Type: EventAwaitingApproval, State: s.state, Role: role, Screen: screen.Name, Feedback: report})
		s.persistStateLocked()
		return
	}

	s.state.Phase = PhaseStepComplete
	s.emitLocked(Event{Type: EventStepComplete, State: s.state, Role: role, Screen: screen.Name, Reply: reply})
	s.persistStateLocked()

	if s.cfg.AutoRun {
		// The delay only exists so a UI can render the finished step.
		s.autoTimer = time.AfterFunc(s.cfg.AutoRunDelay, func() {
			// A Stop or manual advance racing the timer makes this a no-op.
			_ = s.NextStep()
		})
	}
}

// stepFailedLocked reports a failed step. The phase stays RunningStep so
// RetryStep can re-dispatch the same triple.
func (s *Scheduler) stepFailedLocked(role string, screen Screen, err error) {
	s.appendLogLocked(store.LogError, err.Error(), map[string]any{
		"screen": screen.Name,
		"role":   role,
	})
	s.emitLocked(Event{Type: EventStepError, State: s.state, Role: role, Screen: screen.Name, Err: err.Error()})
}

// deactivateLocked winds the loop down. The state is deactivated first so
// a final event, when given, snapshots the finished loop; the channel
// closes last.
func (s *Scheduler) deactivateLocked(final *Event) {
	s.stopAutoTimerLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state.Active = false
	s.state.Phase = PhaseIdle
	s.persistStateLocked()
	if final != nil {
		final.State = s.state
		s.emitLocked(*final)
	}
	if s.events != nil {
		close(s.events)
		s.events = nil
	}
}

func (s *Scheduler) stopAutoTimerLocked() {
	if s.autoTimer != nil {
		s.autoTimer.Stop()
		s.autoTimer = nil
	}
}

// emitLocked sends an event without blocking the state machine; a stuck
// consumer loses events rather than wedging the loop.
func (s *Scheduler) emitLocked(ev Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("dropping iteration event", zap.String("type", string(ev.Type)))
	}
}

// persistStateLocked saves the loop position as a courtesy for inspection;
// the loop never reads it back.
func (s *Scheduler) persistStateLocked() {
	if err := s.store.SaveIterationState(s.project, s.state); err != nil {
		s.logger.Warn("failed to persist iteration state",
			zap.String("project", s.project), zap.Error(err))
	}
}

func (s *Scheduler) appendLogLocked(logType store.LogType, content string, metadata map[string]any) {
	entry := store.BuildLogEntry{
		Type:     logType,
		Stage:    project.StageBuilding,
		Content:  content,
		Metadata: metadata,
	}
	if err := s.store.AppendLog(s.project, entry); err != nil {
		s.logger.Warn("failed to append build log",
			zap.String("project", s.project), zap.Error(err))
	}
}
