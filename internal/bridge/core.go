package bridge

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"personaut/internal/agent"
	"personaut/internal/config"
	"personaut/internal/errs"
	"personaut/internal/generation"
	"personaut/internal/iteration"
	"personaut/internal/project"
	"personaut/internal/store"
)

// Core dispatches collaborator requests to the engine services and pushes
// notifications back through the notify callback. One Core serves one
// collaborator session.
type Core struct {
	store   *store.Store
	cfg     config.Config
	gen     *generation.Session
	sched   *iteration.Scheduler
	session *Session
	logger  *zap.Logger
	notify  func(Notification)
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) CoreOption {
	return func(c *Core) { c.logger = l }
}

// WithScheduler overrides the iteration scheduler.
func WithScheduler(s *iteration.Scheduler) CoreOption {
	return func(c *Core) { c.sched = s }
}

// WithConfig supplies the loaded user config; its stall ceiling governs
// generation sessions and its auto-run delay is the default for iteration
// loops that do not set one.
func WithConfig(cfg config.Config) CoreOption {
	return func(c *Core) { c.cfg = cfg }
}

// NewCore wires the engine services behind the message boundary. notify
// must be safe for concurrent use; streaming handlers call it from their
// own goroutines.
func NewCore(st *store.Store, a agent.Agent, notify func(Notification), opts ...CoreOption) *Core {
	c := &Core{
		store:   st,
		cfg:     config.DefaultConfig(),
		session: NewSession(),
		logger:  zap.NewNop(),
		notify:  notify,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.gen = generation.NewSession(a, st,
		generation.WithLogger(c.logger),
		generation.WithStallCeiling(c.cfg.StallCeiling()))
	if c.sched == nil {
		c.sched = iteration.NewScheduler(a, st, iteration.WithLogger(c.logger))
	}
	return c
}

// Session returns this core's collaborator session.
func (c *Core) Session() *Session { return c.session }

// Handle dispatches one request. Errors surface as notifications, not
// return values; the collaborator protocol is fire-and-notify.
func (c *Core) Handle(ctx context.Context, req Request) {
	if req.Project != "" {
		c.session.BindProject(req.Project)
	}

	switch req.Type {
	case ReqInitializeProject:
		c.initializeProject(req)
	case ReqSaveStage:
		c.saveStage(req)
	case ReqLoadStage:
		c.loadStage(req)
	case ReqCheckProjectFiles:
		c.checkProjectFiles(req)
	case ReqGenerateContent:
		c.generate(ctx, req, nil)
	case ReqRetryGeneration:
		c.retryGeneration(ctx, req)
	case ReqAbortGeneration:
		c.gen.Abort()
	case ReqAppendLog:
		c.appendLog(req)
	case ReqLoadLog:
		c.loadLog(req)
	case ReqListProjects:
		c.listProjects()
	case ReqStartIteration:
		c.startIteration(ctx, req)
	case ReqNextStep:
		c.iterationCall(req, c.sched.NextStep())
	case ReqRetryStep:
		c.iterationCall(req, c.sched.RetryStep())
	case ReqContinueIteration:
		c.iterationCall(req, c.sched.ContinueIteration(req.Approved, req.Feedback))
	case ReqStopIteration:
		c.sched.Stop()
	default:
		c.notify(Notification{Type: NoteError, Err: "unknown request type " + req.Type})
	}
}

func (c *Core) initializeProject(req Request) {
	name, err := c.store.InitializeProject(req.Title)
	if err != nil {
		c.notify(Notification{Type: NoteError, Err: err.Error()})
		return
	}
	c.session.BindProject(name)
	c.notify(Notification{Type: NoteProjectCreated, Project: name, Title: req.Title})
}

func (c *Core) saveStage(req Request) {
	var data any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			c.notify(Notification{Type: NoteStageError, Project: req.Project, Stage: req.Stage, Err: err.Error()})
			return
		}
	}

	if req.AutoSave {
		c.store.AutoSave(req.Project, req.Stage, data, req.Completed)
		return
	}

	// An explicit save always wins over a pending debounced one.
	c.store.FlushAutoSave(req.Project, req.Stage)
	if err := c.store.WriteStage(req.Project, req.Stage, data, req.Completed, store.WriteOptions{
		ProjectTitle: req.Title,
	}); err != nil {
		c.notify(Notification{Type: NoteStageError, Project: req.Project, Stage: req.Stage, Err: err.Error()})
		return
	}
	c.notify(Notification{Type: NoteStageSaved, Project: req.Project, Stage: req.Stage, Complete: req.Completed})
}

func (c *Core) loadStage(req Request) {
	rec, err := c.store.ReadStage(req.Project, req.Stage)
	if err == store.ErrNotFound {
		c.notify(Notification{Type: NoteStageNotFound, Project: req.Project, Stage: req.Stage})
		return
	}
	if err != nil {
		c.notify(Notification{Type: NoteStageError, Project: req.Project, Stage: req.Stage, Err: err.Error()})
		return
	}
	c.notify(Notification{Type: NoteStageLoaded, Project: req.Project, Stage: req.Stage, Record: rec})
}

func (c *Core) checkProjectFiles(req Request) {
	completion, err := c.store.CheckProjectFiles(req.Project)
	if err != nil {
		c.notify(Notification{Type: NoteError, Project: req.Project, Err: err.Error()})
		return
	}
	var title string
	if master, err := c.store.ReadMaster(req.Project); err == nil {
		title = master.ProjectTitle
	}
	// The current stage is always derived fresh from the completion map.
	c.notify(Notification{
		Type:         NoteBuildStateLoaded,
		Project:      req.Project,
		Title:        title,
		Completion:   completion,
		CurrentStage: project.DeriveCurrentStage(completion),
	})
}

func (c *Core) generate(ctx context.Context, req Request, partial []generation.Item) {
	system := req.SystemPrompt
	if system == "" {
		system = generation.SystemPrompt(req.Stage)
	}
	updates, err := c.gen.Start(ctx, generation.Request{
		Project: req.Project,
		Stage:   req.Stage,
		System:  system,
		Prompt:  req.Prompt,
		Partial: partial,
	})
	if err != nil {
		c.notify(Notification{Type: NoteError, Project: req.Project, Stage: req.Stage, Err: err.Error()})
		return
	}

	go func() {
		for u := range updates {
			c.notify(Notification{
				Type:       NoteStreamUpdate,
				Project:    req.Project,
				Stage:      u.Stage,
				UpdateType: u.UpdateType,
				Data:       u.Data,
				Index:      u.Index,
				Complete:   u.Complete,
				Err:        u.Err,
			})
		}
	}()
}

// retryGeneration reloads the saved partial content, announces it, and
// starts a continuation run. A still-running generation for the stage is
// cancelled first rather than raced.
func (c *Core) retryGeneration(ctx context.Context, req Request) {
	rec, err := c.store.ReadStage(req.Project, req.Stage)
	if err != nil && err != store.ErrNotFound {
		c.notify(Notification{Type: NoteError, Project: req.Project, Stage: req.Stage, Err: err.Error()})
		return
	}

	var partial []generation.Item
	if rec != nil {
		if list, ok := rec.Data.([]any); ok {
			for _, raw := range list {
				if m, ok := raw.(map[string]any); ok {
					partial = append(partial, generation.Item(m))
				}
			}
		}
	}

	c.notify(Notification{
		Type:             NoteRetryReady,
		Project:          req.Project,
		Stage:            req.Stage,
		PartialContent:   partial,
		PartialItemCount: len(partial),
	})
	c.generate(ctx, req, partial)
}

func (c *Core) appendLog(req Request) {
	if req.Entry == nil {
		c.notify(Notification{Type: NoteBuildLogError, Project: req.Project,
			Err: errs.New(errs.KindValidation, "append-log", "missing entry").Error()})
		return
	}
	if err := c.store.AppendLog(req.Project, *req.Entry); err != nil {
		c.notify(Notification{Type: NoteBuildLogError, Project: req.Project, Err: err.Error()})
		return
	}
	c.session.Remember(*req.Entry)
	c.notify(Notification{Type: NoteBuildLogAppended, Project: req.Project})
}

func (c *Core) loadLog(req Request) {
	entries, err := c.store.ReadLog(req.Project)
	if err != nil {
		c.notify(Notification{Type: NoteBuildLogError, Project: req.Project, Err: err.Error()})
		return
	}
	c.notify(Notification{Type: NoteBuildLogLoaded, Project: req.Project, Log: entries})
}

func (c *Core) listProjects() {
	names, err := project.List(c.store.Workspace())
	if err != nil {
		c.notify(Notification{Type: NoteError, Err: err.Error()})
		return
	}
	c.notify(Notification{Type: NoteProjectList, Projects: names})
}

func (c *Core) startIteration(ctx context.Context, req Request) {
	if req.Iteration == nil {
		c.notify(Notification{Type: NoteError, Project: req.Project, Err: "missing iteration config"})
		return
	}
	cfg := *req.Iteration
	if cfg.AutoRunDelay == 0 {
		cfg.AutoRunDelay = c.cfg.AutoRunDelay()
	}
	events, err := c.sched.Start(ctx, req.Project, cfg)
	if err != nil {
		c.notify(Notification{Type: NoteError, Project: req.Project, Err: err.Error()})
		return
	}

	go func() {
		for ev := range events {
			e := ev
			c.notify(Notification{Type: NoteIterationUpdate, Project: req.Project, Iteration: &e})
		}
	}()
}

func (c *Core) iterationCall(req Request, err error) {
	if err != nil {
		c.notify(Notification{Type: NoteError, Project: req.Project, Err: err.Error()})
	}
}
