package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"personaut/internal/errs"
	"personaut/internal/project"
)

// Store is the file-backed stage store for one workspace. Writes for a
// given (project, stage) are serialized by the caller; the internal mutex
// only guards the master read-modify-write cycle.
type Store struct {
	workspace string
	logger    *zap.Logger

	mu sync.Mutex

	autoMu     sync.Mutex
	autosavers map[string]*Debouncer
	debounce   time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithAutosaveDebounce sets the auto-save coalescing window.
func WithAutosaveDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// New creates a Store rooted at workspace.
func New(workspace string, opts ...Option) *Store {
	s := &Store{
		workspace:  workspace,
		logger:     zap.NewNop(),
		autosavers: make(map[string]*Debouncer),
		debounce:   750 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workspace returns the workspace root this store is bound to.
func (s *Store) Workspace() string { return s.workspace }

// InitializeProject validates the title, creates the project directory
// skeleton, and writes an empty build state master. Returns the sanitized
// project name.
func (s *Store) InitializeProject(title string) (string, error) {
	name, err := project.ValidateNewTitle(s.workspace, title)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "initialize-project", err)
	}

	for _, dir := range []string{
		project.PlanningDir(s.workspace, name),
		project.IterationsDir(s.workspace, name),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", errs.Wrap(errs.KindPersistence, "initialize-project", err)
		}
	}

	master := &BuildStateMaster{
		ProjectTitle: title,
		Stages:       make(map[project.Stage]*MasterStage),
	}
	for _, stage := range project.StageOrder {
		master.Stages[stage] = &MasterStage{Path: project.StageRef(stage)}
	}
	if err := s.writeMaster(name, master); err != nil {
		return "", err
	}

	s.logger.Info("project initialized",
		zap.String("project", name),
		zap.String("title", title))
	return name, nil
}

// ReadStage loads the stage record for (name, stage). Returns ErrNotFound
// when no record exists yet.
func (s *Store) ReadStage(name string, stage project.Stage) (*StageRecord, error) {
	data, err := os.ReadFile(project.StagePath(s.workspace, name, stage))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "read-stage", err)
	}

	var rec StageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "read-stage", err)
	}
	return &rec, nil
}

// WriteOptions carries the optional parts of a stage write.
type WriteOptions struct {
	// AutoSave marks this write as debounce-originated. Auto-saves must
	// never downgrade a stage from completed=true back to false.
	AutoSave bool
	// ProjectTitle updates the master's title; used by idea-stage saves.
	ProjectTitle string
	// Error records a generation failure alongside partial data.
	Error string
}

// WriteStage upserts the stage record and the matching master entry. Both
// files reflect the same completion value after the call returns; when the
// stage file lands but the master does not, the returned PersistenceError
// says so instead of silently ignoring the divergence.
func (s *Store) WriteStage(name string, stage project.Stage, data any, completed bool, opts WriteOptions) error {
	if !project.ValidStage(stage) {
		return errs.Newf(errs.KindValidation, "write-stage", "unknown stage %q", stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Auto-save never downgrades a completed stage.
	if opts.AutoSave && !completed {
		if master, err := s.readMaster(name); err == nil {
			if entry := master.Stages[stage]; entry != nil && entry.Completed {
				completed = true
			}
		}
	}

	rec := StageRecord{
		ProjectName: name,
		Stage:       stage,
		Completed:   completed,
		Data:        data,
		Error:       opts.Error,
		UpdatedAt:   time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "write-stage", err)
	}

	stagePath := project.StagePath(s.workspace, name, stage)
	if err := os.MkdirAll(filepath.Dir(stagePath), 0755); err != nil {
		return errs.Wrap(errs.KindPersistence, "write-stage", err)
	}
	if err := os.WriteFile(stagePath, raw, 0644); err != nil {
		return errs.Wrap(errs.KindPersistence, "write-stage", err)
	}

	master, err := s.readMaster(name)
	if err != nil {
		master = &BuildStateMaster{Stages: make(map[project.Stage]*MasterStage)}
	}
	if opts.ProjectTitle != "" {
		master.ProjectTitle = opts.ProjectTitle
	}
	entry := master.Stages[stage]
	if entry == nil {
		entry = &MasterStage{}
		master.Stages[stage] = entry
	}
	entry.Completed = completed
	entry.Path = project.StageRef(stage)

	if err := s.writeMaster(name, master); err != nil {
		// The stage file is already on disk; surface the half-write so a
		// supervising caller can retry the master update.
		return errs.Newf(errs.KindPersistence, "write-stage",
			"stage file %s written but master update failed: %v", stagePath, err)
	}

	s.logger.Debug("stage written",
		zap.String("project", name),
		zap.String("stage", string(stage)),
		zap.Bool("completed", completed),
		zap.Bool("autosave", opts.AutoSave))
	return nil
}

// AutoSave schedules a debounced write for (name, stage). Rapid successive
// calls for the same pair coalesce into the last one. An explicit
// WriteStage for the pair should be preceded by FlushAutoSave.
func (s *Store) AutoSave(name string, stage project.Stage, data any, completed bool) {
	s.autoMu.Lock()
	key := name + "/" + string(stage)
	deb := s.autosavers[key]
	if deb == nil {
		deb = NewDebouncer(s.debounce)
		s.autosavers[key] = deb
	}
	s.autoMu.Unlock()

	deb.Debounce(func() {
		if err := s.WriteStage(name, stage, data, completed, WriteOptions{AutoSave: true}); err != nil {
			s.logger.Warn("debounced auto-save failed",
				zap.String("project", name),
				zap.String("stage", string(stage)),
				zap.Error(err))
		}
	})
}

// FlushAutoSave cancels any pending debounced write for (name, stage).
// Explicit saves call this first so the stale auto-save cannot land after
// them.
func (s *Store) FlushAutoSave(name string, stage project.Stage) {
	s.autoMu.Lock()
	defer s.autoMu.Unlock()
	if deb := s.autosavers[name+"/"+string(stage)]; deb != nil {
		deb.Cancel()
	}
}

// ReadMaster loads the build state master for a project.
func (s *Store) ReadMaster(name string) (*BuildStateMaster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMaster(name)
}

func (s *Store) readMaster(name string) (*BuildStateMaster, error) {
	data, err := os.ReadFile(project.MasterPath(s.workspace, name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "read-master", err)
	}

	var master BuildStateMaster
	if err := json.Unmarshal(data, &master); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "read-master", err)
	}
	if master.Stages == nil {
		master.Stages = make(map[project.Stage]*MasterStage)
	}
	return &master, nil
}

func (s *Store) writeMaster(name string, master *BuildStateMaster) error {
	raw, err := json.MarshalIndent(master, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "write-master", err)
	}
	path := project.MasterPath(s.workspace, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.KindPersistence, "write-master", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errs.Wrap(errs.KindPersistence, "write-master", err)
	}
	return nil
}

// CheckProjectFiles returns the per-stage completion map for a project,
// read from the master. A missing master yields an all-false map.
func (s *Store) CheckProjectFiles(name string) (project.Completion, error) {
	master, err := s.ReadMaster(name)
	if err == ErrNotFound {
		return project.Completion{}, nil
	}
	if err != nil {
		return nil, err
	}
	return master.Completion(), nil
}

// AppendLog appends one entry to the project's build log. Failures are
// reported but callers treat them as non-blocking.
func (s *Store) AppendLog(name string, entry BuildLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "append-log", err)
	}

	path := project.LogPath(s.workspace, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.KindPersistence, "append-log", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "append-log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return errs.Wrap(errs.KindPersistence, "append-log", err)
	}
	return nil
}

// ReadLog loads the full build log for a project.
func (s *Store) ReadLog(name string) ([]BuildLogEntry, error) {
	f, err := os.Open(project.LogPath(s.workspace, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "read-log", err)
	}
	defer f.Close()

	var entries []BuildLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry BuildLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn final line from a crashed append is skipped, not fatal.
			s.logger.Warn("skipping malformed log line", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, errs.Wrap(errs.KindPersistence, "read-log", err)
	}
	return entries, nil
}

// SaveIterationState persists the iteration loop state as a courtesy; the
// loop never depends on reading it back.
func (s *Store) SaveIterationState(name string, state any) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "save-iteration-state", err)
	}
	path := project.IterationStatePath(s.workspace, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.KindPersistence, "save-iteration-state", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errs.Wrap(errs.KindPersistence, "save-iteration-state", err)
	}
	return nil
}

// ArchiveFeedback writes the feedback report for iteration n.
func (s *Store) ArchiveFeedback(name string, n int, report any) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "archive-feedback", err)
	}
	path := project.FeedbackPath(s.workspace, name, n)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.KindPersistence, "archive-feedback", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errs.Wrap(errs.KindPersistence, "archive-feedback", err)
	}
	return nil
}
