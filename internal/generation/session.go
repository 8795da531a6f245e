package generation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"personaut/internal/agent"
	"personaut/internal/errs"
	"personaut/internal/jsonrepair"
	"personaut/internal/project"
	"personaut/internal/store"
)

// Request describes one generation run. Partial seeds the decoder when
// resuming after a failure: indices continue past the seed, and the prompt
// tells the model which items already exist.
type Request struct {
	Project string
	Stage   project.Stage
	System  string
	Prompt  string
	Partial []Item
}

// Session streams one stage generation at a time. Starting a new run aborts
// the previous one; callers that want overlap use separate sessions.
type Session struct {
	agent  agent.Agent
	store  *store.Store
	logger *zap.Logger

	stallCeiling time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	decoder *decoder
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithStallCeiling overrides how long the session waits between deltas
// before declaring the run dead.
func WithStallCeiling(d time.Duration) SessionOption {
	return func(s *Session) { s.stallCeiling = d }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession builds a session over an agent and a store.
func NewSession(a agent.Agent, st *store.Store, opts ...SessionOption) *Session {
	s := &Session{
		agent:        a,
		store:        st,
		logger:       zap.NewNop(),
		stallCeiling: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins streaming generation and returns the update channel. The
// channel carries one update per decoded item and exactly one terminal
// update, then closes. On failure the items decoded so far are persisted
// with completed=false and the failure recorded on the stage, so a later
// run can resume instead of starting over.
func (s *Session) Start(ctx context.Context, req Request) (<-chan Update, error) {
	if !project.ValidStage(req.Stage) {
		return nil, errs.Newf(errs.KindValidation, "generate", "invalid stage %q", req.Stage)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	dec := newDecoder(req.Partial)
	s.decoder = dec
	s.mu.Unlock()

	updates := make(chan Update, 16)
	go s.run(runCtx, cancel, req, dec, updates)
	return updates, nil
}

// Abort cancels the in-flight run, if any. The run still persists its
// partial items and emits its terminal update before the channel closes.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Items returns a copy of the items decoded by the most recent run. Call
// it after the run's update channel has closed; during a run the updates
// themselves are the source of truth.
func (s *Session) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoder == nil {
		return nil
	}
	return s.decoder.snapshot()
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, req Request, dec *decoder, updates chan<- Update) {
	defer close(updates)
	defer cancel()

	emit := func(u Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}

	var stalled atomic.Bool
	stall := time.AfterFunc(s.stallCeiling, func() {
		stalled.Store(true)
		cancel()
	})
	defer stall.Stop()

	var buf string
	var bufMu sync.Mutex
	onDelta := func(delta string) {
		stall.Reset(s.stallCeiling)
		bufMu.Lock()
		buf += delta
		placed := dec.feed(buf)
		bufMu.Unlock()
		for _, p := range placed {
			emit(Update{
				Stage:      req.Stage,
				UpdateType: itemUpdateType(req.Stage, p.item),
				Data:       p.item,
				Index:      p.index,
			})
		}
	}

	prompt := req.Prompt + resumeSuffix(req.Partial)
	full, err := s.agent.Stream(ctx, req.System, prompt, onDelta)
	stall.Stop()

	if err == nil {
		// The incremental scanner skips spans with broken JSON. A final
		// repair pass over the full reply recovers what it can.
		for _, p := range s.recoverSkipped(dec, full) {
			emit(Update{
				Stage:      req.Stage,
				UpdateType: itemUpdateType(req.Stage, p.item),
				Data:       p.item,
				Index:      p.index,
			})
		}
		s.logger.Info("generation complete",
			zap.String("project", req.Project),
			zap.String("stage", string(req.Stage)),
			zap.Int("items", len(dec.items)))
		emit(Update{Stage: req.Stage, UpdateType: project.UpdateTypeFor(req.Stage), Complete: true})
		return
	}

	if stalled.Load() {
		err = errs.Newf(errs.KindGeneration, "generate",
			"no output for %s, aborting", s.stallCeiling)
	} else {
		err = errs.Wrap(errs.KindGeneration, "generate", err)
	}

	// Persist before announcing failure so a resume started from the
	// terminal update always finds the partial items on disk.
	items := dec.snapshot()
	writeErr := s.store.WriteStage(req.Project, req.Stage, items, false,
		store.WriteOptions{Error: err.Error()})
	if writeErr != nil {
		s.logger.Error("failed to persist partial generation",
			zap.String("project", req.Project),
			zap.String("stage", string(req.Stage)),
			zap.Error(writeErr))
	} else {
		s.logger.Warn("generation failed, partial items saved",
			zap.String("project", req.Project),
			zap.String("stage", string(req.Stage)),
			zap.Int("items", len(items)),
			zap.Error(err))
	}

	// The terminal update must get out even though ctx is already dead on
	// abort and stall paths, so it cannot select on ctx. A consumer that
	// stops reading entirely forfeits it after the grace window; channel
	// closure remains the authoritative end-of-run condition either way.
	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	select {
	case updates <- Update{
		Stage:      req.Stage,
		UpdateType: project.UpdateTypeFor(req.Stage),
		Complete:   true,
		Err:        err.Error(),
	}:
	case <-grace.C:
		s.logger.Warn("terminal failure update not consumed",
			zap.String("project", req.Project),
			zap.String("stage", string(req.Stage)))
	}
}

// recoverSkipped reparses the full reply when the incremental pass decoded
// nothing; models occasionally emit JSON that only yields to repair.
func (s *Session) recoverSkipped(dec *decoder, full string) []indexed {
	if len(dec.items) > 0 {
		return nil
	}
	res := jsonrepair.Parse(full)
	if !res.Success {
		return nil
	}

	var list []any
	switch data := res.Data.(type) {
	case []any:
		list = data
	case map[string]any:
		// A reply that narrowed down to one bare object is one item.
		list = []any{data}
	default:
		return nil
	}

	var out []indexed
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, dec.place(Item(m)))
	}
	return out
}
