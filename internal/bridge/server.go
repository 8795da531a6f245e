package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"personaut/internal/agent"
	"personaut/internal/config"
	"personaut/internal/store"
)

// Server exposes the message interface over a websocket so out-of-process
// UIs can drive the engine. Each connection gets its own Core and session.
type Server struct {
	store  *store.Store
	agent  agent.Agent
	cfg    config.Config
	logger *zap.Logger
}

// NewServer builds a websocket front for the engine.
func NewServer(st *store.Store, a agent.Agent, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: st, agent: a, cfg: cfg, logger: logger}
}

// Handler returns the http handler that upgrades to websocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The UI is served from arbitrary local hosts during development.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection teardown")

	ctx := r.Context()

	// Writes come from streaming goroutines as well as the dispatch path;
	// serialize them here.
	var writeMu sync.Mutex
	notify := func(n Notification) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := wsjson.Write(ctx, conn, n); err != nil {
			s.logger.Debug("notification write failed",
				zap.String("type", n.Type), zap.Error(err))
		}
	}

	core := NewCore(s.store, s.agent, notify, WithLogger(s.logger), WithConfig(s.cfg))
	s.logger.Info("collaborator connected", zap.String("session", core.Session().ID()))

	for {
		var req Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			s.logger.Warn("request read failed", zap.Error(err))
			return
		}
		core.Handle(ctx, req)
	}
}
