package rest

import (
	"strings"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"golang.org/x/net/websocket"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// The adaptor loses fiber's route params, so the run id is cut out of the
// raw request path.
const (
	runEventsPrefix = "/api/v1/runs/"
	runEventsSuffix = "/events"
)

// setupWebSocketRoutes registers the live run event stream.
func (s *Server) setupWebSocketRoutes() {
	s.app.Get("/api/v1/runs/:id/events", adaptor.HTTPHandler(
		websocket.Handler(func(ws *websocket.Conn) {
			s.handleRunEvents(ws)
		}),
	))
}

// streamError is the error frame sent on the event stream before closing.
type streamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleRunEvents streams a run's events as JSON frames until the run
// completes or the client goes away. A run that already completed gets a
// single synthetic run_completed frame.
func (s *Server) handleRunEvents(ws *websocket.Conn) {
	defer ws.Close()

	runID := extractRunID(ws.Request().URL.Path)
	if runID == "" {
		s.sendErrorFrame(ws, "run id is required")
		return
	}

	// Subscribe before the snapshot check so the completion frame cannot
	// slip between the two.
	events := s.engine.Broadcaster().Subscribe()
	defer s.engine.Broadcaster().Unsubscribe(events)

	run, ok := s.store.get(runID)
	if !ok {
		s.sendErrorFrame(ws, "run not found")
		return
	}
	if run.Status == types.StatusCompleted {
		s.sendEventFrame(ws, &types.RunEvent{
			Type:       types.RunEventRunCompleted,
			RunID:      run.ID,
			Time:       run.FinishedAt,
			Conclusion: run.Conclusion,
		})
		return
	}

	// The reader only watches for the client hanging up.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.RunID != runID {
				continue
			}
			if !s.sendEventFrame(ws, ev) {
				return
			}
			if ev.Type == types.RunEventRunCompleted {
				return
			}
		}
	}
}

func (s *Server) sendEventFrame(ws *websocket.Conn, ev *types.RunEvent) bool {
	data, err := jsonutil.Marshal(ev)
	if err != nil {
		return false
	}
	return websocket.Message.Send(ws, string(data)) == nil
}

func (s *Server) sendErrorFrame(ws *websocket.Conn, message string) {
	data, err := jsonutil.Marshal(streamError{Type: "error", Error: message})
	if err != nil {
		return
	}
	_ = websocket.Message.Send(ws, string(data))
}

// extractRunID cuts the run id out of /api/v1/runs/:id/events.
func extractRunID(path string) string {
	if len(path) <= len(runEventsPrefix)+len(runEventsSuffix) {
		return ""
	}
	if !strings.HasPrefix(path, runEventsPrefix) || !strings.HasSuffix(path, runEventsSuffix) {
		return ""
	}
	id := path[len(runEventsPrefix) : len(path)-len(runEventsSuffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
