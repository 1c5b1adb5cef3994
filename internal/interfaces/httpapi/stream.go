package httpapi

import (
	"net/http"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/fplsage/fpl-sage/internal/domain/analysis"
	"github.com/fplsage/fpl-sage/internal/infrastructure/jobstore"
	"github.com/fplsage/fpl-sage/internal/platform/logging"
)

const (
	streamWriteTimeout  = 5 * time.Second
	heartbeatInterval   = 2 * time.Second
	closeCodeNotFound   = 4004
	streamReadSizeLimit = 1024
)

// Streamer serves job progress over WebSocket. One connection observes
// one job: snapshot first, then live events, a heartbeat every 2 s when
// idle, and a normal close after the terminal frame.
type Streamer struct {
	jobs     *jobstore.Store
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

func NewStreamer(jobs *jobstore.Store, logger *logging.Logger) *Streamer {
	if logger == nil {
		logger = logging.Default()
	}

	return &Streamer{
		jobs:   jobs,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS layer for
			// the REST surface; the stream carries no privileged state.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	job, ok := s.jobs.Get(jobID)
	if !ok {
		s.closeWith(conn, closeCodeNotFound, "ANALYSIS_NOT_FOUND")
		return
	}

	if err := s.writeEvent(conn, analysis.Event{
		Type:     analysis.EventProgress,
		Progress: job.Progress,
		Phase:    job.Phase,
	}); err != nil {
		return
	}

	// Terminal before we ever subscribed: replay the outcome and close.
	if job.Status.Terminal() {
		_ = s.writeEvent(conn, terminalEvent(job))
		s.closeWith(conn, websocket.CloseNormalClosure, "")
		return
	}

	sub, ok := s.jobs.Subscribe(jobID)
	if !ok {
		s.closeWith(conn, closeCodeNotFound, "ANALYSIS_NOT_FOUND")
		return
	}
	defer s.jobs.Unsubscribe(sub)

	// The job may have finished between the snapshot and the
	// subscription; the terminal event would then never arrive.
	if job, ok := s.jobs.Get(jobID); ok && job.Status.Terminal() {
		_ = s.writeEvent(conn, terminalEvent(job))
		s.closeWith(conn, websocket.CloseNormalClosure, "")
		return
	}

	gone := make(chan struct{})
	go s.readPump(conn, gone)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-sub.C:
			if err := s.writeEvent(conn, event); err != nil {
				return
			}
			if event.Terminal() {
				s.closeWith(conn, websocket.CloseNormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := s.writeEvent(conn, analysis.Event{Type: analysis.EventHeartbeat}); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// readPump discards client frames and signals disconnect. Clients are
// not expected to send anything.
func (s *Streamer) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(streamReadSizeLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Streamer) writeEvent(conn *websocket.Conn, event analysis.Event) error {
	payload, err := sonic.Marshal(event)
	if err != nil {
		s.logger.Warn("stream frame serialization failed", "type", string(event.Type), "error", err)
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Streamer) closeWith(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, message)
}

func terminalEvent(job analysis.Job) analysis.Event {
	switch job.Status {
	case analysis.StatusCompleted:
		return analysis.Event{Type: analysis.EventComplete, Result: job.Result}
	case analysis.StatusCancelled:
		return analysis.Event{Type: analysis.EventCancelled, Message: "analysis cancelled"}
	default:
		event := analysis.Event{Type: analysis.EventError, Code: "ENGINE_EXCEPTION", Message: "analysis failed"}
		if job.Error != nil {
			event.Code = job.Error.Code
			event.Message = job.Error.Message
		}
		return event
	}
}
