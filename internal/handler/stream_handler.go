package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
	"github.com/stemsi/exstem-examclient/internal/service"
	ws "github.com/stemsi/exstem-examclient/internal/websocket"
)

const keepAliveInterval = 30 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StreamHandler pushes session events to the exam UI and takes security
// events and acknowledgements back over the same socket.
type StreamHandler struct {
	rdb      *redis.Client
	sessions *service.SessionManager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(rdb *redis.Client, sessions *service.SessionManager, log zerolog.Logger, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "stream_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
func (h *StreamHandler) ExamStream(c *gin.Context) {
	studentID, examID, ok := identity(c)
	if !ok {
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	// The session must be opened over HTTP first.
	session, err := h.sessions.Get(studentID, examID)
	if err != nil {
		_ = conn.WriteError("no open session for this exam")
		return
	}

	wsLog := h.log.With().Int("student_id", studentID).Str("exam_id", examID).Logger()
	wsLog.Info().Msg("Student attached to session stream")

	// The request context carries the student's token for backend calls
	// made by inbound actions.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := repository.SubscribeEvents(ctx, h.rdb, examID, studentID)
	defer pubsub.Close()

	view := session.Monitor().Status(ctx)
	_ = conn.WriteTyped(model.SessionEvent{
		Type:    model.SessionEventMonitor,
		ExamID:  examID,
		Monitor: &view,
		At:      time.Now(),
	})

	go h.readLoop(ctx, cancel, conn, session, wsLog)

	events := pubsub.Channel()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Student detached from session stream")
			return

		case msg, ok := <-events:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			if err := conn.WriteRaw([]byte(msg.Payload)); err != nil {
				wsLog.Debug().Err(err).Msg("Stream write failed")
				return
			}

		case <-keepAlive.C:
			if err := conn.WriteTyped(ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *ws.Conn, session *service.ExamSession, log zerolog.Logger) {
	defer cancel()

	for {
		var req ws.Request
		if err := conn.ReadRequest(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}

		reply, err := Dispatch(ctx, session, req, time.Now())
		if err != nil {
			log.Debug().Err(err).Str("action", string(req.Action)).Msg("Action rejected")
			_ = conn.WriteError(actionError(err))
			continue
		}
		if reply != nil {
			_ = conn.WriteTyped(reply)
		}
	}
}

// errUnknownAction is returned by Dispatch for an action it does not handle.
var errUnknownAction = errors.New("unknown action")

// Dispatch applies one inbound action to the session and returns the reply.
func Dispatch(ctx context.Context, session *service.ExamSession, req ws.Request, now time.Time) (interface{}, error) {
	switch req.Action {
	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}, nil

	case ws.ActionViolation, ws.ActionFocus:
		kind := req.Kind
		if req.Action == ws.ActionFocus {
			kind = model.EventFocus
		}
		ev := model.SecurityEvent{Kind: kind, Timestamp: now}
		if req.Timestamp != nil && *req.Timestamp > 0 {
			ev.Timestamp = time.UnixMilli(*req.Timestamp)
		}
		view, err := session.ObserveEvent(ctx, ev)
		if err != nil {
			return nil, err
		}
		return ws.AckResponse{Event: ws.EventAck, Action: req.Action, Monitor: &view}, nil

	case ws.ActionAcknowledge:
		view, _, err := session.Acknowledge(ctx, req.Fullscreen)
		if err != nil {
			return nil, err
		}
		// A forced submission announces itself with submitted/navigate events.
		return ws.AckResponse{Event: ws.EventAck, Action: req.Action, Monitor: &view}, nil

	case ws.ActionFlush:
		if err := session.Flush(ctx); err != nil {
			return nil, err
		}
		return ws.AckResponse{Event: ws.EventAck, Action: req.Action}, nil

	default:
		return nil, errUnknownAction
	}
}

func actionError(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionFinished):
		return "session finished"
	case errors.Is(err, service.ErrUnknownEvent):
		return "unknown security event"
	case errors.Is(err, errUnknownAction):
		return "unknown action"
	case errors.Is(err, service.ErrPersist):
		return "progress not saved"
	default:
		return "action failed"
	}
}
