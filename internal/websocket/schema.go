package websocket

import "github.com/stemsi/exstem-examclient/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionViolation   Action = "violation"
	ActionFocus       Action = "focus"
	ActionAcknowledge Action = "acknowledge"
	ActionFlush       Action = "flush"
	ActionPing        Action = "ping"
)

// Request is every inbound message. Only the fields of Action are read.
type Request struct {
	Action     Action                  `json:"action"`
	Kind       model.SecurityEventKind `json:"kind,omitempty"`
	Timestamp  *int64                  `json:"timestamp,omitempty"` // epoch milliseconds
	Fullscreen bool                    `json:"fullscreen,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────
// Session events published by the exam runtime are forwarded as-is; the
// types below are replies to inbound actions.

type Event string

const (
	EventError Event = "error"
	EventAck   Event = "ack"
	EventPong  Event = "pong"
)

type AckResponse struct {
	Event   Event              `json:"event"`
	Action  Action             `json:"action"`
	Monitor *model.MonitorView `json:"monitor,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
