// Package protocol defines the WebSocket message protocol between clients and
// the session coordinator.
package protocol

import (
	"github.com/nigamk1/tutorboard/domain"
)

// Message types from client to server.
const (
	TypeJoinSession   = "join_session"
	TypeSendTurn      = "send_turn"
	TypeApplyCommands = "apply_commands"
	TypePauseSession  = "pause_session"
	TypeResumeSession = "resume_session"
	TypeEndSession    = "end_session"
)

// Message types from server to client.
const (
	TypeJoined          = "joined"
	TypeTurnAdded       = "turn_added"
	TypeDocumentUpdated = "document_updated"
	TypeStatusChanged   = "status_changed"
	TypeError           = "error"
)

// Error codes.
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeNotFound        = "session_not_found"
	ErrorCodeBadTransition   = "invalid_transition"
	ErrorCodeBlocked         = "blocked"
	ErrorCodeUpstream        = "upstream_failure"
	ErrorCodeStorage         = "storage_failure"
	ErrorCodeInternal        = "internal_error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	SessionID string `json:"session_id,omitempty"`
}

// JoinSessionMessage subscribes the connection to a session's deltas.
type JoinSessionMessage struct {
	BaseMessage
	UserID string `json:"user_id,omitempty"`
}

// JoinedMessage acknowledges a join and carries the current state so the
// client can render without a separate fetch.
type JoinedMessage struct {
	BaseMessage
	Session    *domain.Session            `json:"session"`
	Whiteboard *domain.WhiteboardSnapshot `json:"whiteboard,omitempty"`
}

// SendTurnMessage submits a conversation turn. Exactly one of Text or
// AudioRef is expected; AudioRef points at an artifact held by the voice
// service, never raw audio bytes.
type SendTurnMessage struct {
	BaseMessage
	Text     string `json:"text,omitempty"`
	AudioRef string `json:"audio_ref,omitempty"`
}

// ApplyCommandsMessage submits an ordered whiteboard command batch, applied
// as one atomic step.
type ApplyCommandsMessage struct {
	BaseMessage
	Commands []domain.Command `json:"commands"`
}

// LifecycleMessage covers pause_session, resume_session and end_session.
type LifecycleMessage struct {
	BaseMessage
}

// TurnAddedMessage announces a newly recorded turn to all subscribers.
type TurnAddedMessage struct {
	BaseMessage
	Turn *domain.Turn `json:"turn"`
}

// DocumentUpdatedMessage announces a new document version together with the
// elements the batch touched, so clients patch instead of refetching.
type DocumentUpdatedMessage struct {
	BaseMessage
	Version         int              `json:"version"`
	ChangedElements []domain.Element `json:"changed_elements,omitempty"`
	DeletedIDs      []string         `json:"deleted_ids,omitempty"`
}

// StatusChangedMessage announces a lifecycle transition.
type StatusChangedMessage struct {
	BaseMessage
	Status          domain.SessionStatus `json:"status"`
	DurationMinutes *int                 `json:"duration_minutes,omitempty"`
	Summary         string               `json:"summary,omitempty"`
}

// ErrorMessage reports a failure. Recoverable errors go only to the
// originating connection; upstream/storage failures are broadcast
// session-wide.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}
