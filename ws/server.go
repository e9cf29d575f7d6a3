// Package ws handles WebSocket connections for realtime session traffic.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nigamk1/tutorboard/config"
	"github.com/nigamk1/tutorboard/coordinator"
	"github.com/nigamk1/tutorboard/domain"
	"github.com/nigamk1/tutorboard/hub"
	"github.com/nigamk1/tutorboard/protocol"
)

// Server upgrades connections and dispatches inbound wire events to the
// coordinator.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	coord    *coordinator.Coordinator
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, coord *coordinator.Coordinator, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		coord:  coord,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "conn_id", conn.ID, "error", err)
			}
			break
		}

		// Dispatch synchronously: a connection's events enter the session
		// slot in the order the client sent them. The AI round trip itself
		// runs outside the slot, so this never blocks on upstream calls.
		s.handleMessage(conn, message)
	}
}

func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket write failed", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeJoinSession:
		s.handleJoin(conn, data)
	case protocol.TypeSendTurn:
		s.handleSendTurn(conn, data)
	case protocol.TypeApplyCommands:
		s.handleApplyCommands(conn, data)
	case protocol.TypePauseSession, protocol.TypeResumeSession, protocol.TypeEndSession:
		s.handleLifecycle(conn, baseMsg)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

func (s *Server) handleJoin(conn *hub.Connection, data []byte) {
	var msg protocol.JoinSessionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid join_session message")
		return
	}
	if msg.SessionID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "session_id is required")
		return
	}

	if err := s.coord.Join(context.Background(), conn, msg.SessionID); err != nil {
		s.reportError(conn, err)
	}
}

func (s *Server) handleSendTurn(conn *hub.Connection, data []byte) {
	var msg protocol.SendTurnMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid send_turn message")
		return
	}
	sessionID, ok := s.sessionFor(conn, msg.BaseMessage)
	if !ok {
		return
	}
	if msg.Text == "" && msg.AudioRef == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "text or audio_ref is required")
		return
	}

	if err := s.coord.HandleTurn(context.Background(), sessionID, domain.OriginUser, msg.Text, msg.AudioRef); err != nil {
		s.reportError(conn, err)
	}
}

func (s *Server) handleApplyCommands(conn *hub.Connection, data []byte) {
	var msg protocol.ApplyCommandsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid apply_commands message")
		return
	}
	sessionID, ok := s.sessionFor(conn, msg.BaseMessage)
	if !ok {
		return
	}
	if len(msg.Commands) == 0 {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "commands are required")
		return
	}

	if err := s.coord.ApplyCommands(context.Background(), sessionID, domain.OriginUser, msg.Commands); err != nil {
		s.reportError(conn, err)
	}
}

func (s *Server) handleLifecycle(conn *hub.Connection, msg protocol.BaseMessage) {
	sessionID, ok := s.sessionFor(conn, msg)
	if !ok {
		return
	}

	var err error
	switch msg.Type {
	case protocol.TypePauseSession:
		_, err = s.coord.Pause(context.Background(), sessionID)
	case protocol.TypeResumeSession:
		_, err = s.coord.Resume(context.Background(), sessionID)
	case protocol.TypeEndSession:
		_, err = s.coord.End(context.Background(), sessionID)
	}
	if err != nil {
		s.reportError(conn, err)
	}
}

// sessionFor resolves the target session: the message may name one, otherwise
// the connection must already be joined.
func (s *Server) sessionFor(conn *hub.Connection, msg protocol.BaseMessage) (string, bool) {
	sessionID := conn.SessionID
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}
	if sessionID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired, "must join a session first")
		return "", false
	}
	return sessionID, true
}

// reportError delivers a recoverable error to the originating connection
// only. Session-wide failures were already broadcast by the coordinator.
func (s *Server) reportError(conn *hub.Connection, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		s.sendError(conn, protocol.ErrorCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		s.sendError(conn, protocol.ErrorCodeBadTransition, err.Error())
	case errors.Is(err, domain.ErrAlreadyCompleted):
		s.sendError(conn, protocol.ErrorCodeBadTransition, err.Error())
	case errors.Is(err, domain.ErrCommandBlocked):
		s.sendError(conn, protocol.ErrorCodeBlocked, err.Error())
	case domain.IsRecoverable(err):
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, err.Error())
	case errors.Is(err, domain.ErrStorageFailure),
		errors.Is(err, domain.ErrUpstreamFailure),
		errors.Is(err, domain.ErrUpstreamTimeout):
		// Already broadcast session-wide by the coordinator.
		s.logger.Error("session operation failed", "conn_id", conn.ID, "error", err)
	default:
		s.logger.Error("session operation failed", "conn_id", conn.ID, "error", err)
		s.sendError(conn, protocol.ErrorCodeInternal, "internal error")
	}
}

func (s *Server) sendError(conn *hub.Connection, code, message string) {
	s.hub.SendJSON(conn, protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			SessionID: conn.SessionID,
		},
		Code:    code,
		Message: message,
	})
}
