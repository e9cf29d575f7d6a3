// Package coordinator serializes all mutating operations per session and
// routes inbound events to the conversation window, the whiteboard document
// and the lifecycle manager, broadcasting the resulting deltas.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nigamk1/tutorboard/ai"
	"github.com/nigamk1/tutorboard/conversation"
	"github.com/nigamk1/tutorboard/domain"
	"github.com/nigamk1/tutorboard/hub"
	"github.com/nigamk1/tutorboard/policy"
	"github.com/nigamk1/tutorboard/protocol"
	"github.com/nigamk1/tutorboard/session"
	"github.com/nigamk1/tutorboard/store"
	"github.com/nigamk1/tutorboard/whiteboard"
)

// ProcessingFailedText is the system turn recorded when the AI collaborator
// times out or fails, so the session is never left silently stalled.
const ProcessingFailedText = "The AI teacher could not process that message. Please try again."

// Coordinator owns the per-session serialization slot. The whiteboard
// document and conversation window of a session are mutated only here while
// the slot is held; unrelated sessions proceed fully in parallel.
type Coordinator struct {
	store     store.Store
	hub       *hub.Hub
	window    *conversation.Window
	lifecycle *session.Manager
	tutor     ai.Tutor
	voice     ai.Voice
	gate      *policy.Engine
	aiTimeout time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	slots  map[string]*sync.Mutex
	boards map[string]*whiteboard.Document
}

// New wires a coordinator. voice may be nil (text-only deployments); gate may
// be nil to disable command policy checks.
func New(st store.Store, h *hub.Hub, window *conversation.Window, lifecycle *session.Manager,
	tutor ai.Tutor, voice ai.Voice, gate *policy.Engine, aiTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     st,
		hub:       h,
		window:    window,
		lifecycle: lifecycle,
		tutor:     tutor,
		voice:     voice,
		gate:      gate,
		aiTimeout: aiTimeout,
		logger:    logger,
		slots:     make(map[string]*sync.Mutex),
		boards:    make(map[string]*whiteboard.Document),
	}
}

// slot returns the serialization slot for a session, creating it on first
// use. Slots are never removed while the process lives; they are tiny.
func (c *Coordinator) slot(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.slots[sessionID]; ok {
		return m
	}
	m := &sync.Mutex{}
	c.slots[sessionID] = m
	return m
}

// board returns the cached document for a session, loading it from the store
// on first access. The caller must hold the session's slot.
func (c *Coordinator) board(ctx context.Context, sessionID string) (*whiteboard.Document, error) {
	c.mu.Lock()
	doc, ok := c.boards[sessionID]
	c.mu.Unlock()
	if ok {
		return doc, nil
	}

	snap, err := c.store.GetWhiteboard(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if snap == nil {
		return nil, domain.ErrSessionNotFound
	}
	doc = whiteboard.FromSnapshot(*snap, c.logger)

	c.mu.Lock()
	c.boards[sessionID] = doc
	c.mu.Unlock()
	return doc, nil
}

func (c *Coordinator) dropBoard(sessionID string) {
	c.mu.Lock()
	delete(c.boards, sessionID)
	c.mu.Unlock()
}

// StartSession creates a new session and its empty whiteboard.
func (c *Coordinator) StartSession(ctx context.Context, opts session.StartOptions) (*domain.Session, error) {
	return c.lifecycle.Start(ctx, opts)
}

// Join subscribes a connection to a session and replies with the current
// state so the client can render immediately.
func (c *Coordinator) Join(ctx context.Context, conn *hub.Connection, sessionID string) error {
	slot := c.slot(sessionID)
	slot.Lock()
	defer slot.Unlock()

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	doc, err := c.board(ctx, sessionID)
	if err != nil {
		return err
	}

	c.hub.Join(conn, sessionID)

	snap := doc.Snapshot()
	return c.hub.SendJSON(conn, protocol.JoinedMessage{
		BaseMessage: base(protocol.TypeJoined, sessionID),
		Session:     sess,
		Whiteboard:  &snap,
	})
}

// HandleTurn records an inbound conversation turn, broadcasts it, and, for
// user turns, starts the AI round trip. The session slot is not held while
// the AI is thinking; other participants can keep reading and writing.
func (c *Coordinator) HandleTurn(ctx context.Context, sessionID string, origin domain.TurnOrigin, text, audioRef string) error {
	transcript := ""
	if audioRef != "" && text == "" && c.voice != nil {
		// Transcription is an upstream wait; do it before taking the slot.
		sess, err := c.store.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
		}
		if sess == nil {
			return domain.ErrSessionNotFound
		}
		transcript, err = c.voice.Transcribe(ctx, audioRef, sess.Language)
		if err != nil {
			c.logger.Warn("transcription failed", "session_id", sessionID, "error", err)
		}
	}

	turn := &domain.Turn{
		TurnID:     "turn_" + uuid.New().String()[:8],
		SessionID:  sessionID,
		Origin:     origin,
		Text:       text,
		AudioRef:   audioRef,
		Transcript: transcript,
		CreatedAt:  time.Now(),
	}

	slot := c.slot(sessionID)
	slot.Lock()
	if err := c.window.Record(ctx, turn); err != nil {
		slot.Unlock()
		return err
	}
	c.broadcastTurn(sessionID, turn)

	var req ai.TutorRequest
	if origin == domain.OriginUser {
		req = c.tutorRequest(ctx, sessionID)
	}
	slot.Unlock()

	if origin == domain.OriginUser {
		go c.respond(sessionID, req)
	}
	return nil
}

// tutorRequest captures the context the AI call needs. Caller holds the slot
// so the snapshot and the window are consistent with each other.
func (c *Coordinator) tutorRequest(ctx context.Context, sessionID string) ai.TutorRequest {
	req := ai.TutorRequest{}
	if lines, err := c.window.RecentContext(ctx, sessionID, 0); err == nil {
		req.Context = lines
	} else {
		c.logger.Warn("failed to load recent context", "session_id", sessionID, "error", err)
	}
	if doc, err := c.board(ctx, sessionID); err == nil {
		req.Whiteboard = doc.Snapshot()
	}
	if sess, err := c.store.GetSession(ctx, sessionID); err == nil && sess != nil {
		req.Subject = sess.Subject
		req.Difficulty = sess.Difficulty
		req.Language = sess.Language
	}
	return req
}

// respond runs the AI round trip outside the slot, then re-acquires it to
// apply the outbound turn and command batch.
func (c *Coordinator) respond(sessionID string, req ai.TutorRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.aiTimeout)
	defer cancel()

	reply, err := c.tutor.Respond(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		c.logger.Error("tutor call failed", "session_id", sessionID, "error", err)
		c.broadcastError(sessionID, protocol.ErrorCodeUpstream, "the AI tutor is unavailable")
		c.recordSystemFailure(sessionID)
		return
	}

	audioRef := ""
	if c.voice != nil && reply.SpokenText != "" {
		// TTS is best effort; the text turn stands on its own.
		if ref, err := c.voice.Synthesize(ctx, reply.SpokenText, req.Language); err != nil {
			c.logger.Warn("speech synthesis failed", "session_id", sessionID, "error", err)
		} else {
			audioRef = ref
		}
	}

	turn := &domain.Turn{
		TurnID:    "turn_" + uuid.New().String()[:8],
		SessionID: sessionID,
		Origin:    domain.OriginAI,
		Text:      reply.SpokenText,
		AudioRef:  audioRef,
		Commands:  reply.Commands,
		CreatedAt: time.Now(),
	}

	slot := c.slot(sessionID)
	slot.Lock()
	defer slot.Unlock()

	sctx := context.Background()
	if err := c.window.Record(sctx, turn); err != nil {
		c.logger.Error("failed to record AI turn", "session_id", sessionID, "error", err)
		return
	}
	c.broadcastTurn(sessionID, turn)

	if reply.Topic != "" {
		if err := c.store.AddTopic(sctx, sessionID, reply.Topic); err != nil {
			c.logger.Warn("failed to record topic", "session_id", sessionID, "error", err)
		}
	}

	if len(reply.Commands) > 0 {
		if err := c.applyLocked(sctx, sessionID, reply.Commands); err != nil {
			c.logger.Error("failed to apply AI command batch", "session_id", sessionID, "error", err)
		}
	}
}

// recordSystemFailure emits the single system-authored turn that explains an
// AI failure to the whole session.
func (c *Coordinator) recordSystemFailure(sessionID string) {
	turn := &domain.Turn{
		TurnID:    "turn_" + uuid.New().String()[:8],
		SessionID: sessionID,
		Origin:    domain.OriginSystem,
		Text:      ProcessingFailedText,
		CreatedAt: time.Now(),
	}

	slot := c.slot(sessionID)
	slot.Lock()
	defer slot.Unlock()

	if err := c.window.Record(context.Background(), turn); err != nil {
		c.logger.Error("failed to record failure turn", "session_id", sessionID, "error", err)
		return
	}
	c.broadcastTurn(sessionID, turn)
}

// ApplyCommands applies an inbound command batch under the session slot and
// broadcasts the resulting delta. Storage failures leave the session in its
// last-known-good state and are surfaced session-wide.
func (c *Coordinator) ApplyCommands(ctx context.Context, sessionID string, origin domain.TurnOrigin, batch []domain.Command) error {
	if c.gate != nil {
		if err := c.gate.CheckBatch(ctx, origin, batch); err != nil {
			return err
		}
	}

	slot := c.slot(sessionID)
	slot.Lock()
	defer slot.Unlock()

	return c.applyLocked(ctx, sessionID, batch)
}

func (c *Coordinator) applyLocked(ctx context.Context, sessionID string, batch []domain.Command) error {
	doc, err := c.board(ctx, sessionID)
	if err != nil {
		return err
	}

	res := doc.Apply(batch)

	if err := c.store.ReplaceElements(ctx, doc.Snapshot()); err != nil {
		// Drop the cache so the next operation reloads last-known-good.
		c.dropBoard(sessionID)
		werr := fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
		c.broadcastError(sessionID, protocol.ErrorCodeStorage, "whiteboard could not be saved")
		return werr
	}

	if res.Changed {
		c.hub.BroadcastJSON(sessionID, protocol.DocumentUpdatedMessage{
			BaseMessage:     base(protocol.TypeDocumentUpdated, sessionID),
			Version:         res.Version,
			ChangedElements: res.ChangedElements,
			DeletedIDs:      res.DeletedIDs,
		})
	}
	return nil
}

// Pause pauses the session and broadcasts the new status.
func (c *Coordinator) Pause(ctx context.Context, sessionID string) (*domain.Session, error) {
	return c.transition(ctx, sessionID, c.lifecycle.Pause)
}

// Resume resumes the session and broadcasts the new status.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) (*domain.Session, error) {
	return c.transition(ctx, sessionID, c.lifecycle.Resume)
}

// End completes the session, broadcasts the final status with duration and
// summary, and drops the cached document.
func (c *Coordinator) End(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := c.transition(ctx, sessionID, c.lifecycle.End)
	if err != nil {
		return nil, err
	}
	c.dropBoard(sessionID)
	return sess, nil
}

func (c *Coordinator) transition(ctx context.Context, sessionID string,
	op func(context.Context, string) (*domain.Session, error)) (*domain.Session, error) {
	slot := c.slot(sessionID)
	slot.Lock()
	defer slot.Unlock()

	sess, err := op(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrStorageFailure) {
			c.broadcastError(sessionID, protocol.ErrorCodeStorage, "session could not be saved")
		}
		return nil, err
	}

	c.hub.BroadcastJSON(sessionID, protocol.StatusChangedMessage{
		BaseMessage:     base(protocol.TypeStatusChanged, sessionID),
		Status:          sess.Status,
		DurationMinutes: sess.DurationMinutes,
		Summary:         sess.Summary,
	})
	return sess, nil
}

// DeleteSession removes the session, its turns and its whiteboard.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) error {
	slot := c.slot(sessionID)
	slot.Lock()
	defer slot.Unlock()

	if err := c.lifecycle.Delete(ctx, sessionID); err != nil {
		return err
	}
	c.dropBoard(sessionID)
	return nil
}

func (c *Coordinator) broadcastTurn(sessionID string, turn *domain.Turn) {
	c.hub.BroadcastJSON(sessionID, protocol.TurnAddedMessage{
		BaseMessage: base(protocol.TypeTurnAdded, sessionID),
		Turn:        turn,
	})
}

func (c *Coordinator) broadcastError(sessionID, code, message string) {
	c.hub.BroadcastJSON(sessionID, protocol.ErrorMessage{
		BaseMessage: base(protocol.TypeError, sessionID),
		Code:        code,
		Message:     message,
	})
}

func base(msgType, sessionID string) protocol.BaseMessage {
	return protocol.BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		SessionID: sessionID,
	}
}
