// Package session implements the session lifecycle state machine:
// active -> paused -> active (resume), active/paused -> completed (terminal).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nigamk1/tutorboard/domain"
	"github.com/nigamk1/tutorboard/store"
	"github.com/nigamk1/tutorboard/whiteboard"
)

// SummaryFallback is stored when summary generation fails. Summary failure is
// never fatal to session completion.
const SummaryFallback = "Session completed. Summary unavailable."

// Summarizer produces a closing summary over a session's full turn history.
type Summarizer interface {
	Summarize(ctx context.Context, session *domain.Session, turns []domain.Turn) (string, error)
}

// Manager drives lifecycle transitions and their side effects.
type Manager struct {
	store      store.Store
	summarizer Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a lifecycle manager. summarizer may be nil, in which
// case ended sessions always receive the fallback summary.
func NewManager(st store.Store, summarizer Summarizer, logger *slog.Logger) *Manager {
	return &Manager{
		store:      st,
		summarizer: summarizer,
		logger:     logger,
		now:        time.Now,
	}
}

// StartOptions configures a new session.
type StartOptions struct {
	OwnerID    string
	Subject    string
	Language   string
	Difficulty string
}

// Start creates a session in the active state together with its empty
// whiteboard document at version 1. The two are created and destroyed
// together.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*domain.Session, error) {
	session := &domain.Session{
		SessionID:  "sess_" + uuid.New().String()[:8],
		OwnerID:    opts.OwnerID,
		Subject:    opts.Subject,
		Language:   opts.Language,
		Difficulty: opts.Difficulty,
		Status:     domain.StatusActive,
		StartedAt:  m.now(),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	doc := whiteboard.New(session.SessionID, m.logger)
	if err := m.store.CreateWhiteboard(ctx, doc.Snapshot()); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	m.logger.Info("session started",
		"session_id", session.SessionID, "owner_id", opts.OwnerID, "subject", opts.Subject)
	return session, nil
}

// Pause moves an active session to paused. Pausing does not stop the
// duration clock.
func (m *Manager) Pause(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.flip(ctx, sessionID, domain.StatusActive, domain.StatusPaused)
}

// Resume moves a paused session back to active.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.flip(ctx, sessionID, domain.StatusPaused, domain.StatusActive)
}

func (m *Manager) flip(ctx context.Context, sessionID string, from, to domain.SessionStatus) (*domain.Session, error) {
	session, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, session.Status, to)
	}
	if err := m.store.SetSessionStatus(ctx, sessionID, to); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	session.Status = to
	return session, nil
}

// End completes a session from active or paused. Duration is wall-clock
// elapsed from start to end in whole minutes; pauses do not stop the clock.
// Summary generation runs over the full turn history; on failure the fixed
// fallback string is stored and the session still completes.
func (m *Manager) End(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusCompleted {
		return nil, domain.ErrAlreadyCompleted
	}

	endedAt := m.now()
	duration := int(endedAt.Sub(session.StartedAt).Minutes())

	summary := SummaryFallback
	if m.summarizer != nil {
		turns, err := m.store.GetTurns(ctx, sessionID, 0, "")
		if err != nil {
			m.logger.Warn("failed to load turns for summary", "session_id", sessionID, "error", err)
		} else if text, err := m.summarizer.Summarize(ctx, session, turns); err != nil {
			m.logger.Warn("summary generation failed", "session_id", sessionID, "error", err)
		} else if text != "" {
			summary = text
		}
	}

	if err := m.store.CompleteSession(ctx, sessionID, endedAt, duration, summary); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	session.Status = domain.StatusCompleted
	session.EndedAt = &endedAt
	session.DurationMinutes = &duration
	session.Summary = summary

	m.logger.Info("session completed",
		"session_id", sessionID, "duration_minutes", duration)
	return session, nil
}

// Delete removes a session along with its turns and whiteboard document.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	session, err := m.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, session.SessionID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	m.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

func (m *Manager) get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}
