// Package conversation maintains the bounded recent-context window used to
// prime the AI call, without holding a session's full history in memory.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nigamk1/tutorboard/domain"
	"github.com/nigamk1/tutorboard/store"
)

// DefaultWindowSize is the number of trailing turns exposed for AI-context
// construction. A tunable constant, not computed dynamically.
const DefaultWindowSize = 5

// Window records turns and exposes the trailing context for a session.
type Window struct {
	store  store.Store
	size   int
	logger *slog.Logger
}

// NewWindow creates a window over the given store. size <= 0 falls back to
// DefaultWindowSize.
func NewWindow(st store.Store, size int, logger *slog.Logger) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{store: st, size: size, logger: logger}
}

// Size returns the configured window size.
func (w *Window) Size() int { return w.size }

// Record appends a turn to the session's log and updates the session's
// aggregate counters. Turns are immutable once recorded.
func (w *Window) Record(ctx context.Context, turn *domain.Turn) error {
	session, err := w.store.GetSession(ctx, turn.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}

	if err := w.store.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	questions := 0
	if strings.Contains(turn.ContextText(), "?") {
		questions = 1
	}
	if err := w.store.IncrementCounters(ctx, turn.SessionID, 1, questions); err != nil {
		// Counter drift is tolerable; the turn itself is already durable.
		w.logger.Warn("failed to update session counters",
			"session_id", turn.SessionID, "error", err)
	}
	return nil
}

// RecentContext returns the text of the trailing n turns, oldest first, with
// empty entries filtered out. Turns without text fall back to their audio
// transcript. The result is a fresh copy on every call; requesting it has no
// side effects.
func (w *Window) RecentContext(ctx context.Context, sessionID string, n int) ([]string, error) {
	if n <= 0 {
		n = w.size
	}
	turns, err := w.store.RecentTurns(ctx, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	texts := make([]string, 0, len(turns))
	for _, turn := range turns {
		if text := turn.ContextText(); text != "" {
			texts = append(texts, text)
		}
	}
	return texts, nil
}
