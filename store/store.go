// Package store defines the persistence interface and its SQLite
// implementation. The core only ever touches this narrow repository surface,
// never a storage engine directly.
package store

import (
	"context"
	"time"

	"github.com/nigamk1/tutorboard/domain"
)

// Store is the repository interface the session core depends on.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	SetSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error
	CompleteSession(ctx context.Context, sessionID string, endedAt time.Time, durationMinutes int, summary string) error
	IncrementCounters(ctx context.Context, sessionID string, messages, questions int) error
	AddTopic(ctx context.Context, sessionID, topic string) error
	DeleteSession(ctx context.Context, sessionID string) error

	// Turn operations
	AppendTurn(ctx context.Context, turn *domain.Turn) error
	GetTurns(ctx context.Context, sessionID string, limit int, before string) ([]domain.Turn, error)
	RecentTurns(ctx context.Context, sessionID string, n int) ([]domain.Turn, error)

	// Whiteboard operations
	CreateWhiteboard(ctx context.Context, snap domain.WhiteboardSnapshot) error
	GetWhiteboard(ctx context.Context, sessionID string) (*domain.WhiteboardSnapshot, error)
	ReplaceElements(ctx context.Context, snap domain.WhiteboardSnapshot) error

	// Lifecycle
	Close() error
}
