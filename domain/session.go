// Package domain defines the core domain models for the tutoring service.
package domain

import (
	"time"
)

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
)

// Session is the top-level conversation + whiteboard context between one
// learner and the AI teacher.
type Session struct {
	SessionID  string        `json:"session_id"`
	OwnerID    string        `json:"owner_id"`
	Subject    string        `json:"subject"`
	Language   string        `json:"language"`
	Difficulty string        `json:"difficulty"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`

	// DurationMinutes is nil until the session completes. Once set it is
	// fixed and the status never reverts.
	DurationMinutes *int `json:"duration_minutes,omitempty"`

	MessageCount  int      `json:"message_count"`
	QuestionCount int      `json:"question_count"`
	Topics        []string `json:"topics,omitempty"`
	Summary       string   `json:"summary,omitempty"`
}

// TurnOrigin identifies who authored a turn.
type TurnOrigin string

const (
	OriginUser   TurnOrigin = "user"
	OriginAI     TurnOrigin = "ai"
	OriginSystem TurnOrigin = "system"
)

// Turn is one immutable message in a session's conversation. AI-origin turns
// carry the whiteboard command batch that was produced together with the
// spoken text (may be empty).
type Turn struct {
	TurnID     string     `json:"turn_id"`
	SessionID  string     `json:"session_id"`
	Origin     TurnOrigin `json:"origin"`
	Text       string     `json:"text,omitempty"`
	AudioRef   string     `json:"audio_ref,omitempty"`
	Transcript string     `json:"transcript,omitempty"`
	Commands   []Command  `json:"commands,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ContextText returns the text used when priming the AI call: the turn's
// text, falling back to the audio transcript when text is absent.
func (t *Turn) ContextText() string {
	if t.Text != "" {
		return t.Text
	}
	return t.Transcript
}
