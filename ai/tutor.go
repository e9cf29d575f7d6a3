// Package ai holds the clients for the external AI and voice collaborators.
// The core treats both as opaque, possibly-slow, possibly-failing calls.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/nigamk1/tutorboard/domain"
)

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// TutorConfig configures the tutor client. Constructed once at process start
// and passed by reference; there are no package-level singletons.
type TutorConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// TutorRequest is the input to one AI teaching turn.
type TutorRequest struct {
	Context    []string
	Whiteboard domain.WhiteboardSnapshot
	Subject    string
	Difficulty string
	Language   string
}

// TutorReply is the structured response of one AI teaching turn.
type TutorReply struct {
	SpokenText string           `json:"spoken_text"`
	Commands   []domain.Command `json:"commands,omitempty"`
	Emotion    string           `json:"emotion,omitempty"`
	Confidence float64          `json:"confidence"`
	Topic      string           `json:"topic,omitempty"`
}

// Tutor generates teaching turns and session summaries.
type Tutor interface {
	Respond(ctx context.Context, req TutorRequest) (*TutorReply, error)
	Summarize(ctx context.Context, session *domain.Session, turns []domain.Turn) (string, error)
}

// LLMTutor implements Tutor on top of langchaingo.
type LLMTutor struct {
	llm       llms.Model
	modelName string
}

// NewLLMTutor creates a tutor client for the configured provider.
func NewLLMTutor(cfg TutorConfig) (*LLMTutor, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &LLMTutor{llm: model, modelName: cfg.Model}, nil
}

const respondSystemPrompt = `You are an AI teacher sharing a virtual whiteboard with a student.
Respond with a single JSON object, no surrounding prose:
{
  "spoken_text": "what you say to the student",
  "commands": [{"action":"add|update|delete|move","id":"...","kind":"line|rectangle|circle|arrow|text|image|formula","position":{"x":0,"y":0},"props":{}}],
  "emotion": "one of: neutral, encouraging, excited, thoughtful",
  "confidence": 0.0,
  "topic": "short topic label for this exchange"
}
Commands draw on the shared whiteboard; use an empty array when nothing should be drawn.
Keep spoken_text conversational and suited to the student's level.`

// Respond produces the next teaching turn from the recent conversation
// context and the current whiteboard snapshot.
func (t *LLMTutor) Respond(ctx context.Context, req TutorRequest) (*TutorReply, error) {
	board, err := json.Marshal(req.Whiteboard.Elements)
	if err != nil {
		return nil, fmt.Errorf("marshal whiteboard: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nDifficulty: %s\nLanguage: %s\n\n", req.Subject, req.Difficulty, req.Language)
	fmt.Fprintf(&b, "Whiteboard elements (version %d):\n%s\n\nRecent conversation, oldest first:\n", req.Whiteboard.Version, board)
	for _, line := range req.Context {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\nJSON response:")

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, respondSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, b.String()),
	}

	resp, err := t.llm.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response choices", domain.ErrUpstreamFailure)
	}

	reply, err := parseReply(resp.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	return reply, nil
}

// Summarize generates a closing summary over the full turn history.
func (t *LLMTutor) Summarize(ctx context.Context, session *domain.Session, turns []domain.Turn) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this %s tutoring session in 2-3 sentences for the student's records.\n\n", session.Subject)
	for _, turn := range turns {
		if text := turn.ContextText(); text != "" {
			fmt.Fprintf(&b, "[%s] %s\n", turn.Origin, text)
		}
	}

	resp, err := llms.GenerateFromSinglePrompt(ctx, t.llm, b.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	return strings.TrimSpace(resp), nil
}

// Model returns the configured model name.
func (t *LLMTutor) Model() string { return t.modelName }

// parseReply extracts the JSON reply, tolerating markdown code fences around
// it, and clamps confidence into [0,1].
func parseReply(raw string) (*TutorReply, error) {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	text = strings.TrimSpace(text)

	var reply TutorReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("unparseable tutor reply: %w", err)
	}
	if reply.Confidence < 0 {
		reply.Confidence = 0
	}
	if reply.Confidence > 1 {
		reply.Confidence = 1
	}
	return &reply, nil
}
