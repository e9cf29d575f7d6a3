package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nigamk1/tutorboard/domain"
)

// Voice is the boundary to the external speech service. The core only ever
// stores artifact references and transcript text, never audio bytes.
type Voice interface {
	// Synthesize turns text into speech and returns an audio-artifact
	// reference held by the voice service.
	Synthesize(ctx context.Context, text, language string) (string, error)
	// Transcribe resolves an audio-artifact reference to its transcript.
	Transcribe(ctx context.Context, audioRef, language string) (string, error)
}

// VoiceClient talks to the voice service over HTTP.
type VoiceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewVoiceClient creates a voice client. An empty baseURL yields a client
// whose calls fail; callers treat voice as optional.
func NewVoiceClient(baseURL, apiKey string, timeout time.Duration) *VoiceClient {
	return &VoiceClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type synthesizeResponse struct {
	AudioRef string `json:"audio_ref"`
}

type transcribeRequest struct {
	AudioRef string `json:"audio_ref"`
	Language string `json:"language,omitempty"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type voiceErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Synthesize requests speech synthesis for text.
func (c *VoiceClient) Synthesize(ctx context.Context, text, language string) (string, error) {
	var resp synthesizeResponse
	if err := c.post(ctx, "/v1/audio/speech", synthesizeRequest{Text: text, Language: language}, &resp); err != nil {
		return "", err
	}
	return resp.AudioRef, nil
}

// Transcribe requests transcription of a stored audio artifact.
func (c *VoiceClient) Transcribe(ctx context.Context, audioRef, language string) (string, error) {
	var resp transcribeResponse
	if err := c.post(ctx, "/v1/audio/transcriptions", transcribeRequest{AudioRef: audioRef, Language: language}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *VoiceClient) post(ctx context.Context, path string, reqBody, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: voice service not configured", domain.ErrUpstreamFailure)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", domain.ErrUpstreamFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp voiceErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("%w: voice API error [%d]: %s", domain.ErrUpstreamFailure, resp.StatusCode, errResp.Error.Message)
		}
		return fmt.Errorf("%w: voice API error [%d]: %s", domain.ErrUpstreamFailure, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", domain.ErrUpstreamFailure, err)
	}
	return nil
}
