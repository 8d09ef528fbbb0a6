// ABOUTME: HTTP client for a text-to-speech engine
// ABOUTME: Posts reply text to /api/tts and returns the synthesized audio bytes

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/internal/backend"
)

// TTSClient implements backend.Synthesizer against an HTTP TTS engine.
type TTSClient struct {
	baseURL string
	voice   string
	http    *http.Client
	logger  *slog.Logger
}

// NewTTS creates a synthesis client for the given server URL. voice selects
// the engine voice and may be empty for the engine default.
func NewTTS(baseURL, voice string, timeout time.Duration) *TTSClient {
	return &TTSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		voice:   voice,
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "tts"),
	}
}

// Synthesize turns reply text into audio bytes.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, backend.Permanent(errors.New("empty synthesis text"))
	}

	payload, err := json.Marshal(map[string]string{
		"text":  text,
		"voice": c.voice,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, backend.Transient(fmt.Errorf("tts request: %w", err))
	}
	defer resp.Body.Close()

	if err := statusToError(resp); err != nil {
		return nil, err
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Transient(fmt.Errorf("reading tts response: %w", err))
	}
	if len(audio) == 0 {
		return nil, backend.Permanent(errors.New("engine produced no audio"))
	}

	c.logger.Debug("synthesis finished",
		"text_len", len(text), "audio_bytes", len(audio), "duration", time.Since(started))
	return audio, nil
}
