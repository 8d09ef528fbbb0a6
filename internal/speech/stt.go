// ABOUTME: HTTP client for a whisper-server style speech-to-text engine
// ABOUTME: Posts WAV audio to /inference and returns the transcribed text

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/internal/backend"
)

// STTClient implements backend.Transcriber against a whisper-server style
// HTTP endpoint. The engine is GPU-resident, so callers must ride the gpu
// queue; the client itself just blocks for the duration of the request.
type STTClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewSTT creates a transcription client for the given server URL.
func NewSTT(baseURL string, timeout time.Duration) *STTClient {
	return &STTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "stt"),
	}
}

// Transcribe sends WAV bytes and returns the recognized text.
func (c *STTClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", backend.Permanent(errors.New("empty audio payload"))
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("building form: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if err := form.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("writing field: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", backend.Transient(fmt.Errorf("stt request: %w", err))
	}
	defer resp.Body.Close()

	if err := statusToError(resp); err != nil {
		return "", err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backend.Transient(fmt.Errorf("decoding stt response: %w", err))
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		// The engine understood the request but heard nothing usable
		return "", backend.Permanent(errors.New("no speech recognized"))
	}

	c.logger.Debug("transcription finished",
		"audio_bytes", len(wav), "text_len", len(text), "duration", time.Since(started))
	return text, nil
}

// statusToError maps HTTP status codes onto the retry taxonomy.
// Shared by the STT and TTS clients.
func statusToError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return backend.Transient(fmt.Errorf("engine returned %s", resp.Status))
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backend.Permanent(fmt.Errorf("engine rejected request: %s: %s", resp.Status, detail))
	}
}
