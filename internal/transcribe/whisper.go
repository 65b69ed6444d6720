// Package transcribe calls an OpenAI-compatible /v1/audio/transcriptions
// endpoint (whisper.cpp server, speaches, or the hosted API).
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrModelUnavailable means the endpoint or requested model is not
	// reachable right now.
	ErrModelUnavailable = errors.New("transcription model unavailable")
	// ErrDecodeFailure means the endpoint rejected or failed to decode the
	// audio.
	ErrDecodeFailure = errors.New("transcription decode failed")
)

// WhisperClient implements ports.Transcriber over HTTP multipart uploads.
type WhisperClient struct {
	url    string
	apiKey string
	client *http.Client
}

type whisperResponse struct {
	Text string `json:"text"`
}

func NewWhisperClient(baseURL string, apiKey string, timeout time.Duration) *WhisperClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WhisperClient{
		url:    endpointURL(baseURL),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// endpointURL appends the transcription path to a bare base URL. URLs that
// already name a path are used as-is.
func endpointURL(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Path != "" && parsed.Path != "/") {
		return baseURL
	}
	parsed.Path = "/v1/audio/transcriptions"
	return parsed.String()
}

// Transcribe uploads the audio file and returns the transcribed text.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, model string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}
	if model != "" {
		w.WriteField("model", model)
	}
	w.WriteField("response_format", "json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if wc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+wc.apiKey)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return "", fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, resp.StatusCode, bytes.TrimSpace(body))
	default:
		return "", fmt.Errorf("%w: status %d: %s", ErrDecodeFailure, resp.StatusCode, bytes.TrimSpace(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return result.Text, nil
}
