package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/storage"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	// pcm_16000 is raw 16-bit mono PCM at the call's sample rate; we wrap it
	// in a WAV header ourselves so the media stack can play it directly.
	outputFormat = "pcm_16000"
	sampleRate   = 16000
)

// Synthesizer converts reply text into a playable audio file. Failure means
// "no audio produced"; callers skip playback and keep the call alive.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Client is an ElevenLabs text-to-speech client writing WAV files into a
// temp directory.
type Client struct {
	BaseURL    string
	APIKey     string
	VoiceID    string
	ModelID    string
	OutputDir  string
	HTTPClient *http.Client
}

// NewClient creates an ElevenLabs TTS client. The output directory is
// created on first use.
func NewClient(apiKey, voiceID, modelID, outputDir string) *Client {
	return &Client{
		BaseURL:    "https://api.elevenlabs.io",
		APIKey:     apiKey,
		VoiceID:    voiceID,
		ModelID:    modelID,
		OutputDir:  outputDir,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability float64 `json:"stability"`
	Speed     float64 `json:"speed"`
}

// Synthesize converts text to speech and returns the path of the produced
// WAV file.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("empty text for synthesis")
	}

	payload, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: c.ModelID,
		VoiceSettings: voiceSettings{
			Stability: 0.4,
			Speed:     1.07,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.BaseURL, c.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	q := req.URL.Query()
	q.Set("output_format", outputFormat)
	q.Set("optimize_streaming_latency", "3")
	req.URL.RawQuery = q.Encode()

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("synthesis returned status %d: %s", resp.StatusCode, string(body))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tts output dir: %w", err)
	}
	path := filepath.Join(c.OutputDir, fmt.Sprintf("tts_%d.wav", time.Now().UnixMilli()))
	if err := storage.WriteWAV(path, pcm, sampleRate, 1); err != nil {
		return "", err
	}

	logger.Base().Info("Synthesized reply audio",
		zap.String("path", path),
		zap.Int("pcm_bytes", len(pcm)),
		zap.Duration("latency", time.Since(start)))
	return path, nil
}
