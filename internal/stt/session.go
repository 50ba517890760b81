package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sampleRate = 16000
	channels   = 1
	chunkSize  = 2048

	// The sender tails the live recording file; when no new bytes are
	// available it backs off up to the cap instead of busy-spinning.
	basePollInterval = 100 * time.Millisecond
	maxPollInterval  = 500 * time.Millisecond

	// Recordings are WAV; the PCM payload starts past the header.
	wavHeaderOffset = 44

	defaultBaseWSURL = "wss://api.deepgram.com/v1/listen"
)

// Config holds the Deepgram connection settings.
type Config struct {
	APIKey    string
	Language  string
	Model     string
	BaseWSURL string // overridable for tests
}

// UtteranceHandler receives each finalized utterance. Called from the
// session's receive goroutine, in provider finalization order.
type UtteranceHandler func(u domain.Utterance)

// Session is one duplex streaming transcription connection for a single
// call. Connect pre-establishes the socket so the first caller utterance is
// not lost during the handshake; StartStreaming begins the send/receive
// tasks. On any connection error the session goes inert: no more utterances
// are delivered, the call itself continues.
type Session struct {
	conn    *websocket.Conn
	wavPath string
	handler UtteranceHandler

	writeMu sync.Mutex

	stop       chan struct{}
	senderDone chan struct{}
	closeOnce  sync.Once
	startOnce  sync.Once
	streaming  atomic.Bool
}

// Connect dials the streaming endpoint. The session is connected but not
// yet streaming.
func Connect(ctx context.Context, cfg Config, wavPath string, handler UtteranceHandler) (*Session, error) {
	base := cfg.BaseWSURL
	if base == "" {
		base = defaultBaseWSURL
	}

	q := url.Values{}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("channels", fmt.Sprintf("%d", channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("utterance_end_ms", "2000")
	q.Set("endpointing", "300")
	q.Set("vad_events", "true")
	q.Set("language", cfg.Language)
	q.Set("model", cfg.Model)

	header := http.Header{}
	header.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, base+"?"+q.Encode(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect transcription stream: %w", err)
	}
	logger.Base().Info("Transcription stream connected", zap.String("wav", wavPath))

	return &Session{
		conn:       conn,
		wavPath:    wavPath,
		handler:    handler,
		stop:       make(chan struct{}),
		senderDone: make(chan struct{}),
	}, nil
}

// StartStreaming launches the sender and receiver tasks. Idempotent.
func (s *Session) StartStreaming() {
	s.startOnce.Do(func() {
		s.streaming.Store(true)
		go s.sendLoop()
		go s.receiveLoop()
	})
}

// sendLoop tails the live recording file and forwards fixed-size PCM chunks.
func (s *Session) sendLoop() {
	defer close(s.senderDone)

	f, err := os.Open(s.wavPath)
	if err != nil {
		logger.Base().Error("Failed to open recording for streaming", zap.String("wav", s.wavPath), zap.Error(err))
		return
	}
	defer f.Close()

	position := int64(wavHeaderOffset)
	delay := basePollInterval
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		n, err := f.ReadAt(buf, position)
		if n > 0 {
			if err := s.writeBinary(buf[:n]); err != nil {
				logger.Base().Error("Transcription send failed, stream inert", zap.Error(err))
				return
			}
			position += int64(n)
			delay = basePollInterval
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Base().Error("Failed to read recording", zap.Error(err))
			return
		}

		// Nothing new yet: back off, capped.
		select {
		case <-s.stop:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxPollInterval {
			delay = maxPollInterval
		}
	}
}

// providerEvent covers the three event kinds the stream delivers.
type providerEvent struct {
	Type        string  `json:"type"`
	Timestamp   float64 `json:"timestamp"`
	LastWordEnd float64 `json:"last_word_end"`
	IsFinal     bool    `json:"is_final"`
	Channel     *struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// receiveLoop consumes provider events. The fragment buffer is touched only
// here.
func (s *Session) receiveLoop() {
	var buffer []string

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
				// expected during teardown
			default:
				logger.Base().Error("Transcription receive failed, stream inert", zap.Error(err))
			}
			return
		}

		var event providerEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Base().Error("Failed to decode transcription event", zap.Error(err))
			continue
		}

		switch {
		case event.Type == "SpeechStarted":
			logger.Base().Debug("Speech started", zap.Float64("timestamp", event.Timestamp))

		case event.Type == "UtteranceEnd":
			text := strings.TrimSpace(strings.Join(buffer, " "))
			buffer = buffer[:0]
			if text == "" {
				continue
			}
			logger.Base().Info("Utterance finalized",
				zap.String("text", text),
				zap.Float64("end_offset", event.LastWordEnd))
			if s.handler != nil {
				s.handler(domain.Utterance{
					Text:       text,
					EndOffset:  event.LastWordEnd,
					ReceivedAt: time.Now(),
				})
			}

		case event.Channel != nil && event.IsFinal:
			if len(event.Channel.Alternatives) == 0 {
				continue
			}
			fragment := strings.TrimSpace(event.Channel.Alternatives[0].Transcript)
			if fragment != "" {
				buffer = append(buffer, fragment)
			}
		}
	}
}

func (s *Session) writeBinary(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close shuts the session down gracefully: stop the sender, send the close
// signal, give the provider a moment to flush, then close the transport.
// Safe to call from any goroutine and safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)

		if s.streaming.Load() {
			// Bounded join on the sender so teardown cannot hang on a stuck read.
			select {
			case <-s.senderDone:
			case <-time.After(time.Second):
				logger.Base().Warn("Transcription sender did not stop in time")
			}
		}

		if err := s.writeJSON(map[string]string{"type": "CloseStream"}); err != nil {
			logger.Base().Debug("Failed to send CloseStream", zap.Error(err))
		}
		time.Sleep(200 * time.Millisecond)

		if err := s.conn.Close(); err != nil {
			logger.Base().Debug("Failed to close transcription socket", zap.Error(err))
		}
		logger.Base().Info("Transcription stream closed")
	})
}
