package call

import (
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/adapters/sip"
	"github.com/ClareAI/astra-sip-agent/internal/storage"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	playbackQueueSize = 16

	// Players report no completion event, so playback lifetime is estimated
	// from the WAV duration plus a small scheduling buffer, with a hard cap
	// against corrupt headers.
	playbackBuffer  = 500 * time.Millisecond
	playbackCeiling = 60 * time.Second
)

// PlaybackQueue serializes synthesized replies into the call. Enqueue is
// safe from any goroutine; Drain must run on the media thread and starts at
// most one new playback per tick, stopping the previous player first.
type PlaybackQueue struct {
	pending chan string

	player   sip.Player
	deadline time.Time
}

func NewPlaybackQueue() *PlaybackQueue {
	return &PlaybackQueue{pending: make(chan string, playbackQueueSize)}
}

// Enqueue schedules a WAV file for playback. Files queued while the queue
// is full are dropped with a log line rather than blocking the producer.
func (q *PlaybackQueue) Enqueue(wavPath string) {
	select {
	case q.pending <- wavPath:
	default:
		logger.Base().Warn("Playback queue full, dropping reply", zap.String("wav", wavPath))
	}
}

// Drain advances playback by one step. With a nil media session queued files
// are discarded: there is no call to play them into.
func (q *PlaybackQueue) Drain(media sip.MediaSession) {
	if media == nil {
		q.discard()
		return
	}

	if q.player != nil && time.Now().After(q.deadline) {
		q.stopActive()
	}

	select {
	case path := <-q.pending:
		q.start(media, path)
	default:
	}
}

// Stop halts the active playback and discards anything still queued.
func (q *PlaybackQueue) Stop() {
	q.stopActive()
	q.discard()
}

func (q *PlaybackQueue) start(media sip.MediaSession, path string) {
	q.stopActive()

	player, err := media.NewPlayer(path, false)
	if err != nil {
		logger.Base().Error("Failed to start playback", zap.String("wav", path), zap.Error(err))
		return
	}

	duration, err := storage.WAVDuration(path)
	if err != nil {
		logger.Base().Warn("Unreadable WAV duration, using ceiling", zap.String("wav", path), zap.Error(err))
		duration = playbackCeiling
	}
	duration += playbackBuffer
	if duration > playbackCeiling {
		duration = playbackCeiling
	}

	q.player = player
	q.deadline = time.Now().Add(duration)
	logger.Base().Info("Playback started", zap.String("wav", path), zap.Duration("duration", duration))
}

func (q *PlaybackQueue) stopActive() {
	if q.player == nil {
		return
	}
	if err := q.player.Stop(); err != nil {
		logger.Base().Warn("Failed to stop player", zap.Error(err))
	}
	q.player = nil
}

func (q *PlaybackQueue) discard() {
	for {
		select {
		case path := <-q.pending:
			logger.Base().Debug("Discarding queued playback, no active call", zap.String("wav", path))
		default:
			return
		}
	}
}
