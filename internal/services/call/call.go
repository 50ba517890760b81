package call

import (
	"sync"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/adapters/sip"
	"github.com/ClareAI/astra-sip-agent/internal/agent"
	"github.com/ClareAI/astra-sip-agent/internal/stt"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

// Call is the live state of one phone call: the media handle, the recorder
// feeding the transcription session, the dialog coordinator, and the
// playback queue. Fields other than the registries below are owned by the
// controller and mutated only from the media thread.
type Call struct {
	ID           string
	LeadID       int
	CallerNumber string
	StartedAt    time.Time

	Media       sip.MediaSession
	Recorder    sip.Recorder
	STT         *stt.Session
	Coordinator *agent.Coordinator
	Playback    *PlaybackQueue

	Ringback sip.Player

	// stop aborts the CRM resolution task when the call ends first.
	stop     chan struct{}
	stopOnce sync.Once

	teardownOnce sync.Once
}

func newCall(id, callerNumber string, media sip.MediaSession) *Call {
	return &Call{
		ID:           id,
		CallerNumber: callerNumber,
		StartedAt:    time.Now(),
		Media:        media,
		Playback:     NewPlaybackQueue(),
		stop:         make(chan struct{}),
	}
}

// Stopped reports whether the call has been told to stop resolving.
func (c *Call) Stopped() <-chan struct{} {
	return c.stop
}

func (c *Call) signalStop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// StopRingback stops the hold tone, if one is playing.
func (c *Call) StopRingback() {
	if c.Ringback == nil {
		return
	}
	if err := c.Ringback.Stop(); err != nil {
		logger.Base().Warn("Failed to stop ringback", zap.String("call_id", c.ID), zap.Error(err))
	}
	c.Ringback = nil
}

// Teardown releases the call's resources in dependency order: transcription
// first so no more utterances fire, then recording, playback, and finally
// the media session. Idempotent; later calls are no-ops.
func (c *Call) Teardown() {
	c.teardownOnce.Do(func() {
		c.signalStop()

		if c.STT != nil {
			c.STT.Close()
		}
		if c.Recorder != nil {
			if err := c.Recorder.Stop(); err != nil {
				logger.Base().Warn("Failed to stop recorder", zap.String("call_id", c.ID), zap.Error(err))
			}
		}
		c.StopRingback()
		if c.Playback != nil {
			c.Playback.Stop()
		}
		if err := c.Media.Hangup(); err != nil {
			logger.Base().Debug("Hangup on ended call", zap.String("call_id", c.ID), zap.Error(err))
		}
		logger.Base().Info("Call torn down",
			zap.String("call_id", c.ID),
			zap.Int("lead_id", c.LeadID),
			zap.Duration("duration", time.Since(c.StartedAt)))
	})
}
