package call

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/adapters/crm"
	"github.com/ClareAI/astra-sip-agent/internal/adapters/sip"
	"github.com/ClareAI/astra-sip-agent/internal/agent"
	"github.com/ClareAI/astra-sip-agent/internal/core/session"
	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/internal/funnel"
	"github.com/ClareAI/astra-sip-agent/internal/llm"
	"github.com/ClareAI/astra-sip-agent/internal/repository"
	"github.com/ClareAI/astra-sip-agent/internal/stt"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CRMGateway is the CRM surface the call lifecycle needs.
type CRMGateway interface {
	FindContactByPhone(ctx context.Context, phone string) (*crm.Contact, error)
	UpdateLeadStatus(ctx context.Context, leadID, statusID int) error
	WriteField(ctx context.Context, leadID, fieldID int, fieldType domain.FieldType, value string, choices []domain.EnumChoice) error
}

// SessionRegistry publishes live call sessions for external visibility.
type SessionRegistry interface {
	Register(ctx context.Context, info session.CallInfo) error
	Unregister(ctx context.Context, sessionID string) error
}

// ControllerConfig carries the tunables the lifecycle depends on.
type ControllerConfig struct {
	ResolveAttempts int
	ResolveBackoff  time.Duration
	RecordingsDir   string
	RingbackPath    string
	STT             stt.Config
}

// Controller drives the life of each call: resolve the caller to a CRM lead
// while a hold tone plays, pre-connect transcription, answer, wire recording
// into the recognizer, and on disconnect tear everything down and kick off
// post-call analysis. Signaling callbacks and Tick run on the media thread;
// only the CRM resolution and post-call work run in background tasks, and
// they re-enter the media thread through the action queue.
type Controller struct {
	cfg ControllerConfig

	crm       CRMGateway
	model     llm.Client
	tts       agent.Synthesizer
	funnelCfg *funnel.EnrichedConfig
	history   *agent.HistoryStore
	analyzer  *agent.Analyzer

	registry *Registry
	sessions SessionRegistry                    // optional
	repo     repository.CallRepositoryInterface // optional

	actions chan func()
}

func NewController(
	cfg ControllerConfig,
	crmGateway CRMGateway,
	model llm.Client,
	tts agent.Synthesizer,
	funnelCfg *funnel.EnrichedConfig,
	history *agent.HistoryStore,
	analyzer *agent.Analyzer,
	registry *Registry,
	sessions SessionRegistry,
	repo repository.CallRepositoryInterface,
) *Controller {
	if cfg.ResolveAttempts <= 0 {
		cfg.ResolveAttempts = 5
	}
	if cfg.ResolveBackoff <= 0 {
		cfg.ResolveBackoff = 700 * time.Millisecond
	}
	return &Controller{
		cfg:       cfg,
		crm:       crmGateway,
		model:     model,
		tts:       tts,
		funnelCfg: funnelCfg,
		history:   history,
		analyzer:  analyzer,
		registry:  registry,
		sessions:  sessions,
		repo:      repo,
		actions:   make(chan func(), 32),
	}
}

// Registry exposes the current-call slot for the observation API.
func (ctl *Controller) CallRegistry() *Registry {
	return ctl.registry
}

// post schedules fn onto the media thread. Dropped with a log line when the
// queue is saturated, which only happens if Tick stopped running.
func (ctl *Controller) post(fn func()) {
	select {
	case ctl.actions <- fn:
	default:
		logger.Base().Error("Media action queue full, dropping action")
	}
}

// Tick runs one media-thread iteration: apply pending actions, then advance
// playback for the active call.
func (ctl *Controller) Tick() {
	for {
		select {
		case fn := <-ctl.actions:
			fn()
		default:
			if c := ctl.registry.Current(); c != nil {
				c.Playback.Drain(c.Media)
			}
			return
		}
	}
}

// OnIncomingCall handles a new inbound call: install it as the current call,
// start the hold tone, and resolve the caller in the background.
func (ctl *Controller) OnIncomingCall(media sip.MediaSession) {
	caller := sip.CallerNumber(media.RemoteURI())
	c := newCall(uuid.NewString(), caller, media)
	logger.Base().Info("Incoming call",
		zap.String("call_id", c.ID),
		zap.String("caller", caller),
		zap.String("remote_uri", media.RemoteURI()))

	if prev := ctl.registry.Swap(c); prev != nil {
		logger.Base().Warn("Replacing previous call", zap.String("prev_call_id", prev.ID))
		prev.Teardown()
	}

	if ctl.cfg.RingbackPath != "" {
		player, err := media.NewPlayer(ctl.cfg.RingbackPath, true)
		if err != nil {
			logger.Base().Warn("Failed to start ringback", zap.Error(err))
		} else {
			c.Ringback = player
		}
	}

	go ctl.resolveAndAnswer(c)
}

// OnCallState reacts to signaling transitions; only disconnect matters here.
func (ctl *Controller) OnCallState(media sip.MediaSession, state sip.SignalState) {
	logger.Base().Debug("Call state", zap.String("state", state.String()))
	if state != sip.StateDisconnected {
		return
	}
	c := ctl.registry.Current()
	if c == nil || c.Media != media {
		return
	}
	ctl.finishCall(c)
}

// OnMediaActive starts recording once the media path is up, and with it the
// transcription stream that tails the recording.
func (ctl *Controller) OnMediaActive(media sip.MediaSession) {
	c := ctl.registry.Current()
	if c == nil || c.Media != media || c.Recorder != nil {
		return
	}
	rec, err := media.NewRecorder(ctl.recordingPath(c.ID))
	if err != nil {
		logger.Base().Error("Failed to start recorder", zap.String("call_id", c.ID), zap.Error(err))
		return
	}
	c.Recorder = rec
	logger.Base().Info("Recording started", zap.String("call_id", c.ID), zap.String("path", rec.Path()))
	if c.STT != nil {
		c.STT.StartStreaming()
	}
}

func (ctl *Controller) recordingPath(callID string) string {
	return filepath.Join(ctl.cfg.RecordingsDir, fmt.Sprintf("call_%s.wav", callID))
}

// resolveAndAnswer looks the caller up in CRM with retries. On success it
// builds the per-call dialog stack and posts the answer onto the media
// thread; on failure the call is rejected.
func (ctl *Controller) resolveAndAnswer(c *Call) {
	ctx := context.Background()

	leadID := ctl.resolveLead(ctx, c)
	if leadID == 0 {
		logger.Base().Warn("Caller not resolved to a lead, rejecting call",
			zap.String("call_id", c.ID), zap.String("caller", c.CallerNumber))
		ctl.post(func() { ctl.rejectCall(c) })
		return
	}

	machine := funnel.NewMachine(ctl.funnelCfg.Stages, &stageNotifier{
		crm:       ctl.crm,
		leadID:    leadID,
		statusIDs: ctl.funnelCfg.StatusIDs,
	})
	coordinator, err := agent.NewCoordinator(leadID, ctl.model, ctl.tts, ctl.crm,
		machine, ctl.history, c.Playback, &turnSink{repo: ctl.repo, sessionID: c.ID})
	if err != nil {
		logger.Base().Error("Failed to build dialog coordinator",
			zap.String("call_id", c.ID), zap.Error(err))
		ctl.post(func() { ctl.rejectCall(c) })
		return
	}

	// Pre-connect transcription before answering so the opening words of the
	// caller are not lost to the websocket handshake. A failed connect is not
	// fatal: the call proceeds without recognition.
	sttSession, err := stt.Connect(ctx, ctl.cfg.STT, ctl.recordingPath(c.ID), dispatchUtterance(coordinator))
	if err != nil {
		logger.Base().Error("Transcription connect failed, call continues without recognition",
			zap.String("call_id", c.ID), zap.Error(err))
	}

	ctl.post(func() {
		select {
		case <-c.Stopped():
			// Call ended while resolving.
			if sttSession != nil {
				sttSession.Close()
			}
			return
		default:
		}

		c.LeadID = leadID
		c.Coordinator = coordinator
		c.STT = sttSession
		c.StopRingback()

		if err := c.Media.Answer(); err != nil {
			logger.Base().Error("Failed to answer call", zap.String("call_id", c.ID), zap.Error(err))
			ctl.rejectCall(c)
			return
		}
		logger.Base().Info("Call answered",
			zap.String("call_id", c.ID), zap.Int("lead_id", leadID))

		// Media may already be active if the transport raised it during the
		// hold tone.
		if c.Recorder != nil && c.STT != nil {
			c.STT.StartStreaming()
		}

		ctl.recordStart(c)
	})
}

// dispatchUtterance hands each finalized utterance to the coordinator on its
// own goroutine. The handler runs on the transcription receive goroutine,
// which must keep reading provider events while a turn blocks on the model;
// overlapping turns are rejected by the coordinator's busy flag.
func dispatchUtterance(coordinator *agent.Coordinator) stt.UtteranceHandler {
	return func(u domain.Utterance) {
		go coordinator.HandleUtterance(context.Background(), u)
	}
}

// resolveLead retries the contact lookup; resolution commonly races the CRM
// webhook that creates the lead, so the first attempts may legitimately miss.
func (ctl *Controller) resolveLead(ctx context.Context, c *Call) int {
	if c.CallerNumber == "" {
		return 0
	}
	for attempt := 1; attempt <= ctl.cfg.ResolveAttempts; attempt++ {
		contact, err := ctl.crm.FindContactByPhone(ctx, c.CallerNumber)
		if err != nil {
			logger.Base().Warn("Contact lookup failed",
				zap.String("caller", c.CallerNumber), zap.Int("attempt", attempt), zap.Error(err))
		} else if contact != nil && len(contact.Embedded.Leads) > 0 {
			leadID := contact.Embedded.Leads[0].ID
			logger.Base().Info("Caller resolved",
				zap.String("caller", c.CallerNumber),
				zap.Int("contact_id", contact.ID),
				zap.Int("lead_id", leadID),
				zap.Int("attempt", attempt))
			return leadID
		}

		if attempt == ctl.cfg.ResolveAttempts {
			break
		}
		select {
		case <-c.Stopped():
			return 0
		case <-time.After(ctl.cfg.ResolveBackoff):
		}
	}
	return 0
}

// rejectCall ends an unanswerable call. Runs on the media thread.
func (ctl *Controller) rejectCall(c *Call) {
	c.Teardown()
	ctl.registry.Clear(c)
	if ctl.repo != nil {
		ctx := context.Background()
		s := &domain.CallSession{
			ID:           c.ID,
			CallerNumber: c.CallerNumber,
			Status:       domain.CallStatusUnresolved,
			StartedAt:    c.StartedAt,
			EndedAt:      time.Now(),
		}
		if err := ctl.repo.CreateSession(ctx, s); err != nil {
			logger.Base().Warn("Failed to journal rejected call", zap.Error(err))
		}
	}
}

// recordStart journals and publishes the answered call. Runs on the media
// thread; both sinks are best effort.
func (ctl *Controller) recordStart(c *Call) {
	ctx := context.Background()
	if ctl.repo != nil {
		s := &domain.CallSession{
			ID:           c.ID,
			LeadID:       fmt.Sprintf("%d", c.LeadID),
			CallerNumber: c.CallerNumber,
			Status:       domain.CallStatusActive,
			StartedAt:    c.StartedAt,
		}
		if err := ctl.repo.CreateSession(ctx, s); err != nil {
			logger.Base().Warn("Failed to journal call start", zap.Error(err))
		}
	}
	if ctl.sessions != nil {
		info := session.CallInfo{
			SessionID:    c.ID,
			LeadID:       c.LeadID,
			CallerNumber: c.CallerNumber,
			StartedAt:    c.StartedAt,
		}
		if err := ctl.sessions.Register(ctx, info); err != nil {
			logger.Base().Warn("Failed to publish call session", zap.Error(err))
		}
	}
}

// finishCall tears the call down and launches post-call work.
func (ctl *Controller) finishCall(c *Call) {
	c.Teardown()
	ctl.registry.Clear(c)

	leadID := c.LeadID
	var history []domain.ConversationMessage
	if c.Coordinator != nil {
		history = c.Coordinator.History()
	}

	go func() {
		ctx := context.Background()
		if ctl.sessions != nil {
			if err := ctl.sessions.Unregister(ctx, c.ID); err != nil {
				logger.Base().Warn("Failed to unpublish call session", zap.Error(err))
			}
		}
		if ctl.repo != nil && leadID != 0 {
			if err := ctl.repo.CloseSession(ctx, c.ID, domain.CallStatusCompleted); err != nil {
				logger.Base().Warn("Failed to journal call end", zap.Error(err))
			}
		}
		if ctl.analyzer != nil && leadID != 0 {
			ctl.analyzer.Run(ctx, leadID, history, ctl.allQuestions())
		}
	}()
}

func (ctl *Controller) allQuestions() []domain.Question {
	var questions []domain.Question
	for _, stage := range ctl.funnelCfg.Stages {
		questions = append(questions, stage.Questions...)
	}
	return questions
}

// stageNotifier reports funnel stage transitions to the CRM pipeline.
type stageNotifier struct {
	crm       CRMGateway
	leadID    int
	statusIDs []int
}

func (n *stageNotifier) NotifyStage(ctx context.Context, stageIndex int) error {
	if stageIndex >= len(n.statusIDs) || n.statusIDs[stageIndex] == 0 {
		return nil
	}
	return n.crm.UpdateLeadStatus(ctx, n.leadID, n.statusIDs[stageIndex])
}

// turnSink journals dialog turns; a nil repo makes it a no-op.
type turnSink struct {
	repo      repository.CallRepositoryInterface
	sessionID string
}

func (t *turnSink) RecordTurn(ctx context.Context, role, content string) {
	if t.repo == nil {
		return
	}
	turn := &domain.CallTurn{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Role:      role,
		Content:   content,
	}
	if err := t.repo.AddTurn(ctx, turn); err != nil {
		logger.Base().Warn("Failed to journal dialog turn", zap.Error(err))
	}
}
