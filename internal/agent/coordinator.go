package agent

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/internal/funnel"
	"github.com/ClareAI/astra-sip-agent/internal/llm"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

// FieldWriter is the CRM surface the coordinator needs to persist answers.
type FieldWriter interface {
	WriteField(ctx context.Context, leadID, fieldID int, fieldType domain.FieldType, value string, choices []domain.EnumChoice) error
}

// Speaker receives synthesized reply files for playback into the call.
type Speaker interface {
	Enqueue(wavPath string)
}

// Synthesizer converts reply text to a playable WAV file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// TurnRecorder persists one dialog turn to durable storage, best effort.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, role, content string)
}

// Coordinator runs one dialog turn per finalized caller utterance: it builds
// the stage prompt, calls the model, applies the returned field mutations to
// CRM and the funnel, and hands the synthesized reply to playback. At most
// one model call is in flight per call; utterances arriving while a turn is
// running get a short hold reply and are otherwise dropped.
type Coordinator struct {
	LeadID int

	llm     llm.Client
	tts     Synthesizer
	crm     FieldWriter
	funnel  *funnel.Machine
	store   *HistoryStore
	speaker Speaker
	turns   TurnRecorder

	busy    atomic.Bool
	mu      sync.Mutex
	history []domain.ConversationMessage
	closed  bool
}

func NewCoordinator(leadID int, model llm.Client, tts Synthesizer, fieldWriter FieldWriter, machine *funnel.Machine, store *HistoryStore, speaker Speaker, turns TurnRecorder) (*Coordinator, error) {
	history, err := store.Load(leadID)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		LeadID:  leadID,
		llm:     model,
		tts:     tts,
		crm:     fieldWriter,
		funnel:  machine,
		store:   store,
		speaker: speaker,
		turns:   turns,
		history: history,
	}, nil
}

// History returns a copy of the in-memory dialog history.
func (c *Coordinator) History() []domain.ConversationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ConversationMessage(nil), c.history...)
}

// HandleUtterance processes one finalized caller utterance. Safe to call
// from the recognizer goroutine.
func (c *Coordinator) HandleUtterance(ctx context.Context, u domain.Utterance) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		logger.Base().Info("Turn already in flight, asking caller to hold",
			zap.Int("lead_id", c.LeadID), zap.String("text", text))
		c.speak(ctx, busyReply)
		return
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	logger.Base().Info("Caller utterance",
		zap.Int("lead_id", c.LeadID), zap.String("text", text))
	if c.turns != nil {
		c.turns.RecordTurn(ctx, domain.MessageRoleUser, text)
	}

	if c.closed || !c.funnel.EnsureReady(ctx) {
		c.speakClosing(ctx)
		return
	}

	system, err := buildSystemPrompt(c.funnel.StageName(), c.funnel.Remaining())
	if err != nil {
		logger.Base().Error("Failed to build system prompt", zap.Error(err))
		c.speak(ctx, apologyReply)
		return
	}

	reply, err := c.llm.Complete(ctx, &llm.Request{
		System:   system,
		History:  c.history,
		UserText: text,
	})
	if err != nil {
		logger.Base().Error("Model call failed", zap.Int("lead_id", c.LeadID), zap.Error(err))
		c.speak(ctx, apologyReply)
		return
	}

	for _, call := range reply.ToolCalls {
		c.applyToolCall(ctx, call)
	}

	// When the stage is exhausted, advance and tell the caller in the same
	// turn, so the funnel state never lags behind what the caller heard.
	spoken := reply.Text
	if len(c.funnel.Remaining()) == 0 {
		c.funnel.Advance(ctx)
		if c.funnel.Complete() {
			c.closed = true
			logger.Base().Info("Funnel complete", zap.Int("lead_id", c.LeadID))
			spoken = joinReplies(spoken, closingReply)
		} else {
			spoken = joinReplies(spoken, stageDoneReply)
		}
	}

	c.history = append(c.history,
		domain.ConversationMessage{Role: domain.MessageRoleUser, Content: text},
		domain.ConversationMessage{Role: domain.MessageRoleAssistant, Content: spoken},
	)
	if err := c.store.Save(c.LeadID, c.history); err != nil {
		logger.Base().Warn("Failed to persist dialog history", zap.Int("lead_id", c.LeadID), zap.Error(err))
	}
	if c.turns != nil && spoken != "" {
		c.turns.RecordTurn(ctx, domain.MessageRoleAssistant, spoken)
	}

	if spoken == "" {
		logger.Base().Warn("Model returned empty reply text", zap.Int("lead_id", c.LeadID))
		return
	}
	c.speak(ctx, spoken)
}

func (c *Coordinator) applyToolCall(ctx context.Context, call llm.ToolInvocation) {
	fieldID, ok := intArg(call.Arguments, "field_id")
	if !ok {
		logger.Base().Warn("Tool call without field_id", zap.String("tool", call.Name))
		return
	}
	question, ok := c.funnel.Question(fieldID)
	if !ok {
		logger.Base().Warn("Tool call for unknown field",
			zap.String("tool", call.Name), zap.Int("field_id", fieldID))
		return
	}

	switch call.Name {
	case llm.ToolNameFillField:
		value, _ := call.Arguments["value"].(string)
		value = strings.TrimSpace(value)
		if value == "" {
			logger.Base().Warn("Fill tool call without value", zap.Int("field_id", fieldID))
			return
		}
		if err := c.crm.WriteField(ctx, c.LeadID, fieldID, question.Type, value, question.Choices); err != nil {
			logger.Base().Error("CRM field write failed",
				zap.Int("lead_id", c.LeadID), zap.Int("field_id", fieldID), zap.Error(err))
		}
		c.funnel.MarkAnswered(fieldID, question.Type, value)
		logger.Base().Info("Field filled",
			zap.Int("field_id", fieldID), zap.String("name", question.Name), zap.String("value", value))
	case llm.ToolNameSkipField:
		c.funnel.MarkSkipped(fieldID)
		logger.Base().Info("Field skipped",
			zap.Int("field_id", fieldID), zap.String("name", question.Name))
	default:
		logger.Base().Warn("Unknown tool call", zap.String("tool", call.Name))
	}
}

func (c *Coordinator) speakClosing(ctx context.Context) {
	c.speak(ctx, closingReply)
}

func joinReplies(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// speak synthesizes asynchronously so the recognizer goroutine is never
// blocked on the TTS provider.
func (c *Coordinator) speak(ctx context.Context, text string) {
	go func() {
		path, err := c.tts.Synthesize(ctx, text)
		if err != nil {
			logger.Base().Error("TTS synthesis failed", zap.Int("lead_id", c.LeadID), zap.Error(err))
			return
		}
		c.speaker.Enqueue(path)
	}()
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
