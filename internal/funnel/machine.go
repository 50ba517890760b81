package funnel

import (
	"context"
	"sync"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

// StageNotifier tells the external record system that the interview moved
// to a new stage. Failures are logged, never fatal; CRM consistency is
// best-effort.
type StageNotifier interface {
	NotifyStage(ctx context.Context, stageIndex int) error
}

// Machine tracks the interview position: the active stage, which of its
// fields have been answered or skipped, and whether the funnel has run out
// of stages. Answers are scoped to the current stage and reset on every
// transition.
//
// The only mutation paths for answers are MarkAnswered and MarkSkipped,
// driven by the coordinator applying the model's tool invocations.
type Machine struct {
	mu       sync.Mutex
	stages   []domain.Stage
	current  int
	answers  map[int]domain.AnsweredField
	complete bool
	notifier StageNotifier
}

// NewMachine creates a funnel machine over the enriched stages. Stages that
// are already empty are skipped silently before anything is presented to
// the caller; if every stage is empty the interview is immediately complete.
func NewMachine(stages []domain.Stage, notifier StageNotifier) *Machine {
	m := &Machine{
		stages:   stages,
		answers:  make(map[int]domain.AnsweredField),
		notifier: notifier,
	}
	if len(stages) == 0 {
		m.complete = true
		return m
	}
	m.skipEmptyStagesLocked(context.Background())
	return m
}

// Remaining recomputes the unanswered questions of the current stage:
// {stage questions} minus {answered-or-skipped field ids}. Never cached.
func (m *Machine) Remaining() []domain.Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

func (m *Machine) remainingLocked() []domain.Question {
	if m.complete {
		return nil
	}
	stage := m.stages[m.current]
	out := make([]domain.Question, 0, len(stage.Questions))
	for _, q := range stage.Questions {
		if _, done := m.answers[q.ID]; !done {
			out = append(out, q)
		}
	}
	return out
}

// Question looks a question up by id within the current stage.
func (m *Machine) Question(id int) (domain.Question, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.complete {
		return domain.Question{}, false
	}
	for _, q := range m.stages[m.current].Questions {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

// StageName returns the display name of the active stage.
func (m *Machine) StageName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.complete {
		return ""
	}
	return m.stages[m.current].Name
}

// StageIndex returns the zero-based index of the active stage.
func (m *Machine) StageIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Complete reports whether the interview has permanently ended.
func (m *Machine) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete
}

// Answers returns a snapshot of the current stage's recorded fields.
func (m *Machine) Answers() []domain.AnsweredField {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AnsweredField, 0, len(m.answers))
	for _, a := range m.answers {
		out = append(out, a)
	}
	return out
}

// MarkAnswered records a filled field for the current stage.
func (m *Machine) MarkAnswered(id int, fieldType domain.FieldType, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.complete {
		return
	}
	m.answers[id] = domain.AnsweredField{
		QuestionID: id,
		Type:       fieldType,
		Value:      value,
		State:      domain.AnswerStateAnswered,
	}
}

// MarkSkipped records an explicitly skipped field for the current stage.
func (m *Machine) MarkSkipped(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.complete {
		return
	}
	m.answers[id] = domain.AnsweredField{
		QuestionID: id,
		Value:      domain.SkippedValue,
		State:      domain.AnswerStateSkipped,
	}
}

// Advance moves to the next stage: notifies the record system (best-effort),
// switches the active index and resets the answered fields. Returns false
// when no next stage exists; the funnel is then permanently complete.
func (m *Machine) Advance(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advanceLocked(ctx)
}

func (m *Machine) advanceLocked(ctx context.Context) bool {
	if m.complete {
		return false
	}
	if m.current+1 >= len(m.stages) {
		m.complete = true
		m.answers = make(map[int]domain.AnsweredField)
		logger.Base().Info("Funnel complete")
		return false
	}

	m.current++
	m.answers = make(map[int]domain.AnsweredField)
	if m.notifier != nil {
		if err := m.notifier.NotifyStage(ctx, m.current); err != nil {
			logger.Base().Warn("Failed to notify stage transition",
				zap.Int("stage", m.current), zap.Error(err))
		}
	}
	logger.Base().Info("Funnel advanced",
		zap.Int("stage", m.current),
		zap.String("name", m.stages[m.current].Name))
	return true
}

// EnsureReady advances past stages with no remaining questions, recursively,
// until a non-empty stage or funnel completion is reached. Returns true when
// a stage with remaining questions is active.
func (m *Machine) EnsureReady(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipEmptyStagesLocked(ctx)
	return !m.complete
}

func (m *Machine) skipEmptyStagesLocked(ctx context.Context) {
	for !m.complete && len(m.remainingLocked()) == 0 {
		if !m.advanceLocked(ctx) {
			return
		}
	}
}
