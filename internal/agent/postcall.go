package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

// JSONCompleter is the model surface for structured post-call extraction.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, model, system, user string) (string, error)
}

const analysisPrompt = `Ты анализируешь стенограмму телефонного интервью между менеджером и клиентом.
Извлеки из стенограммы значения для перечисленных полей карточки сделки и верни строго JSON-объект без пояснений.

Правила:
- Ключи объекта — строковые идентификаторы полей (field_id).
- Для полей с вариантами (choices) значением должен быть id выбранного варианта, а не текст.
- Для полей без вариантов значением должен быть текст ответа клиента.
- Если ответ на поле в стенограмме отсутствует, используй значение null.

Поля (JSON):
%s`

// Analyzer re-reads a finished call's transcript with a reasoning model and
// extracts field values the live dialog may have missed. Results are written
// to disk for manual review, not pushed back to CRM.
type Analyzer struct {
	Model     JSONCompleter
	ModelName string
	OutputDir string
}

func NewAnalyzer(model JSONCompleter, modelName, outputDir string) *Analyzer {
	return &Analyzer{Model: model, ModelName: modelName, OutputDir: outputDir}
}

// Run analyzes the dialog history against the funnel's question set. Errors
// are logged, never fatal: analysis is an offline convenience.
func (a *Analyzer) Run(ctx context.Context, leadID int, history []domain.ConversationMessage, questions []domain.Question) {
	if len(history) == 0 || len(questions) == 0 {
		return
	}
	if err := os.MkdirAll(a.OutputDir, 0o755); err != nil {
		logger.Base().Error("Failed to create analysis dir", zap.Error(err))
		return
	}

	schema := make([]promptQuestion, 0, len(questions))
	for _, q := range questions {
		pq := promptQuestion{FieldID: q.ID, Name: q.Name, Type: string(q.Type), Comment: q.Comment}
		for _, c := range q.Choices {
			pq.Choices = append(pq.Choices, fmt.Sprintf("%d: %s", c.ID, c.Value))
		}
		schema = append(schema, pq)
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		logger.Base().Error("Failed to render analysis schema", zap.Error(err))
		return
	}

	raw, err := a.Model.CompleteJSON(ctx, a.ModelName,
		fmt.Sprintf(analysisPrompt, string(schemaJSON)), FormatTranscript(history))
	if err != nil {
		logger.Base().Error("Post-call analysis failed", zap.Int("lead_id", leadID), zap.Error(err))
		return
	}

	path := filepath.Join(a.OutputDir, fmt.Sprintf("post_analysis_lead_%d_%d.json", leadID, time.Now().Unix()))
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// Keep the raw text so a malformed response is still inspectable.
		logger.Base().Warn("Analysis response is not valid JSON, saving raw",
			zap.Int("lead_id", leadID), zap.Error(err))
		if werr := os.WriteFile(path+".raw", []byte(raw), 0o644); werr != nil {
			logger.Base().Error("Failed to save raw analysis", zap.Error(werr))
		}
		return
	}
	pretty, _ := json.MarshalIndent(parsed, "", "  ")
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		logger.Base().Error("Failed to save analysis", zap.Int("lead_id", leadID), zap.Error(err))
		return
	}
	logger.Base().Info("Post-call analysis saved",
		zap.Int("lead_id", leadID), zap.String("path", path), zap.Int("fields", len(parsed)))
}

// FormatTranscript renders the dialog history as a speaker-labelled
// transcript for the analysis prompt.
func FormatTranscript(history []domain.ConversationMessage) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case domain.MessageRoleUser:
			b.WriteString("КЛИЕНТ: ")
		case domain.MessageRoleAssistant:
			b.WriteString("МЕНЕДЖЕР: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
