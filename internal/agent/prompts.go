package agent

import (
	"encoding/json"
	"fmt"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
)

const basePrompt = `Ты — вежливый голосовой ассистент отдела продаж. Ты разговариваешь с клиентом по телефону и проводишь короткое интервью, чтобы заполнить карточку сделки.

Правила:
- Задавай по одному вопросу за реплику, коротко и естественно, как живой человек.
- Когда клиент дал ответ на вопрос, вызови инструмент fill_crm_field с идентификатором поля и ответом клиента.
- Если клиент отказывается отвечать или вопрос ему не подходит, вызови инструмент skip_crm_field.
- Для полей с вариантами выбирай значение строго из списка вариантов.
- Не выдумывай ответы за клиента и не заполняй поля, про которые клиент ничего не говорил.
- Отвечай только текстом реплики, без пояснений и разметки.`

const (
	busyReply      = "Секундочку, я ещё обрабатываю ваш предыдущий ответ."
	apologyReply   = "Извините, я вас не расслышал. Повторите, пожалуйста."
	closingReply   = "Спасибо, я записал все ответы. Мы свяжемся с вами в ближайшее время. Всего доброго!"
	stageDoneReply = "Отлично, с этим блоком закончили. Перейдём к следующим вопросам."
)

type promptQuestion struct {
	FieldID int      `json:"field_id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Comment string   `json:"comment,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// buildSystemPrompt renders the base instructions plus the current stage and
// its unanswered questions as a JSON block the model can reference when
// calling tools.
func buildSystemPrompt(stageName string, remaining []domain.Question) (string, error) {
	questions := make([]promptQuestion, 0, len(remaining))
	for _, q := range remaining {
		pq := promptQuestion{
			FieldID: q.ID,
			Name:    q.Name,
			Type:    string(q.Type),
			Comment: q.Comment,
		}
		for _, c := range q.Choices {
			pq.Choices = append(pq.Choices, c.Value)
		}
		questions = append(questions, pq)
	}
	block, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render question block: %w", err)
	}
	return fmt.Sprintf("%s\n\nТекущий этап: %s\nОставшиеся вопросы этапа (JSON):\n%s", basePrompt, stageName, string(block)), nil
}
