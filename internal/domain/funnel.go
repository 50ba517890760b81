package domain

// FieldType is the declared CRM type of a funnel question's answer.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeNumeric     FieldType = "numeric"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiselect FieldType = "multiselect"
	FieldTypeDate        FieldType = "date"
)

// EnumChoice is one enumerated option of a select/multiselect CRM field.
type EnumChoice struct {
	ID    int    `json:"id" yaml:"id"`
	Value string `json:"value" yaml:"value"`
	Sort  int    `json:"sort,omitempty" yaml:"sort,omitempty"`
}

// Question is a single interview question bound to a CRM custom field.
// Name, Type and Choices come from CRM field metadata; ID and Comment come
// from the local funnel definition.
type Question struct {
	ID      int          `json:"id" yaml:"id"`
	Comment string       `json:"comment,omitempty" yaml:"comment,omitempty"`
	Name    string       `json:"name" yaml:"name"`
	Type    FieldType    `json:"type" yaml:"type"`
	Choices []EnumChoice `json:"enums,omitempty" yaml:"enums,omitempty"`
}

// Stage is a named, ordered group of questions the interview advances
// through as a unit.
type Stage struct {
	Name      string     `json:"name" yaml:"name"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// AnswerState marks whether a field was answered by the caller or
// explicitly skipped by the agent.
type AnswerState string

const (
	AnswerStateAnswered AnswerState = "answered"
	AnswerStateSkipped  AnswerState = "skipped"
)

// SkippedValue is the sentinel recorded for skipped fields.
const SkippedValue = "skipped"

// AnsweredField records the outcome of one question within the current stage.
type AnsweredField struct {
	QuestionID int         `json:"question_id"`
	Type       FieldType   `json:"type"`
	Value      string      `json:"value"`
	State      AnswerState `json:"state"`
}
