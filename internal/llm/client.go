package llm

import (
	"context"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
)

// Tool name constants
const (
	ToolNameFillField = "fill_crm_field"
	ToolNameSkipField = "skip_crm_field"
)

// FillFieldSchema defines the parameters of the fill-field tool.
var FillFieldSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"field_id": map[string]interface{}{
			"type":        "integer",
			"description": "ID of the CRM field to fill",
		},
		"field_type": map[string]interface{}{
			"type":        "string",
			"description": "Declared CRM type of the field",
			"enum": []string{
				"text", "textarea", "numeric", "checkbox", "select", "multiselect", "date",
			},
		},
		"value": map[string]interface{}{
			"type":        "string",
			"description": "Answer exactly as the caller gave it. For multiselect, comma-separated values.",
		},
	},
	"required": []string{"field_id", "field_type", "value"},
}

// SkipFieldSchema defines the parameters of the skip-field tool.
var SkipFieldSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"field_id": map[string]interface{}{
			"type":        "integer",
			"description": "ID of the CRM field to leave empty",
		},
	},
	"required": []string{"field_id"},
}

// ToolInvocation is one tool call the model made during a turn. The model
// collaborator returns these as data; the coordinator applies them, so the
// mutation path stays auditable without a live model.
type ToolInvocation struct {
	Name      string
	Arguments map[string]interface{}
}

// Reply is the outcome of one model turn: the final reply text plus the
// ordered tool invocations made on the way there.
type Reply struct {
	Text      string
	ToolCalls []ToolInvocation
}

// Request carries the model input for one dialogue turn.
type Request struct {
	System   string
	History  []domain.ConversationMessage
	UserText string
}

// Client is the language-model collaborator for dialogue turns.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Reply, error)
}
