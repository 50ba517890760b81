package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

// maxToolRounds caps the tool round-trips inside one Complete call so a
// misbehaving model cannot loop forever.
const maxToolRounds = 3

// ChatClient talks to an OpenAI-compatible chat completions endpoint
// (Groq, OpenAI). One Complete is one logical model turn: tool calls are
// resolved internally with stub acknowledgements and surfaced to the caller
// as the ordered invocation list.
type ChatClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// NewChatClient creates a chat completions client.
func NewChatClient(baseURL, apiKey, model string) *ChatClient {
	return &ChatClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []apiToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Tools          []interface{} `json:"tools,omitempty"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat interface{}   `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) toolDefinitions() []interface{} {
	// Flat function-tool structure, one definition per registered tool.
	return []interface{}{
		map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        ToolNameFillField,
				"description": "Fill one field in the CRM record with the caller's answer.",
				"parameters":  FillFieldSchema,
			},
		},
		map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        ToolNameSkipField,
				"description": "Leave one CRM field empty because the caller declined or cannot answer.",
				"parameters":  SkipFieldSchema,
			},
		},
	}
}

func (c *ChatClient) post(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat endpoint returned status %d: %s", httpResp.StatusCode, string(data))
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}
	return &resp, nil
}

// Complete runs one dialogue turn against the model.
func (c *ChatClient) Complete(ctx context.Context, req *Request) (*Reply, error) {
	messages := make([]chatMessage, 0, len(req.History)+2)
	messages = append(messages, chatMessage{Role: domain.MessageRoleSystem, Content: req.System})
	for _, msg := range req.History {
		if msg.Role != domain.MessageRoleUser && msg.Role != domain.MessageRoleAssistant {
			continue
		}
		if msg.Content == "" {
			continue
		}
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, chatMessage{Role: domain.MessageRoleUser, Content: req.UserText})

	reply := &Reply{}
	for round := 0; round <= maxToolRounds; round++ {
		resp, err := c.post(ctx, &chatRequest{
			Model:       c.Model,
			Messages:    messages,
			Tools:       c.toolDefinitions(),
			Temperature: 0.7,
			MaxTokens:   1024,
		})
		if err != nil {
			return nil, err
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			reply.Text = msg.Content
			return reply, nil
		}

		// Record the invocations and feed stub acknowledgements back so the
		// model can produce its final reply within the same logical turn.
		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			var args map[string]interface{}
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					logger.Base().Error("Failed to parse tool call arguments",
						zap.String("tool", call.Function.Name), zap.Error(err))
					args = map[string]interface{}{}
				}
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolInvocation{
				Name:      call.Function.Name,
				Arguments: args,
			})
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    `{"success": true, "message": "recorded"}`,
			})
		}
	}

	return nil, fmt.Errorf("model exceeded %d tool rounds without a final reply", maxToolRounds)
}

// CompleteJSON requests a single JSON-object completion, used by post-call
// history analysis. The model override falls back to the client default.
func (c *ChatClient) CompleteJSON(ctx context.Context, model, system, user string) (string, error) {
	if model == "" {
		model = c.Model
	}
	resp, err := c.post(ctx, &chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: domain.MessageRoleSystem, Content: system},
			{Role: domain.MessageRoleUser, Content: user},
		},
		Temperature:    0.1,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}
