package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model          string                   `json:"model"`
	Messages       []map[string]interface{} `json:"messages"`
	Tools          []interface{}            `json:"tools"`
	ResponseFormat map[string]string        `json:"response_format"`
}

// scriptedServer replies with each canned response body in order.
func scriptedServer(t *testing.T, responses ...string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []capturedRequest
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req capturedRequest
		require.NoError(t, json.Unmarshal(body, &req))

		mu.Lock()
		requests = append(requests, req)
		idx := i
		if i < len(responses)-1 {
			i++
		}
		mu.Unlock()
		_, _ = w.Write([]byte(responses[idx]))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testChatClient(srv *httptest.Server) *ChatClient {
	return NewChatClient(srv.URL, "test-key", "test-model")
}

func TestCompletePlainReply(t *testing.T) {
	srv, requests := scriptedServer(t,
		`{"choices":[{"message":{"role":"assistant","content":"Добрый день!"}}]}`)

	reply, err := testChatClient(srv).Complete(context.Background(), &Request{
		System:   "промпт",
		UserText: "алло",
		History: []domain.ConversationMessage{
			{Role: domain.MessageRoleUser, Content: "раньше"},
			{Role: domain.MessageRoleAssistant, Content: "ответ"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Добрый день!", reply.Text)
	assert.Empty(t, reply.ToolCalls)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 4) // system + 2 history + user
	assert.Equal(t, "system", req.Messages[0]["role"])
	assert.Len(t, req.Tools, 2)
}

func TestCompleteResolvesToolRound(t *testing.T) {
	srv, requests := scriptedServer(t,
		`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"fill_crm_field","arguments":"{\"field_id\": 11, \"value\": \"Иван\"}"}}
		]}}]}`,
		`{"choices":[{"message":{"role":"assistant","content":"Записал. Сколько вам лет?"}}]}`)

	reply, err := testChatClient(srv).Complete(context.Background(), &Request{
		System:   "промпт",
		UserText: "Меня зовут Иван",
	})
	require.NoError(t, err)

	assert.Equal(t, "Записал. Сколько вам лет?", reply.Text)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, ToolNameFillField, reply.ToolCalls[0].Name)
	assert.Equal(t, float64(11), reply.ToolCalls[0].Arguments["field_id"])
	assert.Equal(t, "Иван", reply.ToolCalls[0].Arguments["value"])

	// The second request carries the tool acknowledgement back to the model.
	require.Len(t, *requests, 2)
	second := (*requests)[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
}

func TestCompleteToolLoopBounded(t *testing.T) {
	srv, _ := scriptedServer(t,
		`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_x","type":"function","function":{"name":"skip_crm_field","arguments":"{\"field_id\": 1}"}}
		]}}]}`)

	_, err := testChatClient(srv).Complete(context.Background(), &Request{UserText: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool rounds")
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testChatClient(srv).Complete(context.Background(), &Request{UserText: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteJSON(t *testing.T) {
	srv, requests := scriptedServer(t,
		`{"choices":[{"message":{"role":"assistant","content":"{\"11\":\"Иван\"}"}}]}`)

	out, err := testChatClient(srv).CompleteJSON(context.Background(), "analysis-model", "схема", "стенограмма")
	require.NoError(t, err)
	assert.JSONEq(t, `{"11":"Иван"}`, out)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "analysis-model", req.Model)
	assert.Equal(t, "json_object", req.ResponseFormat["type"])
	assert.Empty(t, req.Tools)
}
