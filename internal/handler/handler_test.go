package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/core/session"
	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/internal/repository"
	"github.com/ClareAI/astra-sip-agent/internal/services/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	sessions []domain.CallSession
	turns    map[string][]domain.CallTurn
}

func (s *stubRepo) CreateSession(context.Context, *domain.CallSession) error { return nil }

func (s *stubRepo) CloseSession(context.Context, string, domain.CallStatus) error { return nil }

func (s *stubRepo) GetSession(_ context.Context, id string) (*domain.CallSession, error) {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return &s.sessions[i], nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListSessions(context.Context, int) ([]domain.CallSession, error) {
	return s.sessions, nil
}

func (s *stubRepo) AddTurn(context.Context, *domain.CallTurn) error { return nil }

func (s *stubRepo) ListTurns(_ context.Context, id string) ([]domain.CallTurn, error) {
	return s.turns[id], nil
}

type stubSessions struct {
	info map[string]*session.CallInfo
}

func (s *stubSessions) Get(_ context.Context, id string) (*session.CallInfo, error) {
	return s.info[id], nil
}

func testServer(repo *stubRepo) (*httptest.Server, *call.Registry) {
	return testServerWithSessions(repo, nil)
}

func testServerWithSessions(repo *stubRepo, sessions *stubSessions) (*httptest.Server, *call.Registry) {
	registry := call.NewRegistry()
	var journal repository.CallRepositoryInterface
	if repo != nil {
		journal = repo
	}
	var getter SessionGetter
	if sessions != nil {
		getter = sessions
	}
	h := NewHandler(registry, getter, journal)
	return httptest.NewServer(NewRouter(h)), registry
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(nil)
	defer srv.Close()

	var body map[string]string
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestCurrentCallIdle(t *testing.T) {
	srv, _ := testServer(nil)
	defer srv.Close()

	var body map[string]interface{}
	status := getJSON(t, srv.URL+"/api/v1/calls/current", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["active"])
}

func TestCurrentCallActive(t *testing.T) {
	srv, registry := testServer(nil)
	defer srv.Close()

	registry.Swap(&call.Call{
		ID:           "c1",
		LeadID:       42,
		CallerNumber: "79991234567",
		StartedAt:    time.Now(),
	})

	var body map[string]interface{}
	status := getJSON(t, srv.URL+"/api/v1/calls/current", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "c1", body["call_id"])
	assert.Equal(t, float64(42), body["lead_id"])
}

func TestListCallsWithoutJournal(t *testing.T) {
	srv, _ := testServer(nil)
	defer srv.Close()

	status := getJSON(t, srv.URL+"/api/v1/calls", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestListCalls(t *testing.T) {
	repo := &stubRepo{sessions: []domain.CallSession{
		{ID: "s1", LeadID: "42", Status: domain.CallStatusCompleted, StartedAt: time.Now()},
	}}
	srv, _ := testServer(repo)
	defer srv.Close()

	var body struct {
		Calls []domain.CallSession `json:"calls"`
	}
	status := getJSON(t, srv.URL+"/api/v1/calls", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Calls, 1)
	assert.Equal(t, "s1", body.Calls[0].ID)
}

func TestListTurns(t *testing.T) {
	repo := &stubRepo{
		sessions: []domain.CallSession{{ID: "s1", Status: domain.CallStatusCompleted}},
		turns: map[string][]domain.CallTurn{
			"s1": {
				{ID: "t1", SessionID: "s1", Role: domain.MessageRoleUser, Content: "алло"},
				{ID: "t2", SessionID: "s1", Role: domain.MessageRoleAssistant, Content: "здравствуйте"},
			},
		},
	}
	srv, _ := testServer(repo)
	defer srv.Close()

	var body struct {
		Call  domain.CallSession `json:"call"`
		Turns []domain.CallTurn  `json:"turns"`
	}
	status := getJSON(t, srv.URL+"/api/v1/calls/s1/turns", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "s1", body.Call.ID)
	require.Len(t, body.Turns, 2)
	assert.Equal(t, "алло", body.Turns[0].Content)
}

func TestListTurnsUnknownCall(t *testing.T) {
	srv, _ := testServer(&stubRepo{})
	defer srv.Close()

	status := getJSON(t, srv.URL+"/api/v1/calls/nope/turns", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetSession(t *testing.T) {
	started := time.Now().UTC().Truncate(time.Second)
	sessions := &stubSessions{info: map[string]*session.CallInfo{
		"s1": {SessionID: "s1", LeadID: 42, CallerNumber: "79991234567", StartedAt: started},
	}}
	srv, _ := testServerWithSessions(nil, sessions)
	defer srv.Close()

	var body session.CallInfo
	status := getJSON(t, srv.URL+"/api/v1/sessions/s1", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 42, body.LeadID)
	assert.Equal(t, "79991234567", body.CallerNumber)

	status = getJSON(t, srv.URL+"/api/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetSessionWithoutRegistry(t *testing.T) {
	srv, _ := testServer(nil)
	defer srv.Close()

	status := getJSON(t, srv.URL+"/api/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := testServer(nil)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/health", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
