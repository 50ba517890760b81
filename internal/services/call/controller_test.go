package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/adapters/sip"
	"github.com/ClareAI/astra-sip-agent/internal/agent"
	"github.com/ClareAI/astra-sip-agent/internal/core/session"
	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/internal/funnel"
	"github.com/ClareAI/astra-sip-agent/internal/llm"
	"github.com/ClareAI/astra-sip-agent/internal/repository"
	"github.com/ClareAI/astra-sip-agent/internal/stt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct{}

func (stubLLM) Complete(context.Context, *llm.Request) (*llm.Reply, error) {
	return &llm.Reply{Text: "ок"}, nil
}

type stubTTS struct{}

func (stubTTS) Synthesize(context.Context, string) (string, error) {
	return "/tmp/none.wav", nil
}

type blockingLLM struct {
	mu      sync.Mutex
	release chan struct{}
	calls   int
}

func (b *blockingLLM) Complete(context.Context, *llm.Request) (*llm.Reply, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return &llm.Reply{Text: "ок"}, nil
}

func (b *blockingLLM) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type captureTTS struct {
	mu    sync.Mutex
	texts []string
}

func (c *captureTTS) Synthesize(_ context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return "/tmp/none.wav", nil
}

func (c *captureTTS) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.CallSession
	turns    []domain.CallTurn
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]*domain.CallSession)}
}

func (r *memRepo) CreateSession(_ context.Context, s *domain.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memRepo) CloseSession(_ context.Context, id string, status domain.CallStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Status = status
		s.EndedAt = time.Now()
	}
	return nil
}

func (r *memRepo) GetSession(_ context.Context, id string) (*domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id], nil
}

func (r *memRepo) ListSessions(context.Context, int) ([]domain.CallSession, error) {
	return nil, nil
}

func (r *memRepo) AddTurn(_ context.Context, turn *domain.CallTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, *turn)
	return nil
}

func (r *memRepo) ListTurns(context.Context, string) ([]domain.CallTurn, error) {
	return nil, nil
}

func (r *memRepo) session(id string) *domain.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

type memSessions struct {
	mu         sync.Mutex
	registered []session.CallInfo
	removed    []string
}

func (m *memSessions) Register(_ context.Context, info session.CallInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, info)
	return nil
}

func (m *memSessions) Unregister(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, sessionID)
	return nil
}

func testFunnelConfig() *funnel.EnrichedConfig {
	return &funnel.EnrichedConfig{
		Stages: []domain.Stage{
			{Name: "Знакомство", Questions: []domain.Question{
				{ID: 11, Name: "Имя", Type: domain.FieldTypeText},
			}},
		},
		StatusIDs: []int{100},
	}
}

func newTestController(t *testing.T, gw *fakeGateway, repo *memRepo, sessions *memSessions) *Controller {
	t.Helper()
	dir := t.TempDir()
	history, err := agent.NewHistoryStore(dir)
	require.NoError(t, err)

	cfg := ControllerConfig{
		ResolveAttempts: 2,
		ResolveBackoff:  time.Millisecond,
		RecordingsDir:   dir,
		RingbackPath:    writeTestWAV(t, dir, "ringback.wav", 3200),
		// Unreachable loopback port so the connect fails immediately and the
		// call proceeds without recognition.
		STT: stt.Config{BaseWSURL: "ws://127.0.0.1:1"},
	}

	var sessionReg SessionRegistry
	if sessions != nil {
		sessionReg = sessions
	}
	var journal repository.CallRepositoryInterface
	if repo != nil {
		journal = repo
	}
	return NewController(cfg, gw, stubLLM{}, stubTTS{},
		testFunnelConfig(), history, nil, NewRegistry(), sessionReg, journal)
}

// tickUntil pumps the media loop until the condition holds.
func tickUntil(t *testing.T, ctl *Controller, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctl.Tick()
		return cond()
	}, 3*time.Second, 5*time.Millisecond)
}

func TestControllerRejectsUnresolvedCaller(t *testing.T) {
	gw := &fakeGateway{} // no contact found
	repo := newMemRepo()
	ctl := newTestController(t, gw, repo, nil)

	media := &fakeMedia{remoteURI: "sip:79991234567@sip.example.com"}
	ctl.OnIncomingCall(media)

	c := ctl.registry.Current()
	require.NotNil(t, c)

	tickUntil(t, ctl, func() bool { return media.isHungUp() })

	assert.Equal(t, 2, gw.lookupCount())
	assert.False(t, media.isAnswered())
	assert.Nil(t, ctl.registry.Current())

	journal := repo.session(c.ID)
	require.NotNil(t, journal)
	assert.Equal(t, domain.CallStatusUnresolved, journal.Status)
}

func TestControllerAnswersResolvedCaller(t *testing.T) {
	gw := &fakeGateway{contact: resolvedContact(42)}
	repo := newMemRepo()
	sessions := &memSessions{}
	ctl := newTestController(t, gw, repo, sessions)

	media := &fakeMedia{remoteURI: "sip:79991234567@sip.example.com"}
	ctl.OnIncomingCall(media)

	// Ringback starts immediately, looping.
	require.Equal(t, 1, media.playerCount())
	assert.True(t, media.player(0).loop)

	tickUntil(t, ctl, func() bool { return media.isAnswered() })

	c := ctl.registry.Current()
	require.NotNil(t, c)
	assert.Equal(t, 42, c.LeadID)
	assert.True(t, media.player(0).isStopped())

	journal := repo.session(c.ID)
	require.NotNil(t, journal)
	assert.Equal(t, domain.CallStatusActive, journal.Status)
	assert.Equal(t, "42", journal.LeadID)

	sessions.mu.Lock()
	require.Len(t, sessions.registered, 1)
	assert.Equal(t, 42, sessions.registered[0].LeadID)
	sessions.mu.Unlock()
}

func TestControllerMediaActiveStartsRecording(t *testing.T) {
	gw := &fakeGateway{contact: resolvedContact(42)}
	ctl := newTestController(t, gw, nil, nil)

	media := &fakeMedia{remoteURI: "sip:79991234567@sip.example.com"}
	ctl.OnIncomingCall(media)
	tickUntil(t, ctl, func() bool { return media.isAnswered() })

	ctl.OnMediaActive(media)
	media.mu.Lock()
	require.Len(t, media.recorders, 1)
	media.mu.Unlock()

	// Repeated media-active events do not restart recording.
	ctl.OnMediaActive(media)
	media.mu.Lock()
	assert.Len(t, media.recorders, 1)
	media.mu.Unlock()
}

func TestControllerDisconnectTearsDown(t *testing.T) {
	gw := &fakeGateway{contact: resolvedContact(42)}
	repo := newMemRepo()
	sessions := &memSessions{}
	ctl := newTestController(t, gw, repo, sessions)

	media := &fakeMedia{remoteURI: "sip:79991234567@sip.example.com"}
	ctl.OnIncomingCall(media)
	tickUntil(t, ctl, func() bool { return media.isAnswered() })
	c := ctl.registry.Current()
	require.NotNil(t, c)

	ctl.OnCallState(media, sip.StateDisconnected)

	assert.Nil(t, ctl.registry.Current())
	assert.True(t, media.isHungUp())

	require.Eventually(t, func() bool {
		s := repo.session(c.ID)
		return s != nil && s.Status == domain.CallStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return len(sessions.removed) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestControllerNewCallReplacesPrevious(t *testing.T) {
	gw := &fakeGateway{contact: resolvedContact(42)}
	ctl := newTestController(t, gw, nil, nil)

	first := &fakeMedia{remoteURI: "sip:1001@sip.example.com"}
	ctl.OnIncomingCall(first)
	second := &fakeMedia{remoteURI: "sip:1002@sip.example.com"}
	ctl.OnIncomingCall(second)

	assert.True(t, first.isHungUp())
	require.NotNil(t, ctl.registry.Current())
	assert.Equal(t, second, ctl.registry.Current().Media)
}

// A turn blocks on the model call; delivering the next finalized utterance
// must not wait for it, otherwise provider events back up behind the turn.
func TestDispatchedUtterancesKeepReceiverFree(t *testing.T) {
	model := &blockingLLM{release: make(chan struct{})}
	tts := &captureTTS{}
	history, err := agent.NewHistoryStore(t.TempDir())
	require.NoError(t, err)
	machine := funnel.NewMachine(testFunnelConfig().Stages, nil)
	coordinator, err := agent.NewCoordinator(42, model, tts, &fakeGateway{},
		machine, history, NewPlaybackQueue(), nil)
	require.NoError(t, err)

	handler := dispatchUtterance(coordinator)

	delivered := make(chan struct{})
	go func() {
		handler(domain.Utterance{Text: "первый ответ"})
		handler(domain.Utterance{Text: "второй ответ"})
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("utterance delivery waited on the model call")
	}

	// One utterance holds the turn; the other gets the hold reply while the
	// model call is still in flight.
	require.Eventually(t, func() bool { return tts.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, model.callCount())

	close(model.release)
	require.Eventually(t, func() bool { return tts.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, model.callCount())
}

func TestControllerDisconnectForStaleMediaIgnored(t *testing.T) {
	gw := &fakeGateway{contact: resolvedContact(42)}
	ctl := newTestController(t, gw, nil, nil)

	media := &fakeMedia{remoteURI: "sip:1001@sip.example.com"}
	ctl.OnIncomingCall(media)

	stale := &fakeMedia{remoteURI: "sip:1002@sip.example.com"}
	ctl.OnCallState(stale, sip.StateDisconnected)
	assert.NotNil(t, ctl.registry.Current())
}
