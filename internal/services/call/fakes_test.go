package call

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ClareAI/astra-sip-agent/internal/adapters/crm"
	"github.com/ClareAI/astra-sip-agent/internal/adapters/sip"
	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/internal/storage"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	path    string
	loop    bool
	mu      sync.Mutex
	stopped bool
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

func (p *fakePlayer) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeRecorder struct {
	path    string
	stopped bool
}

func (r *fakeRecorder) Path() string { return r.path }
func (r *fakeRecorder) Stop() error  { r.stopped = true; return nil }

type fakeMedia struct {
	mu        sync.Mutex
	remoteURI string
	answered  bool
	hungUp    bool
	players   []*fakePlayer
	recorders []*fakeRecorder
}

func (m *fakeMedia) Answer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = true
	return nil
}

func (m *fakeMedia) Hangup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hungUp = true
	return nil
}

func (m *fakeMedia) RemoteURI() string { return m.remoteURI }

func (m *fakeMedia) NewRecorder(path string) (sip.Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &fakeRecorder{path: path}
	m.recorders = append(m.recorders, rec)
	return rec, nil
}

func (m *fakeMedia) NewPlayer(path string, loop bool) (sip.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &fakePlayer{path: path, loop: loop}
	m.players = append(m.players, p)
	return p, nil
}

func (m *fakeMedia) isAnswered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answered
}

func (m *fakeMedia) isHungUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hungUp
}

func (m *fakeMedia) playerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}

func (m *fakeMedia) player(i int) *fakePlayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.players[i]
}

type fakeGateway struct {
	mu           sync.Mutex
	contact      *crm.Contact
	lookupErr    error
	lookups      int
	statusLeads  []int
	statusIDs    []int
	writtenField []int
}

func (g *fakeGateway) FindContactByPhone(_ context.Context, _ string) (*crm.Contact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	return g.contact, nil
}

func (g *fakeGateway) UpdateLeadStatus(_ context.Context, leadID, statusID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusLeads = append(g.statusLeads, leadID)
	g.statusIDs = append(g.statusIDs, statusID)
	return nil
}

func (g *fakeGateway) WriteField(_ context.Context, _, fieldID int, _ domain.FieldType, _ string, _ []domain.EnumChoice) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writtenField = append(g.writtenField, fieldID)
	return nil
}

func (g *fakeGateway) lookupCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookups
}

func resolvedContact(leadID int) *crm.Contact {
	c := &crm.Contact{ID: 5, Name: "Иван"}
	c.Embedded.Leads = []struct {
		ID int `json:"id"`
	}{{ID: leadID}}
	return c
}

// writeTestWAV creates a playable WAV of roughly the given PCM byte size.
func writeTestWAV(t *testing.T, dir, name string, pcmBytes int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, storage.WriteWAV(path, make([]byte, pcmBytes), 16000, 1))
	return path
}
