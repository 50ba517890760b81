package agent

import (
	"testing"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStoreRoundTrip(t *testing.T) {
	store, err := NewHistoryStore(t.TempDir())
	require.NoError(t, err)

	history := []domain.ConversationMessage{
		{Role: domain.MessageRoleUser, Content: "Здравствуйте"},
		{Role: domain.MessageRoleAssistant, Content: "Добрый день! Как вас зовут?"},
	}
	require.NoError(t, store.Save(42, history))

	loaded, err := store.Load(42)
	require.NoError(t, err)
	assert.Equal(t, history, loaded)
}

func TestHistoryStoreMissingLeadIsEmpty(t *testing.T) {
	store, err := NewHistoryStore(t.TempDir())
	require.NoError(t, err)

	loaded, err := store.Load(7)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestHistoryStoreOverwrite(t *testing.T) {
	store, err := NewHistoryStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(1, []domain.ConversationMessage{
		{Role: domain.MessageRoleUser, Content: "раз"},
	}))
	longer := []domain.ConversationMessage{
		{Role: domain.MessageRoleUser, Content: "раз"},
		{Role: domain.MessageRoleAssistant, Content: "два"},
	}
	require.NoError(t, store.Save(1, longer))

	loaded, err := store.Load(1)
	require.NoError(t, err)
	assert.Equal(t, longer, loaded)
}
