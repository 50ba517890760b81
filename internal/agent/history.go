package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
)

// HistoryStore persists per-lead dialog history as JSON files. The file is
// rewritten after every turn so a crash never loses more than the turn in
// flight.
type HistoryStore struct {
	dir string
}

func NewHistoryStore(dir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	return &HistoryStore{dir: dir}, nil
}

func (s *HistoryStore) path(leadID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("dialog_history_lead_%d.json", leadID))
}

// Load returns the stored history for a lead, or an empty slice when none
// exists yet.
func (s *HistoryStore) Load(leadID int) ([]domain.ConversationMessage, error) {
	data, err := os.ReadFile(s.path(leadID))
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.ConversationMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read dialog history: %w", err)
	}
	var history []domain.ConversationMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse dialog history: %w", err)
	}
	return history, nil
}

// Save overwrites the stored history for a lead.
func (s *HistoryStore) Save(leadID int, history []domain.ConversationMessage) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dialog history: %w", err)
	}
	if err := os.WriteFile(s.path(leadID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write dialog history: %w", err)
	}
	return nil
}
