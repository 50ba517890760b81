package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"gorm.io/gorm"
)

// Migrate creates or updates the call journal tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.CallSession{}, &domain.CallTurn{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// CallRepositoryInterface is the durable call journal.
type CallRepositoryInterface interface {
	CreateSession(ctx context.Context, session *domain.CallSession) error
	CloseSession(ctx context.Context, sessionID string, status domain.CallStatus) error
	GetSession(ctx context.Context, sessionID string) (*domain.CallSession, error)
	ListSessions(ctx context.Context, limit int) ([]domain.CallSession, error)
	AddTurn(ctx context.Context, turn *domain.CallTurn) error
	ListTurns(ctx context.Context, sessionID string) ([]domain.CallTurn, error)
}

// CallRepository implements CallRepositoryInterface over GORM.
type CallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

func (r *CallRepository) CreateSession(ctx context.Context, session *domain.CallSession) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}
	return nil
}

func (r *CallRepository) CloseSession(ctx context.Context, sessionID string, status domain.CallStatus) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&domain.CallSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":     status,
			"ended_at":   now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to close call session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("call session not found: %s", sessionID)
	}
	return nil
}

func (r *CallRepository) GetSession(ctx context.Context, sessionID string) (*domain.CallSession, error) {
	var session domain.CallSession
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return &session, nil
}

func (r *CallRepository) ListSessions(ctx context.Context, limit int) ([]domain.CallSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []domain.CallSession
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list call sessions: %w", err)
	}
	return sessions, nil
}

func (r *CallRepository) AddTurn(ctx context.Context, turn *domain.CallTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(turn).Error; err != nil {
		return fmt.Errorf("failed to add call turn: %w", err)
	}
	return nil
}

func (r *CallRepository) ListTurns(ctx context.Context, sessionID string) ([]domain.CallTurn, error) {
	var turns []domain.CallTurn
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list call turns: %w", err)
	}
	return turns, nil
}
