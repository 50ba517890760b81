package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"github.com/ClareAI/astra-sip-agent/pkg/redis"
	"go.uber.org/zap"
)

const sessionTTL = time.Hour

// CallInfo is the externally visible state of a live call, published to
// Redis so operators and sibling services can see what the agent is doing.
type CallInfo struct {
	SessionID    string    `json:"session_id"`
	LeadID       int       `json:"lead_id"`
	CallerNumber string    `json:"caller_number"`
	StartedAt    time.Time `json:"started_at"`
}

// Manager publishes call session state to Redis. All operations are best
// effort from the caller's point of view; a Redis outage must never affect
// call handling.
type Manager struct {
	redis redis.RedisServiceInterface
}

func NewManager(redisService redis.RedisServiceInterface) *Manager {
	return &Manager{redis: redisService}
}

func (m *Manager) key(sessionID string) string {
	return m.redis.GenerateKey(redis.CALL_SESSION, sessionID)
}

// Register publishes a live call session.
func (m *Manager) Register(ctx context.Context, info CallInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal call session: %w", err)
	}
	if err := m.redis.SetValue(ctx, m.key(info.SessionID), string(data), sessionTTL); err != nil {
		return fmt.Errorf("failed to register call session: %w", err)
	}
	logger.Base().Debug("Call session registered",
		zap.String("session_id", info.SessionID), zap.Int("lead_id", info.LeadID))
	return nil
}

// Unregister removes a call session.
func (m *Manager) Unregister(ctx context.Context, sessionID string) error {
	if err := m.redis.DelValue(ctx, m.key(sessionID)); err != nil {
		return fmt.Errorf("failed to unregister call session: %w", err)
	}
	logger.Base().Debug("Call session unregistered", zap.String("session_id", sessionID))
	return nil
}

// Get returns a registered call session, or nil when none exists.
func (m *Manager) Get(ctx context.Context, sessionID string) (*CallInfo, error) {
	raw, err := m.redis.GetValue(ctx, m.key(sessionID))
	if err != nil {
		if err == redis.ErrKeyNotExist {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	var info CallInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("failed to parse call session: %w", err)
	}
	return &info, nil
}
