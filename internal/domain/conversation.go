package domain

import (
	"time"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// ConversationMessage is one role-tagged entry of a call's dialogue history.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Utterance is a finalized span of caller speech delimited by detected
// silence: the transcript fragments joined in order plus the provider's
// end-of-speech offset.
type Utterance struct {
	Text       string
	EndOffset  float64
	ReceivedAt time.Time
}

// CallStatus is the terminal disposition of a call session record.
type CallStatus string

const (
	CallStatusActive     CallStatus = "active"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusUnresolved CallStatus = "unresolved" // no CRM record found, call rejected
)

// CallSession is the persisted record of one telephone session.
type CallSession struct {
	ID           string     `json:"id" db:"id" gorm:"column:id;primaryKey"`
	LeadID       string     `json:"lead_id" db:"lead_id" gorm:"column:lead_id;index"`
	CallerNumber string     `json:"caller_number" db:"caller_number" gorm:"column:caller_number"`
	Status       CallStatus `json:"status" db:"status" gorm:"column:status"`
	StartedAt    time.Time  `json:"started_at" db:"started_at" gorm:"column:started_at"`
	EndedAt      time.Time  `json:"ended_at" db:"ended_at" gorm:"column:ended_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}

// CallTurn is one persisted dialogue message within a call session.
type CallTurn struct {
	ID        string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	SessionID string    `json:"session_id" db:"session_id" gorm:"column:session_id;index"`
	Role      string    `json:"role" db:"role" gorm:"column:role"`
	Content   string    `json:"content" db:"content" gorm:"column:content"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
}

func (CallTurn) TableName() string {
	return "call_turns"
}
