package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one turn of a chat exchange. It lives only for the
// duration of a request and is never stored server side.
type ChatMessage struct {
	Role      Role             `json:"role" binding:"required,oneof=user assistant system"`
	Content   string           `json:"content"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

type MessageMetadata struct {
	Hazards      []Hazard `json:"hazards,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
	AnalysisType string   `json:"analysisType,omitempty"`
}
