// Package event defines the immutable data units that flow through the
// notification pipeline: findings produced by governance tasks and the
// outbound events delivered to the agent gateway.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is one detected site-state issue produced by a task run.
// Findings are never updated; a later run re-emits them if the
// underlying condition persists.
type Finding struct {
	TaskName string         `json:"task_name"`
	Severity Severity       `json:"severity"`
	Summary  string         `json:"summary"`
	Context  map[string]any `json:"context,omitempty"`
}

func NewFinding(taskName string, severity Severity, summary string, context map[string]any) Finding {
	return Finding{
		TaskName: taskName,
		Severity: severity,
		Summary:  summary,
		Context:  context,
	}
}

// OutboundEvent is one dispatch unit. Retries resend the identical
// payload, so nothing mutates an event after construction.
type OutboundEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewOutboundEvent(eventType, message string, context map[string]any) *OutboundEvent {
	return &OutboundEvent{
		ID:        uuid.New().String(),
		EventType: eventType,
		Message:   message,
		Context:   context,
		CreatedAt: time.Now(),
	}
}

func (e *OutboundEvent) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func FromJSON(data string) (*OutboundEvent, error) {
	var ev OutboundEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, err
	}

	return &ev, nil
}
