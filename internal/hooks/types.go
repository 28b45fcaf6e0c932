package hooks

import (
	"time"
)

// HookEvent defines the type of event that can trigger a hook.
type HookEvent string

const (
	EventSessionStarted    HookEvent = "session_started"
	EventSessionEnded      HookEvent = "session_ended"
	EventTurnCompleted     HookEvent = "turn_completed"
	EventTurnDegraded      HookEvent = "turn_degraded"
	EventLowConfidence     HookEvent = "low_confidence"
	EventAgentFailed       HookEvent = "agent_failed"
	EventTranslationFailed HookEvent = "translation_failed"
)

// AllEvents lists every event the dispatcher publishes.
var AllEvents = []HookEvent{
	EventSessionStarted, EventSessionEnded, EventTurnCompleted, EventTurnDegraded,
	EventLowConfidence, EventAgentFailed, EventTranslationFailed,
}

// HookAction defines the action to be performed when a hook is triggered.
type HookAction string

const (
	ActionLogWarning    HookAction = "log_warning"
	ActionNotifyWebhook HookAction = "notify_webhook"
)

// Hook represents a single automation rule.
type Hook struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Event       HookEvent      `yaml:"event" json:"event"`
	Condition   string         `yaml:"condition" json:"condition"`
	Action      HookAction     `yaml:"action" json:"action"`
	Params      map[string]any `yaml:"params" json:"params"`
	Enabled     bool           `yaml:"enabled" json:"enabled"`

	// FilePath is the source file (not in YAML)
	FilePath string `yaml:"-" json:"-"`
}

// EventContext describes one published event.
type EventContext struct {
	Event     HookEvent      `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	TurnID    string         `json:"turn_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Intent    string         `json:"intent,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Data      map[string]any `json:"data,omitempty"`

	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// ActionHandler is a function that executes a hook action.
type ActionHandler func(hook *Hook, ctx *EventContext) error
