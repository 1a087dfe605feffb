package automation

import (
	"context"
	"encoding/json"
	"time"
)

// Logger defines the logging interface used by the engine components.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ScheduleRun is the pair of timestamps written after a scheduled attempt.
type ScheduleRun struct {
	LastRun time.Time
	NextRun time.Time
}

// RuleStore is the persistence the engine needs for rules.
type RuleStore interface {
	// GetActiveByUserID returns the user's active rules, highest priority first.
	GetActiveByUserID(ctx context.Context, userID string) ([]ExecutionRule, error)

	// GetScheduledRulesDue returns active scheduled rules whose next run is at or before now.
	GetScheduledRulesDue(ctx context.Context, now time.Time) ([]ExecutionRule, error)

	// GetByIDAndUser returns ErrRuleNotFound when the rule does not belong to the user.
	GetByIDAndUser(ctx context.Context, id, userID string) (*ExecutionRule, error)

	// IncrementExecutionCount bumps the counter and records the execution time.
	IncrementExecutionCount(ctx context.Context, id string, at time.Time) error

	// UpdateScheduleRun stores the last and next run times.
	UpdateScheduleRun(ctx context.Context, id string, run ScheduleRun) error
}

// ExecutionLogStore persists execution audit records.
type ExecutionLogStore interface {
	Create(ctx context.Context, entry *ExecutionLogEntry) error
	GetStats(ctx context.Context, userID string) (*ExecutionStats, error)
	ListByRule(ctx context.Context, ruleID string, limit int) ([]ExecutionLogEntry, error)
}

// Notification is a user-facing message about a finished run.
type Notification struct {
	UserID   string `json:"user_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
}

// NotificationSink delivers notifications to the user.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// ToolSpec describes one tool available inside a session.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolSession is a per-user capability set handed to the agent.
type ToolSession struct {
	UserID    string
	Tools     []ToolSpec
	CreatedAt time.Time
}

// AgentResult is the agent's final answer for one task.
type AgentResult struct {
	FinalOutput string
}

// ToolProvider opens tool sessions and runs agent tasks inside them.
type ToolProvider interface {
	OpenSession(ctx context.Context, userID string) (*ToolSession, error)
	RunAgent(ctx context.Context, session *ToolSession, task string) (*AgentResult, error)
}

// ClassifierPrompt is the request sent to the rule classifier.
type ClassifierPrompt struct {
	System string
	User   string
}

// Classifier answers a prompt with raw text, expected to contain JSON.
type Classifier interface {
	Classify(ctx context.Context, prompt ClassifierPrompt) (string, error)
}

// Observer receives engine telemetry. Implementations must not block.
type Observer interface {
	TriggerEvaluated(triggerSlug string, matched bool)
	ExecutionFinished(path InvocationPath, status ExecutionStatus, duration time.Duration)
	SideEffectFailed(effect string)
}

// Observers fans telemetry out to several observers.
type Observers []Observer

func (o Observers) TriggerEvaluated(triggerSlug string, matched bool) {
	for _, obs := range o {
		obs.TriggerEvaluated(triggerSlug, matched)
	}
}

func (o Observers) ExecutionFinished(path InvocationPath, status ExecutionStatus, d time.Duration) {
	for _, obs := range o {
		obs.ExecutionFinished(path, status, d)
	}
}

func (o Observers) SideEffectFailed(effect string) {
	for _, obs := range o {
		obs.SideEffectFailed(effect)
	}
}
