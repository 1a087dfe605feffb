package automation

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ExecutionRule is a per-user automation definition: when it may fire,
// what it does, and where its output goes.
type ExecutionRule struct {
	// Identity
	ID     string `json:"id" yaml:"id"`
	UserID string `json:"user_id" yaml:"user_id"`
	Name   string `json:"name" yaml:"name"`

	// Description (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Higher priority rules are offered to the classifier first.
	Priority int `json:"priority" yaml:"priority"`

	// Trigger slugs this rule is willing to react to; empty accepts any.
	AcceptedTriggers []string `json:"accepted_triggers" yaml:"accepted_triggers"`

	// Natural-language condition evaluated by the classifier.
	TopicCondition string `json:"topic_condition" yaml:"topic_condition"`

	// Ordered steps to execute
	ExecutionSteps Steps `json:"execution_steps" yaml:"-"`

	// Output routing
	OutputConfig OutputConfig `json:"output_config" yaml:"output_config"`

	// Activation
	ActivationMode   ActivationMode   `json:"activation_mode" yaml:"activation_mode"`
	ScheduleEnabled  bool             `json:"schedule_enabled" yaml:"schedule_enabled"`
	ScheduleInterval ScheduleInterval `json:"schedule_interval,omitempty" yaml:"schedule_interval,omitempty"`
	ScheduleNextRun  *time.Time       `json:"schedule_next_run,omitempty" yaml:"-"`
	ScheduleLastRun  *time.Time       `json:"schedule_last_run,omitempty" yaml:"-"`
	IsActive         bool             `json:"is_active" yaml:"-"`

	// Bookkeeping
	ExecutionCount int        `json:"execution_count" yaml:"-"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty" yaml:"-"`
	CreatedAt      time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"-"`
}

// DeepCopy returns a copy of the rule that shares no mutable state with r.
func (r *ExecutionRule) DeepCopy() *ExecutionRule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AcceptedTriggers = slices.Clone(r.AcceptedTriggers)
	cp.ExecutionSteps = r.ExecutionSteps.clone()
	cp.ScheduleNextRun = copyTime(r.ScheduleNextRun)
	cp.ScheduleLastRun = copyTime(r.ScheduleLastRun)
	cp.LastExecutedAt = copyTime(r.LastExecutedAt)
	return &cp
}

// AcceptsTrigger reports whether slug passes the rule's trigger filter.
// An empty filter accepts every trigger.
func (r *ExecutionRule) AcceptsTrigger(slug string) bool {
	if len(r.AcceptedTriggers) == 0 {
		return true
	}
	return slices.Contains(r.AcceptedTriggers, slug)
}

// EligibleForTrigger reports whether an external event with the given slug
// may select this rule.
func (r *ExecutionRule) EligibleForTrigger(slug string) bool {
	return r.IsActive && r.ActivationMode.allows(ModeTrigger) && r.AcceptsTrigger(slug)
}

// EligibleForManual reports whether a user may invoke the rule directly.
func (r *ExecutionRule) EligibleForManual() bool {
	return r.IsActive && r.ActivationMode.allows(ModeManual)
}

// EligibleForSchedule reports whether the rule is due at now. A scheduled
// rule that has never been given a next run time is due immediately.
func (r *ExecutionRule) EligibleForSchedule(now time.Time) bool {
	if !r.IsActive || !r.ScheduleEnabled || !r.ActivationMode.allows(ModeScheduled) {
		return false
	}
	return r.ScheduleNextRun == nil || !now.Before(*r.ScheduleNextRun)
}

// ActivationMode restricts which invocation paths may run a rule.
type ActivationMode string

const (
	ModeTrigger   ActivationMode = "trigger"
	ModeManual    ActivationMode = "manual"
	ModeScheduled ActivationMode = "scheduled"
	ModeAll       ActivationMode = "all"
)

// AllActivationModes returns every valid activation mode.
func AllActivationModes() []ActivationMode {
	return []ActivationMode{ModeTrigger, ModeManual, ModeScheduled, ModeAll}
}

func (m ActivationMode) allows(path ActivationMode) bool {
	return m == path || m == ModeAll
}

// ScheduleInterval is the cadence of a scheduled rule.
type ScheduleInterval string

const (
	Interval15Min  ScheduleInterval = "15min"
	IntervalHourly ScheduleInterval = "hourly"
	IntervalDaily  ScheduleInterval = "daily"
	IntervalWeekly ScheduleInterval = "weekly"
)

// Duration maps the interval to its wall-clock length.
func (i ScheduleInterval) Duration() (time.Duration, bool) {
	switch i {
	case Interval15Min:
		return 15 * time.Minute, true
	case IntervalHourly:
		return time.Hour, true
	case IntervalDaily:
		return 24 * time.Hour, true
	case IntervalWeekly:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Platform is an output delivery channel.
type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformGmail   Platform = "gmail"
	PlatformWebhook Platform = "webhook"
	PlatformNone    Platform = "none"
)

// OutputFormat selects how a result is rendered before delivery.
type OutputFormat string

const (
	FormatSummary  OutputFormat = "summary"
	FormatDetailed OutputFormat = "detailed"
	FormatRaw      OutputFormat = "raw"
)

// OutputConfig describes where a rule's result is delivered.
type OutputConfig struct {
	Platform    Platform     `json:"platform" yaml:"platform"`
	Destination string       `json:"destination,omitempty" yaml:"destination,omitempty"` // channel, address or URL
	Format      OutputFormat `json:"format,omitempty" yaml:"format,omitempty"`
	Template    string       `json:"template,omitempty" yaml:"template,omitempty"` // {{result}} is replaced with the output
}

// delivers reports whether the config routes anywhere.
func (c OutputConfig) delivers() bool {
	return c.Platform != "" && c.Platform != PlatformNone
}

// ─── Steps ──────────────────────────────────────────────────────────────────

// StepType discriminates the Step variants on the wire.
type StepType string

const (
	StepInstruction StepType = "instruction"
	StepAction      StepType = "action"
)

// Step is one unit of work inside a rule. The set of variants is closed:
// InstructionStep, ActionStep and UnknownStep.
type Step interface {
	StepType() StepType
	isStep()
}

// InstructionStep is free-form text handed to the agent.
type InstructionStep struct {
	Content string `json:"content"`
}

// ActionStep names one tool to call with fixed parameters.
type ActionStep struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// UnknownStep preserves a stored step whose type this build does not know.
type UnknownStep struct {
	Type string
	Raw  json.RawMessage
}

func (InstructionStep) StepType() StepType { return StepInstruction }
func (ActionStep) StepType() StepType      { return StepAction }
func (s UnknownStep) StepType() StepType   { return StepType(s.Type) }

func (InstructionStep) isStep() {}
func (ActionStep) isStep()      {}
func (UnknownStep) isStep()     {}

// Steps is an ordered list of steps with a tagged JSON encoding.
type Steps []Step

type stepEnvelope struct {
	Type       StepType       `json:"type"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// MarshalJSON encodes each step as {"type": ..., ...}.
func (s Steps) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(s))
	for i, step := range s {
		var env stepEnvelope
		switch v := step.(type) {
		case InstructionStep:
			env = stepEnvelope{Type: StepInstruction, Content: v.Content}
		case ActionStep:
			env = stepEnvelope{Type: StepAction, ToolName: v.ToolName, Parameters: v.Parameters}
		case UnknownStep:
			if len(v.Raw) > 0 {
				out = append(out, v.Raw)
				continue
			}
			env = stepEnvelope{Type: StepType(v.Type)}
		default:
			return nil, fmt.Errorf("step %d: unsupported step %T", i, step)
		}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, data)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged form. Unrecognised types become UnknownStep.
func (s *Steps) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	steps := make(Steps, 0, len(raw))
	for i, item := range raw {
		var env stepEnvelope
		if err := json.Unmarshal(item, &env); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		switch env.Type {
		case StepInstruction:
			steps = append(steps, InstructionStep{Content: env.Content})
		case StepAction:
			steps = append(steps, ActionStep{ToolName: env.ToolName, Parameters: env.Parameters})
		default:
			steps = append(steps, UnknownStep{Type: string(env.Type), Raw: slices.Clone(item)})
		}
	}
	*s = steps
	return nil
}

func (s Steps) clone() Steps {
	if s == nil {
		return nil
	}
	out := make(Steps, len(s))
	for i, step := range s {
		if a, ok := step.(ActionStep); ok {
			a.Parameters = maps.Clone(a.Parameters)
			step = a
		}
		out[i] = step
	}
	return out
}

// ─── Trigger Payloads ───────────────────────────────────────────────────────

// Synthetic trigger slugs for non-event invocations.
const (
	TriggerManualInvocation   = "MANUAL_INVOCATION"
	TriggerScheduledExecution = "SCHEDULED_EXECUTION"
)

// Toolkit slugs reported for synthetic payloads.
const (
	ToolkitManual    = "MANUAL"
	ToolkitScheduler = "SCHEDULER"
)

// TriggerPayload is the normalised notification of an external event.
type TriggerPayload struct {
	TriggerSlug     string           `json:"triggerSlug"`
	ToolkitSlug     string           `json:"toolkitSlug"`
	UserID          string           `json:"userId"`
	Payload         map[string]any   `json:"payload"`
	OriginalPayload json.RawMessage  `json:"originalPayload,omitempty"`
	Metadata        *TriggerMetadata `json:"metadata,omitempty"`
}

// TriggerMetadata carries provider-side identifiers.
type TriggerMetadata struct {
	ConnectedAccountID string `json:"connectedAccountId,omitempty"`
}

// ConversationTurn is one message of chat history supplied with a manual run.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewManualPayload builds the synthetic payload for a user-initiated run.
// The history is flattened to "role: content" entries separated by blank lines.
func NewManualPayload(userID string, rule *ExecutionRule, userContext string, history []ConversationTurn) TriggerPayload {
	return TriggerPayload{
		TriggerSlug: TriggerManualInvocation,
		ToolkitSlug: ToolkitManual,
		UserID:      userID,
		Payload: map[string]any{
			"ruleId":              rule.ID,
			"ruleName":            rule.Name,
			"userContext":         userContext,
			"conversationHistory": FormatTranscript(history),
		},
	}
}

// NewScheduledPayload builds the synthetic payload for a scheduled run.
func NewScheduledPayload(rule *ExecutionRule, now time.Time) TriggerPayload {
	return TriggerPayload{
		TriggerSlug: TriggerScheduledExecution,
		ToolkitSlug: ToolkitScheduler,
		UserID:      rule.UserID,
		Payload: map[string]any{
			"ruleId":           rule.ID,
			"ruleName":         rule.Name,
			"scheduleInterval": string(rule.ScheduleInterval),
			"scheduledAt":      now.UTC().Format(time.RFC3339),
		},
	}
}

// FormatTranscript renders chat history as role-prefixed paragraphs.
func FormatTranscript(history []ConversationTurn) string {
	var out []byte
	for i, turn := range history {
		if i > 0 {
			out = append(out, "\n\n"...)
		}
		out = fmt.Appendf(out, "%s: %s", turn.Role, turn.Content)
	}
	return string(out)
}

// ─── Results ────────────────────────────────────────────────────────────────

// ExecutionStatus is the outcome classification of one rule run.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusPartial ExecutionStatus = "partial" // some steps failed, others succeeded
	StatusFailure ExecutionStatus = "failure"
)

// InvocationPath identifies which entry point ran a rule.
type InvocationPath string

const (
	PathTrigger   InvocationPath = "trigger"
	PathManual    InvocationPath = "manual"
	PathScheduled InvocationPath = "scheduled"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	StepIndex int      `json:"stepIndex"`
	Type      StepType `json:"type"`
	Success   bool     `json:"success"`
	Result    string   `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// RuleExecutionResult is the outcome of running every step of a rule.
type RuleExecutionResult struct {
	Success     bool         `json:"success"`
	RuleID      string       `json:"ruleId"`
	RuleName    string       `json:"ruleName"`
	TriggerSlug string       `json:"triggerSlug"`
	StepResults []StepResult `json:"stepResults"`
	Output      string       `json:"output"`
	Error       string       `json:"error,omitempty"`
	ExecutedAt  time.Time    `json:"executedAt"`
}

// Status classifies the run. Partial means at least one step succeeded
// and at least one failed.
func (r *RuleExecutionResult) Status() ExecutionStatus {
	var ok, failed int
	for _, sr := range r.StepResults {
		if sr.Success {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case ok > 0 && failed > 0:
		return StatusPartial
	case failed == 0 && r.Error == "":
		return StatusSuccess
	default:
		return StatusFailure
	}
}

// ExecutionLogEntry is the persisted audit record of one run.
type ExecutionLogEntry struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"rule_id"`
	RuleName    string          `json:"rule_name"`
	UserID      string          `json:"user_id"`
	TriggerSlug string          `json:"trigger_slug"`
	Path        InvocationPath  `json:"path"`
	Status      ExecutionStatus `json:"status"`
	StepResults []StepResult    `json:"step_results"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ExecutionStats aggregates a user's execution history.
type ExecutionStats struct {
	TotalRuns     int     `json:"total_runs"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// RuleMatchResult is the matcher's verdict for one trigger.
type RuleMatchResult struct {
	Matched    bool           `json:"matched"`
	Rule       *ExecutionRule `json:"rule,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

// ProcessingResult is returned by the trigger path.
type ProcessingResult struct {
	Matched  bool   `json:"matched"`
	Executed bool   `json:"executed"`
	RuleID   string `json:"ruleId,omitempty"`
	RuleName string `json:"ruleName,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ManualResult is returned by the manual path.
type ManualResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ScheduledSummary is returned by a scheduled sweep.
type ScheduledSummary struct {
	RulesProcessed int      `json:"rulesProcessed"`
	RulesSucceeded int      `json:"rulesSucceeded"`
	RulesFailed    int      `json:"rulesFailed"`
	Errors         []string `json:"errors"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
