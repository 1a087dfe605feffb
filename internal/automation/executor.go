package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// maxPayloadChars bounds, in bytes, the trigger payload embedded in agent tasks.
const maxPayloadChars = 8000

// unknownStepError is the StepResult error for a step type the executor cannot run.
const unknownStepError = "Unknown step type"

// Executor runs a rule's steps in order against the user's tool session.
//
// Steps never abort the run: a failed step is recorded and the next step
// still executes. Results of successful steps are passed forward as context.
//
// Thread Safety: Execute is safe for concurrent use.
type Executor struct {
	sessions *SessionCache
	logger   Logger
	now      func() time.Time
}

// NewExecutor creates an executor that acquires sessions from sessions.
func NewExecutor(sessions *SessionCache, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{sessions: sessions, logger: logger, now: time.Now}
}

// Execute runs every step of rule for userID, triggered by payload.
//
// Parameters:
//   - ctx: Context for cancellation of agent calls
//   - rule: The rule whose steps to run
//   - payload: The trigger (real or synthetic) that caused the run
//   - userID: Owner of the tool session
//
// Returns a RuleExecutionResult; it never returns an error. When no session
// can be acquired the result has Success false, no step results and a
// configuration error.
func (e *Executor) Execute(ctx context.Context, rule *ExecutionRule, payload TriggerPayload, userID string) RuleExecutionResult {
	result := RuleExecutionResult{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		TriggerSlug: payload.TriggerSlug,
		StepResults: []StepResult{},
		ExecutedAt:  e.now().UTC(),
	}

	session, err := e.sessions.Acquire(ctx, userID)
	if err != nil {
		e.logger.Error("tool session unavailable", "rule_id", rule.ID, "user_id", userID, "error", err)
		result.Error = fmt.Sprintf("tool configuration error: %v", err)
		return result
	}

	provider := e.sessions.Provider()
	var previous []string
	for i, step := range rule.ExecutionSteps {
		sr := StepResult{StepIndex: i, Type: step.StepType()}

		var task string
		switch s := step.(type) {
		case InstructionStep:
			task = buildInstructionTask(rule, payload, previous, s)
		case ActionStep:
			task = buildActionTask(s)
		default:
			sr.Error = unknownStepError
			result.StepResults = append(result.StepResults, sr)
			e.logger.Warn("unknown step type", "rule_id", rule.ID, "step", i, "type", step.StepType())
			continue
		}

		out, runErr := provider.RunAgent(ctx, session, task)
		switch {
		case runErr != nil:
			sr.Error = runErr.Error()
		case out == nil:
			sr.Error = "agent returned no result"
		default:
			sr.Success = true
			sr.Result = out.FinalOutput
			previous = append(previous, out.FinalOutput)
		}
		if !sr.Success {
			e.logger.Warn("step failed", "rule_id", rule.ID, "step", i, "error", sr.Error)
		}
		result.StepResults = append(result.StepResults, sr)
	}

	result.Output = strings.Join(previous, "\n")
	result.Success = true
	for _, sr := range result.StepResults {
		if !sr.Success {
			result.Success = false
			break
		}
	}
	if !result.Success && result.Error == "" {
		result.Error = firstStepError(result.StepResults)
	}
	return result
}

func firstStepError(results []StepResult) string {
	var failed int
	var first string
	for _, sr := range results {
		if !sr.Success {
			if failed == 0 {
				first = fmt.Sprintf("step %d: %s", sr.StepIndex, sr.Error)
			}
			failed++
		}
	}
	if failed > 1 {
		return fmt.Sprintf("%s (and %d more failed steps)", first, failed-1)
	}
	return first
}

// buildInstructionTask composes the agent task for a free-form instruction.
func buildInstructionTask(rule *ExecutionRule, payload TriggerPayload, previous []string, step InstructionStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing the automation rule %q.\n", rule.Name)
	fmt.Fprintf(&b, "Trigger: %s (source: %s)\n", payload.TriggerSlug, payload.ToolkitSlug)
	b.WriteString("Trigger payload:\n")
	b.WriteString(encodePayload(payload.Payload))
	b.WriteString("\n")
	if len(previous) > 0 {
		b.WriteString("\nResults from previous steps:\n")
		for i, p := range previous {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
	}
	b.WriteString("\nInstruction:\n")
	b.WriteString(step.Content)
	return b.String()
}

// buildActionTask composes a directive to call exactly one tool with exactly
// the stored parameters.
func buildActionTask(step ActionStep) string {
	params := step.Parameters
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Sprintf(
		"Call the tool %q exactly once with exactly these parameters:\n%s\n"+
			"Do not add, remove or modify any parameter and do not call any other tool. "+
			"Report the tool's result.",
		step.ToolName, data)
}

func encodePayload(p map[string]any) string {
	if p == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", p)
	}
	s := string(data)
	if len(s) > maxPayloadChars {
		s = cutAtRune(s, maxPayloadChars) + "\n…(truncated)"
	}
	return s
}

// cutAtRune returns at most n bytes of s without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
