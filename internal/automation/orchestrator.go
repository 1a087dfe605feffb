package automation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Default tail settings.
const (
	defaultPreviewChars = 200

	// maxRuleExecutionTime bounds the steps of one rule run.
	maxRuleExecutionTime = 5 * time.Minute

	// sideEffectTimeout bounds the post-execution writes, which run
	// detached from the caller's cancellation.
	sideEffectTimeout = 30 * time.Second
)

// Side effect names reported to observers and logs.
const (
	effectLog       = "execution_log"
	effectNotify    = "notification"
	effectIncrement = "execution_count"
	effectDispatch  = "dispatch"
	effectSchedule  = "schedule_advance"
)

// Deps are the collaborators of an Orchestrator. Rules, Matcher, Executor
// and Scheduler are required; the rest may be nil.
type Deps struct {
	Rules      RuleStore
	Logs       ExecutionLogStore
	Notifier   NotificationSink
	Matcher    *Matcher
	Executor   *Executor
	Scheduler  *Scheduler
	Dispatcher *Dispatcher
	Observers  Observers
	Logger     Logger

	// PreviewChars bounds the notification body (default 200).
	PreviewChars int
}

// Orchestrator is the engine's entry point. It serves three invocation
// paths (trigger, manual, scheduled) and runs the same post-execution tail
// for each.
//
// No per-rule lock is taken: a rule may run concurrently on different
// paths, and each run is independent.
//
// Thread Safety: All methods are safe for concurrent use.
type Orchestrator struct {
	rules      RuleStore
	logs       ExecutionLogStore
	notifier   NotificationSink
	matcher    *Matcher
	executor   *Executor
	scheduler  *Scheduler
	dispatcher *Dispatcher
	observers  Observers
	logger     Logger
	preview    int
	now        func() time.Time
}

// NewOrchestrator wires an orchestrator from deps.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Rules == nil:
		return nil, errors.New("automation: rule store is required")
	case deps.Matcher == nil:
		return nil, errors.New("automation: matcher is required")
	case deps.Executor == nil:
		return nil, errors.New("automation: executor is required")
	case deps.Scheduler == nil:
		return nil, errors.New("automation: scheduler is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	preview := deps.PreviewChars
	if preview <= 0 {
		preview = defaultPreviewChars
	}
	return &Orchestrator{
		rules:      deps.Rules,
		logs:       deps.Logs,
		notifier:   deps.Notifier,
		matcher:    deps.Matcher,
		executor:   deps.Executor,
		scheduler:  deps.Scheduler,
		dispatcher: deps.Dispatcher,
		observers:  deps.Observers,
		logger:     logger,
		preview:    preview,
		now:        time.Now,
	}, nil
}

// ─── Trigger Path ───────────────────────────────────────────────────────────

// Process handles an external event for userID.
//
// It loads the user's active rules, keeps those whose activation mode allows
// triggers and whose trigger filter accepts the slug, asks the matcher for
// the first satisfied rule in priority order, and executes it. No match is a
// normal outcome and returns Matched false with no error.
func (o *Orchestrator) Process(ctx context.Context, userID string, payload TriggerPayload) (res ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("trigger processing panicked",
				"user_id", userID,
				"trigger", payload.TriggerSlug,
				"rule_id", res.RuleID,
				"panic", r,
			)
			res = ProcessingResult{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	rules, err := o.rules.GetActiveByUserID(ctx, userID)
	if err != nil {
		o.logger.Error("loading rules failed", "user_id", userID, "error", err)
		return ProcessingResult{Error: fmt.Sprintf("loading rules: %v", err)}
	}

	candidates := triggerCandidates(rules, payload.TriggerSlug)
	if len(candidates) == 0 {
		o.logger.Debug("no rules accept trigger", "user_id", userID, "trigger", payload.TriggerSlug, "active_rules", len(rules))
		o.observers.TriggerEvaluated(payload.TriggerSlug, false)
		return ProcessingResult{}
	}

	match := o.matcher.Match(ctx, payload, candidates)
	o.observers.TriggerEvaluated(payload.TriggerSlug, match.Matched)
	if !match.Matched || match.Rule == nil {
		o.logger.Debug("no rule matched", "user_id", userID, "trigger", payload.TriggerSlug, "reasoning", match.Reasoning)
		return ProcessingResult{}
	}

	rule := match.Rule
	res = ProcessingResult{Matched: true, RuleID: rule.ID, RuleName: rule.Name}
	o.logger.Info("rule matched",
		"user_id", userID,
		"trigger", payload.TriggerSlug,
		"rule_id", rule.ID,
		"confidence", match.Confidence,
	)

	result := o.run(ctx, PathTrigger, rule, payload, userID)
	res.Executed = result.Success
	if !result.Success {
		res.Error = result.Error
	}
	return res
}

// triggerCandidates applies the activation-mode and trigger filters and
// returns the survivors highest priority first.
func triggerCandidates(rules []ExecutionRule, slug string) []ExecutionRule {
	out := make([]ExecutionRule, 0, len(rules))
	for _, r := range rules {
		if r.EligibleForTrigger(slug) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b ExecutionRule) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out
}

// ─── Manual Path ────────────────────────────────────────────────────────────

// ProcessManualByID loads ruleID for userID and runs it manually.
func (o *Orchestrator) ProcessManualByID(ctx context.Context, userID, ruleID, userContext string, history []ConversationTurn) ManualResult {
	rule, err := o.rules.GetByIDAndUser(ctx, ruleID, userID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return ManualResult{Error: ErrRuleNotFound.Error()}
		}
		o.logger.Error("loading rule failed", "rule_id", ruleID, "user_id", userID, "error", err)
		return ManualResult{Error: fmt.Sprintf("loading rule: %v", err)}
	}
	return o.ProcessManual(ctx, userID, rule, userContext, history)
}

// ProcessManual runs rule on behalf of userID. The rule must be active and
// its activation mode must allow manual runs.
//
// Parameters:
//   - ctx: Context for cancellation
//   - userID: Invoking user
//   - rule: The rule to run
//   - userContext: Free text supplied by the user
//   - history: Conversation preceding the invocation
func (o *Orchestrator) ProcessManual(ctx context.Context, userID string, rule *ExecutionRule, userContext string, history []ConversationTurn) (res ManualResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("manual invocation panicked", "user_id", userID, "panic", r)
			res = ManualResult{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if rule == nil {
		return ManualResult{Error: ErrRuleNotFound.Error()}
	}
	if !rule.IsActive {
		return ManualResult{Error: ErrRuleInactive.Error()}
	}
	if !rule.EligibleForManual() {
		return ManualResult{Error: fmt.Sprintf("%v (activation mode %q)", ErrManualNotAllowed, rule.ActivationMode)}
	}

	payload := NewManualPayload(userID, rule, userContext, history)
	result := o.run(ctx, PathManual, rule, payload, userID)
	return ManualResult{Success: result.Success, Output: result.Output, Error: result.Error}
}

// ─── Scheduled Path ─────────────────────────────────────────────────────────

// ProcessScheduled runs every rule that is due now, across all users.
//
// Each rule's schedule is advanced after its attempt whatever the outcome,
// including a panic, so a failing rule is retried only at its next interval.
// Failures are isolated per rule and collected in the summary.
func (o *Orchestrator) ProcessScheduled(ctx context.Context) ScheduledSummary {
	summary := ScheduledSummary{Errors: []string{}}

	due, err := o.scheduler.DueRules(ctx)
	if err != nil {
		o.logger.Error("scheduled sweep failed", "error", err)
		summary.Errors = append(summary.Errors, err.Error())
		return summary
	}
	if len(due) > 0 {
		o.logger.Info("scheduled sweep", "due_rules", len(due))
	}

	for i := range due {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("sweep cancelled: %v", ctx.Err()))
			break
		}
		summary.RulesProcessed++
		ok, errMsg := o.runScheduled(ctx, &due[i])
		if ok {
			summary.RulesSucceeded++
			continue
		}
		summary.RulesFailed++
		if errMsg != "" {
			summary.Errors = append(summary.Errors, fmt.Sprintf("rule %s: %s", due[i].ID, errMsg))
		}
	}
	return summary
}

func (o *Orchestrator) runScheduled(ctx context.Context, rule *ExecutionRule) (ok bool, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("scheduled rule panicked", "rule_id", rule.ID, "panic", r)
			ok, errMsg = false, fmt.Sprintf("internal error: %v", r)
		}
		advanceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		if _, err := o.scheduler.Advance(advanceCtx, rule); err != nil {
			o.logger.Error("schedule advance failed", "rule_id", rule.ID, "error", err)
			o.observers.SideEffectFailed(effectSchedule)
			if errMsg == "" {
				errMsg = err.Error()
			} else {
				errMsg += "; " + err.Error()
			}
		}
	}()

	payload := NewScheduledPayload(rule, o.scheduler.Now())
	result := o.run(ctx, PathScheduled, rule, payload, rule.UserID)
	return result.Success, result.Error
}

// ─── Common Tail ────────────────────────────────────────────────────────────

// effectOutcome records a best-effort side effect that failed.
type effectOutcome struct {
	name string
	err  error
}

// run executes rule and applies the common tail. Only the steps are bound
// by the caller's context and the execution cap; the tail always runs to
// completion so a cancelled or timed-out run is still logged and counted.
func (o *Orchestrator) run(ctx context.Context, path InvocationPath, rule *ExecutionRule, payload TriggerPayload, userID string) RuleExecutionResult {
	execCtx, cancelExec := context.WithTimeout(ctx, maxRuleExecutionTime)
	defer cancelExec()
	started := o.now()
	result := o.executor.Execute(execCtx, rule, payload, userID)
	duration := o.now().Sub(started)
	cancelExec()

	tailCtx, cancelTail := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancelTail()

	for _, f := range o.tail(tailCtx, path, rule, &result, userID, duration) {
		o.logger.Warn("side effect failed", "effect", f.name, "rule_id", rule.ID, "error", f.err)
		o.observers.SideEffectFailed(f.name)
	}

	o.logger.Info("rule executed",
		"path", path,
		"rule_id", rule.ID,
		"user_id", userID,
		"status", result.Status(),
		"steps", len(result.StepResults),
		"duration_ms", duration.Milliseconds(),
	)
	return result
}

// tail performs the post-execution side effects in order, returning the
// failed ones. None of them influences the execution result.
func (o *Orchestrator) tail(ctx context.Context, path InvocationPath, rule *ExecutionRule, result *RuleExecutionResult, userID string, duration time.Duration) []effectOutcome {
	var failed []effectOutcome
	status := result.Status()

	if o.logs != nil {
		entry := &ExecutionLogEntry{
			ID:          GenerateID(),
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			UserID:      userID,
			TriggerSlug: result.TriggerSlug,
			Path:        path,
			Status:      status,
			StepResults: result.StepResults,
			Output:      result.Output,
			Error:       result.Error,
			DurationMS:  duration.Milliseconds(),
			CreatedAt:   result.ExecutedAt,
		}
		if err := o.logs.Create(ctx, entry); err != nil {
			failed = append(failed, effectOutcome{effectLog, err})
		}
	}

	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, o.buildNotification(rule, result, status, userID)); err != nil {
			failed = append(failed, effectOutcome{effectNotify, err})
		}
	}

	if err := o.rules.IncrementExecutionCount(ctx, rule.ID, result.ExecutedAt); err != nil {
		failed = append(failed, effectOutcome{effectIncrement, err})
	}

	if o.dispatcher != nil && rule.OutputConfig.delivers() {
		if out := o.dispatcher.Dispatch(ctx, rule, result, userID); out.Err != nil {
			failed = append(failed, effectOutcome{effectDispatch, out.Err})
		}
	}

	o.observers.ExecutionFinished(path, status, duration)
	return failed
}

func (o *Orchestrator) buildNotification(rule *ExecutionRule, result *RuleExecutionResult, status ExecutionStatus, userID string) Notification {
	n := Notification{
		UserID:   userID,
		Type:     "execution_" + string(status),
		RuleID:   rule.ID,
		RuleName: rule.Name,
	}
	switch status {
	case StatusSuccess:
		n.Title = fmt.Sprintf("Rule %q completed", rule.Name)
		n.Body = truncate(result.Output, o.preview)
	case StatusPartial:
		n.Title = fmt.Sprintf("Rule %q partially completed", rule.Name)
		n.Body = truncate(result.Output, o.preview)
	default:
		n.Title = fmt.Sprintf("Rule %q failed", rule.Name)
		n.Body = truncate(result.Error, o.preview)
	}
	return n
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
