// Package automation provides the rule engine for Triggerflow Core.
//
// A rule is a per-user automation: a natural-language condition, an ordered
// list of steps carried out by an agent with the user's tools, and an
// output destination. Rules run on three paths that share one tail.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                Orchestrator (orchestrator.go)                │
//	│  Process ─────────┐   ProcessManual ──┐   ProcessScheduled   │
//	│   (trigger)       │    (manual)       │    (ticker.go)       │
//	│        ▼          │                   │        ▼             │
//	│  ┌────────────┐   │                   │  ┌─────────────┐     │
//	│  │  Matcher   │   │                   │  │  Scheduler  │     │
//	│  │(matcher.go)│   │                   │  │  DueRules   │     │
//	│  └────────────┘   │                   │  └─────────────┘     │
//	│        ▼          ▼                   ▼        ▼             │
//	│  ┌────────────────────────────────────────────────────┐     │
//	│  │  Executor (executor.go) + SessionCache             │     │
//	│  └────────────────────────────────────────────────────┘     │
//	│        ▼                                                     │
//	│  ┌────────────────────────────────────────────────────┐     │
//	│  │  Tail (best-effort, never alters the result)       │     │
//	│  │  1. Status: success / partial / failure            │     │
//	│  │  2. Execution log entry                            │     │
//	│  │  3. Notification (first 200 chars)                 │     │
//	│  │  4. Increment execution count                      │     │
//	│  │  5. Dispatcher (slack, gmail, webhook)             │     │
//	│  │  6. Scheduled only: advance next run               │     │
//	│  └────────────────────────────────────────────────────┘     │
//	└──────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - ExecutionRule: Rule definition with activation and schedule state
//   - Step: Sealed union of InstructionStep and ActionStep
//   - TriggerPayload: Normalised external event, or a synthetic one
//   - RuleExecutionResult: Per-step outcomes and joined output
//   - Orchestrator: Entry point for all three paths
//
// # Thread Safety
//
// Orchestrator, Executor, SessionCache and Dispatcher are safe for concurrent
// use. There is no per-rule lock; concurrent runs of one rule are independent.
//
// # Usage
//
//	rules := automation.NewSQLiteRuleStore(db)
//	sessions := automation.NewSessionCache(provider, time.Hour)
//	orch, err := automation.NewOrchestrator(automation.Deps{
//	    Rules:      rules,
//	    Logs:       automation.NewSQLiteLogStore(db),
//	    Notifier:   sink,
//	    Matcher:    automation.NewMatcher(classifier, log),
//	    Executor:   automation.NewExecutor(sessions, log),
//	    Scheduler:  automation.NewScheduler(rules),
//	    Dispatcher: automation.NewDispatcher(sessions, nil, automation.DispatcherConfig{}, log),
//	    Logger:     log,
//	})
//
//	res := orch.Process(ctx, "user-1", payload)
package automation
