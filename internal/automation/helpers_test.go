package automation

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database with the engine schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	// Matches migrations/20260301_000001_rules.up.sql
	schema := `
		CREATE TABLE execution_rules (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			accepted_triggers TEXT NOT NULL DEFAULT '[]',
			topic_condition TEXT NOT NULL DEFAULT '',
			execution_steps TEXT NOT NULL DEFAULT '[]',
			output_config TEXT NOT NULL DEFAULT '{}',
			activation_mode TEXT NOT NULL DEFAULT 'trigger',
			schedule_enabled INTEGER NOT NULL DEFAULT 0,
			schedule_interval TEXT,
			schedule_next_run TEXT,
			schedule_last_run TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			execution_count INTEGER NOT NULL DEFAULT 0,
			last_executed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE execution_logs (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			rule_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			trigger_slug TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			step_results TEXT NOT NULL DEFAULT '[]',
			output_text TEXT,
			error_text TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		) STRICT;`

	_, err = db.Exec(schema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

// testRule returns an active trigger rule with one instruction step.
func testRule(id, userID string, priority int) *ExecutionRule {
	return &ExecutionRule{
		ID:             id,
		UserID:         userID,
		Name:           "Rule " + id,
		Priority:       priority,
		TopicCondition: "condition for " + id,
		ExecutionSteps: Steps{InstructionStep{Content: "do the thing"}},
		OutputConfig:   OutputConfig{Platform: PlatformNone},
		ActivationMode: ModeTrigger,
		IsActive:       true,
	}
}

// fixedClock is a settable time source.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockClassifier records prompts and replies with a canned string.
type mockClassifier struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []ClassifierPrompt
}

func (m *mockClassifier) Classify(_ context.Context, p ClassifierPrompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, p)
	return m.reply, m.err
}

func (m *mockClassifier) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// mockProvider opens sessions and answers agent tasks via a handler.
type mockProvider struct {
	mu       sync.Mutex
	opens    int
	openErr  error
	tasks    []string
	handler  func(task string) (string, error)
	openHook func()
}

func (m *mockProvider) OpenSession(_ context.Context, userID string) (*ToolSession, error) {
	if m.openHook != nil {
		m.openHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &ToolSession{UserID: userID, Tools: []ToolSpec{{Name: "SLACK_SEND_MESSAGE"}}}, nil
}

func (m *mockProvider) RunAgent(_ context.Context, _ *ToolSession, task string) (*AgentResult, error) {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return &AgentResult{FinalOutput: "ok"}, nil
	}
	out, err := h(task)
	if err != nil {
		return nil, err
	}
	return &AgentResult{FinalOutput: out}, nil
}

func (m *mockProvider) recordedTasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tasks...)
}

func (m *mockProvider) tasksContaining(sub string) []string {
	var out []string
	for _, t := range m.recordedTasks() {
		if strings.Contains(t, sub) {
			out = append(out, t)
		}
	}
	return out
}

// mockNotifier captures notifications.
type mockNotifier struct {
	mu    sync.Mutex
	items []Notification
	err   error
}

func (m *mockNotifier) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return m.err
}

func (m *mockNotifier) all() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.items...)
}

// failingLogStore rejects every write.
type failingLogStore struct{}

func (failingLogStore) Create(context.Context, *ExecutionLogEntry) error {
	return errors.New("log store unavailable")
}

func (failingLogStore) GetStats(context.Context, string) (*ExecutionStats, error) {
	return nil, errors.New("log store unavailable")
}

func (failingLogStore) ListByRule(context.Context, string, int) ([]ExecutionLogEntry, error) {
	return nil, errors.New("log store unavailable")
}

// recordingObserver counts telemetry events.
type recordingObserver struct {
	mu          sync.Mutex
	evaluations map[bool]int
	finished    []ExecutionStatus
	sideEffects []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{evaluations: map[bool]int{}}
}

func (r *recordingObserver) TriggerEvaluated(_ string, matched bool) {
	r.mu.Lock()
	r.evaluations[matched]++
	r.mu.Unlock()
}

func (r *recordingObserver) ExecutionFinished(_ InvocationPath, s ExecutionStatus, _ time.Duration) {
	r.mu.Lock()
	r.finished = append(r.finished, s)
	r.mu.Unlock()
}

func (r *recordingObserver) SideEffectFailed(effect string) {
	r.mu.Lock()
	r.sideEffects = append(r.sideEffects, effect)
	r.mu.Unlock()
}
