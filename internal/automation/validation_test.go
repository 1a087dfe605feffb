package automation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *ExecutionRule)
		wantErr error
	}{
		{"valid", func(r *ExecutionRule) {}, nil},
		{"nil steps", func(r *ExecutionRule) { r.ExecutionSteps = nil }, ErrNoSteps},
		{"empty name", func(r *ExecutionRule) { r.Name = "  " }, ErrInvalidRule},
		{"long name", func(r *ExecutionRule) { r.Name = strings.Repeat("n", maxNameLength+1) }, ErrInvalidRule},
		{"missing user", func(r *ExecutionRule) { r.UserID = "" }, ErrInvalidRule},
		{"priority", func(r *ExecutionRule) { r.Priority = maxPriority + 1 }, ErrInvalidRule},
		{"mode", func(r *ExecutionRule) { r.ActivationMode = "sometimes" }, ErrInvalidRule},
		{"lowercase trigger", func(r *ExecutionRule) { r.AcceptedTriggers = []string{"gmail_new"} }, ErrInvalidRule},
		{"schedule without interval", func(r *ExecutionRule) { r.ScheduleEnabled = true }, ErrInvalidInterval},
		{"bad interval", func(r *ExecutionRule) { r.ScheduleInterval = "monthly" }, ErrInvalidInterval},
		{"empty instruction", func(r *ExecutionRule) { r.ExecutionSteps = Steps{InstructionStep{}} }, ErrInvalidStep},
		{"bad tool name", func(r *ExecutionRule) { r.ExecutionSteps = Steps{ActionStep{ToolName: "send mail"}} }, ErrInvalidStep},
		{"unknown step", func(r *ExecutionRule) { r.ExecutionSteps = Steps{UnknownStep{Type: "delay"}} }, ErrInvalidStep},
		{"slack without channel", func(r *ExecutionRule) { r.OutputConfig = OutputConfig{Platform: PlatformSlack} }, ErrNoDestination},
		{"bad platform", func(r *ExecutionRule) { r.OutputConfig = OutputConfig{Platform: "fax"} }, ErrUnsupportedPlatform},
		{"webhook not url", func(r *ExecutionRule) {
			r.OutputConfig = OutputConfig{Platform: PlatformWebhook, Destination: "ftp://x"}
		}, ErrInvalidRule},
		{"bad format", func(r *ExecutionRule) {
			r.OutputConfig = OutputConfig{Platform: PlatformSlack, Destination: "#c", Format: "html"}
		}, ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRule("r1", "u1", 0)
			tt.mutate(r)
			err := ValidateRule(r)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.ErrorIs(t, ValidateRule(nil), ErrInvalidRule)
}

func TestLoadRuleSeedsAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
rules:
  - id: billing
    user_id: u1
    name: Billing alerts
    priority: 10
    accepted_triggers: [GMAIL_NEW_MESSAGE]
    topic_condition: Emails about invoices
    steps:
      - instruction: Summarise the email
      - tool: SLACK_SEND_MESSAGE
        parameters:
          channel: "#team"
    output_config:
      platform: slack
      destination: "#team"
  - id: weekly
    user_id: u1
    name: Weekly report
    activation_mode: scheduled
    schedule_enabled: true
    schedule_interval: weekly
    is_active: false
    steps:
      - instruction: Compile the weekly report
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRuleSeeds(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	billing := rules[0]
	assert.True(t, billing.IsActive)
	assert.Equal(t, ModeTrigger, billing.ActivationMode)
	require.Len(t, billing.ExecutionSteps, 2)
	assert.Equal(t, "#team", billing.ExecutionSteps[1].(ActionStep).Parameters["channel"])

	weekly := rules[1]
	assert.False(t, weekly.IsActive)
	assert.Equal(t, IntervalWeekly, weekly.ScheduleInterval)
	assert.Equal(t, PlatformNone, weekly.OutputConfig.Platform)

	store := NewSQLiteRuleStore(setupTestDB(t))
	ctx := context.Background()
	created, updated, err := SeedRules(ctx, store, rules, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Zero(t, updated)

	require.NoError(t, store.IncrementExecutionCount(ctx, "billing", time.Now()))
	created, updated, err = SeedRules(ctx, store, rules, nil)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 2, updated)

	got, err := store.GetByID(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionCount, "reseeding keeps counters")
}

func TestLoadRuleSeedsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
rules:
  - id: broken
    user_id: u1
    name: Broken
    steps:
      - instruction: one
        tool: TWO
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadRuleSeeds(path)
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = LoadRuleSeeds(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
