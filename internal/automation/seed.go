package automation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleSeedStore is the subset of SQLiteRuleStore used for seeding.
type RuleSeedStore interface {
	GetByID(ctx context.Context, id string) (*ExecutionRule, error)
	Create(ctx context.Context, rule *ExecutionRule) error
	Update(ctx context.Context, rule *ExecutionRule) error
}

// seedFile is the on-disk layout of a rules file.
type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	ExecutionRule `yaml:",inline"`

	IsActive *bool      `yaml:"is_active"`
	Steps    []seedStep `yaml:"steps"`
}

// seedStep holds exactly one of Instruction or Tool.
type seedStep struct {
	Instruction string         `yaml:"instruction"`
	Tool        string         `yaml:"tool"`
	Parameters  map[string]any `yaml:"parameters"`
}

// LoadRuleSeeds reads and validates a YAML rules file.
//
// Example:
//
//	rules:
//	  - id: support-digest
//	    user_id: user-1
//	    name: Support digest
//	    accepted_triggers: [GMAIL_NEW_MESSAGE]
//	    topic_condition: Emails from customers reporting a bug
//	    steps:
//	      - instruction: Summarise the email in two sentences
//	      - tool: SLACK_SEND_MESSAGE
//	        parameters: {channel: "#support"}
//	    output_config: {platform: none}
func LoadRuleSeeds(path string) ([]ExecutionRule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied configuration
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	rules := make([]ExecutionRule, 0, len(f.Rules))
	for i, sr := range f.Rules {
		rule, err := sr.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule[%d]: %w", i, err)
		}
		if rule.ID == "" {
			return nil, fmt.Errorf("rule[%d]: %w: id is required in a rules file", i, ErrInvalidRule)
		}
		if err := ValidateRule(&rule); err != nil {
			return nil, fmt.Errorf("rule[%d] %s: %w", i, rule.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (sr seedRule) toRule() (ExecutionRule, error) {
	rule := sr.ExecutionRule
	rule.IsActive = sr.IsActive == nil || *sr.IsActive
	if rule.ActivationMode == "" {
		rule.ActivationMode = ModeTrigger
	}
	if rule.OutputConfig.Platform == "" {
		rule.OutputConfig.Platform = PlatformNone
	}

	rule.ExecutionSteps = make(Steps, 0, len(sr.Steps))
	for i, st := range sr.Steps {
		switch {
		case st.Instruction != "" && st.Tool != "":
			return ExecutionRule{}, fmt.Errorf("step[%d]: %w: set either instruction or tool", i, ErrInvalidStep)
		case st.Instruction != "":
			rule.ExecutionSteps = append(rule.ExecutionSteps, InstructionStep{Content: st.Instruction})
		case st.Tool != "":
			rule.ExecutionSteps = append(rule.ExecutionSteps, ActionStep{ToolName: st.Tool, Parameters: st.Parameters})
		default:
			return ExecutionRule{}, fmt.Errorf("step[%d]: %w: empty step", i, ErrInvalidStep)
		}
	}
	return rule, nil
}

// SeedRules creates or updates each rule in store. Existing rules keep their
// counters and schedule state.
func SeedRules(ctx context.Context, store RuleSeedStore, rules []ExecutionRule, logger Logger) (created, updated int, err error) {
	if logger == nil {
		logger = noopLogger{}
	}
	for i := range rules {
		rule := rules[i].DeepCopy()
		existing, getErr := store.GetByID(ctx, rule.ID)
		switch {
		case errors.Is(getErr, ErrRuleNotFound):
			if err := store.Create(ctx, rule); err != nil {
				return created, updated, fmt.Errorf("creating rule %s: %w", rule.ID, err)
			}
			created++
		case getErr != nil:
			return created, updated, fmt.Errorf("looking up rule %s: %w", rule.ID, getErr)
		case existing.UserID != rule.UserID:
			return created, updated, fmt.Errorf("%w: rule %s belongs to another user", ErrRuleExists, rule.ID)
		default:
			if err := store.Update(ctx, rule); err != nil {
				return created, updated, fmt.Errorf("updating rule %s: %w", rule.ID, err)
			}
			updated++
		}
	}
	logger.Info("rules seeded", "created", created, "updated", updated)
	return created, updated, nil
}
