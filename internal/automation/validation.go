package automation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength       = 100
	maxDescriptionLen   = 1000
	maxConditionLength  = 2000
	maxSteps            = 50
	maxStepContentLen   = 8000
	minPriority         = -1000
	maxPriority         = 1000
	maxAcceptedTriggers = 100
	maxParameterKeys    = 50
	triggerSlugPattern  = `^[A-Z0-9]+(?:_[A-Z0-9]+)*$`
	toolNamePattern     = `^[A-Za-z0-9_.-]+$`
)

var (
	triggerSlugRegex = regexp.MustCompile(triggerSlugPattern)
	toolNameRegex    = regexp.MustCompile(toolNamePattern)
)

// Pre-computed validation sets for O(1) lookups.
var (
	validModes     = map[ActivationMode]struct{}{}
	validIntervals = map[ScheduleInterval]struct{}{
		Interval15Min: {}, IntervalHourly: {}, IntervalDaily: {}, IntervalWeekly: {},
	}
	validPlatforms = map[Platform]struct{}{
		PlatformSlack: {}, PlatformGmail: {}, PlatformWebhook: {}, PlatformNone: {},
	}
	validFormats = map[OutputFormat]struct{}{
		FormatSummary: {}, FormatDetailed: {}, FormatRaw: {},
	}
)

func init() {
	for _, m := range AllActivationModes() {
		validModes[m] = struct{}{}
	}
}

// ValidateRule performs comprehensive validation on a rule.
// Returns an error describing the first validation failure found.
func ValidateRule(r *ExecutionRule) error { //nolint:gocognit,gocyclo // flat list of field checks
	if r == nil {
		return ErrInvalidRule
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidRule)
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRule, maxNameLength)
	}
	if len(r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRule, maxDescriptionLen)
	}
	if len(r.TopicCondition) > maxConditionLength {
		return fmt.Errorf("%w: topic_condition exceeds %d characters", ErrInvalidRule, maxConditionLength)
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		return fmt.Errorf("%w: priority must be %d to %d", ErrInvalidRule, minPriority, maxPriority)
	}
	if _, ok := validModes[r.ActivationMode]; !ok {
		return fmt.Errorf("%w: invalid activation_mode %q", ErrInvalidRule, r.ActivationMode)
	}

	if len(r.AcceptedTriggers) > maxAcceptedTriggers {
		return fmt.Errorf("%w: accepted_triggers exceeds %d entries", ErrInvalidRule, maxAcceptedTriggers)
	}
	for _, slug := range r.AcceptedTriggers {
		if !triggerSlugRegex.MatchString(slug) {
			return fmt.Errorf("%w: trigger slug %q must be upper snake case", ErrInvalidRule, slug)
		}
	}

	// An interval is mandatory once scheduling is on, and must be valid whenever set.
	if r.ScheduleEnabled || r.ScheduleInterval != "" {
		if _, ok := validIntervals[r.ScheduleInterval]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidInterval, r.ScheduleInterval)
		}
	}

	if err := ValidateSteps(r.ExecutionSteps); err != nil {
		return err
	}
	return ValidateOutputConfig(r.OutputConfig)
}

// ValidateSteps checks the execution step list.
func ValidateSteps(steps Steps) error {
	if len(steps) == 0 {
		return ErrNoSteps
	}
	if len(steps) > maxSteps {
		return fmt.Errorf("%w: exceeds maximum of %d steps", ErrInvalidStep, maxSteps)
	}
	for i, step := range steps {
		if err := ValidateStep(step); err != nil {
			return fmt.Errorf("step[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateStep checks a single step.
func ValidateStep(step Step) error {
	switch s := step.(type) {
	case InstructionStep:
		if strings.TrimSpace(s.Content) == "" {
			return fmt.Errorf("%w: instruction content is required", ErrInvalidStep)
		}
		if len(s.Content) > maxStepContentLen {
			return fmt.Errorf("%w: instruction exceeds %d characters", ErrInvalidStep, maxStepContentLen)
		}
	case ActionStep:
		if !toolNameRegex.MatchString(s.ToolName) {
			return fmt.Errorf("%w: invalid tool name %q", ErrInvalidStep, s.ToolName)
		}
		if len(s.Parameters) > maxParameterKeys {
			return fmt.Errorf("%w: parameters exceeds %d keys", ErrInvalidStep, maxParameterKeys)
		}
	default:
		return fmt.Errorf("%w: unknown step type %q", ErrInvalidStep, step.StepType())
	}
	return nil
}

// ValidateOutputConfig checks platform, format and destination.
func ValidateOutputConfig(c OutputConfig) error {
	if c.Platform == "" {
		return nil
	}
	if _, ok := validPlatforms[c.Platform]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedPlatform, c.Platform)
	}
	if c.Format != "" {
		if _, ok := validFormats[c.Format]; !ok {
			return fmt.Errorf("%w: invalid output format %q", ErrInvalidRule, c.Format)
		}
	}
	if c.Platform == PlatformNone {
		return nil
	}
	if strings.TrimSpace(c.Destination) == "" {
		return fmt.Errorf("%w: %s requires a destination", ErrNoDestination, c.Platform)
	}
	if c.Platform == PlatformWebhook {
		u, err := url.Parse(c.Destination)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: webhook destination must be an http(s) URL", ErrInvalidRule)
		}
	}
	return nil
}

// GenerateID creates a new UUID for a rule, log entry or notification.
func GenerateID() string {
	return uuid.New().String()
}
