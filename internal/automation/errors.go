package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist for the user.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrRuleInactive is returned when invoking a rule that is switched off.
	ErrRuleInactive = errors.New("rule: not active")

	// ErrManualNotAllowed is returned when a rule's activation mode excludes manual runs.
	ErrManualNotAllowed = errors.New("rule: manual invocation not allowed")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidStep is returned when an execution step is malformed.
	ErrInvalidStep = errors.New("rule: invalid step")

	// ErrNoSteps is returned when a rule has no execution steps.
	ErrNoSteps = errors.New("rule: no execution steps")

	// ErrInvalidInterval is returned for an unknown schedule interval.
	ErrInvalidInterval = errors.New("rule: invalid schedule interval")

	// ErrNoSession is returned when no tool session could be acquired for a user.
	ErrNoSession = errors.New("tools: no session available")

	// ErrNoDestination is returned when an output platform has no destination.
	ErrNoDestination = errors.New("output: no destination")

	// ErrUnsupportedPlatform is returned for an unknown output platform.
	ErrUnsupportedPlatform = errors.New("output: unsupported platform")
)
