package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// classifierSystemPrompt instructs the classifier on ordering and reply shape.
const classifierSystemPrompt = `You route incoming events to automation rules.
You receive one event and a list of candidate rules in priority order.
Evaluate the candidates strictly in the order given and select the FIRST rule whose condition the event satisfies.
Reply with a single JSON object and nothing else:
{"matchedRuleId": "<rule id or null>", "confidence": <number between 0 and 1>, "reasoning": "<one sentence>"}
Use null for matchedRuleId when no rule applies.`

var fencedJSONRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

var errUnparseable = errors.New("classifier reply contains no recognisable verdict")

// Matcher selects at most one rule for a trigger by asking a Classifier.
type Matcher struct {
	classifier Classifier
	logger     Logger
}

// NewMatcher creates a matcher backed by classifier.
func NewMatcher(classifier Classifier, logger Logger) *Matcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Matcher{classifier: classifier, logger: logger}
}

// Match asks the classifier which candidate, if any, the trigger satisfies.
//
// Candidates must already be ordered by priority, highest first; that order
// is preserved in the prompt. An empty list returns without calling the
// classifier. Classifier errors, unparseable replies and IDs outside the
// candidate set all yield Matched false. Match never returns an error.
func (m *Matcher) Match(ctx context.Context, payload TriggerPayload, candidates []ExecutionRule) RuleMatchResult {
	if len(candidates) == 0 {
		return RuleMatchResult{Reasoning: "no candidate rules"}
	}
	if m.classifier == nil {
		return RuleMatchResult{Reasoning: "no classifier configured"}
	}

	prompt := ClassifierPrompt{System: classifierSystemPrompt, User: buildClassifierRequest(payload, candidates)}
	raw, err := m.classifier.Classify(ctx, prompt)
	if err != nil {
		m.logger.Warn("classifier call failed", "trigger", payload.TriggerSlug, "error", err)
		return RuleMatchResult{Reasoning: fmt.Sprintf("classifier error: %v", err)}
	}

	verdict, err := parseClassification(raw)
	if err != nil {
		m.logger.Warn("classifier reply not understood", "trigger", payload.TriggerSlug, "error", err)
		return RuleMatchResult{Reasoning: fmt.Sprintf("unparseable classifier reply: %v", err)}
	}
	if verdict.MatchedRuleID == nil || *verdict.MatchedRuleID == "" {
		return RuleMatchResult{Confidence: verdict.Confidence, Reasoning: verdict.Reasoning}
	}

	for i := range candidates {
		if candidates[i].ID == *verdict.MatchedRuleID {
			return RuleMatchResult{
				Matched:    true,
				Rule:       candidates[i].DeepCopy(),
				Confidence: verdict.Confidence,
				Reasoning:  verdict.Reasoning,
			}
		}
	}

	m.logger.Warn("classifier returned unknown rule id", "trigger", payload.TriggerSlug, "rule_id", *verdict.MatchedRuleID)
	return RuleMatchResult{
		Confidence: verdict.Confidence,
		Reasoning:  fmt.Sprintf("classifier selected unknown rule %q", *verdict.MatchedRuleID),
	}
}

// classification is the reply shape requested from the classifier.
type classification struct {
	MatchedRuleID *string `json:"matchedRuleId"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// parseClassification extracts the verdict from a classifier reply, trying in
// turn: the whole reply as JSON, a fenced code block, and the first JSON
// object embedded in prose that contains "matchedRuleId".
func parseClassification(raw string) (classification, error) {
	raw = strings.TrimSpace(raw)
	if v, ok := decodeClassification(raw); ok {
		return v, nil
	}
	if m := fencedJSONRegex.FindStringSubmatch(raw); m != nil {
		if v, ok := decodeClassification(strings.TrimSpace(m[1])); ok {
			return v, nil
		}
	}
	if v, ok := scanClassification(raw); ok {
		return v, nil
	}
	return classification{}, errUnparseable
}

// scanClassification decodes a JSON value starting at each '{' in raw and
// returns the first one that is a verdict. Braces inside strings are handled
// by the decoder.
func scanClassification(raw string) (classification, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		var obj json.RawMessage
		if err := json.NewDecoder(strings.NewReader(raw[i:])).Decode(&obj); err != nil {
			continue
		}
		if v, ok := decodeClassification(string(obj)); ok {
			return v, true
		}
	}
	return classification{}, false
}

func decodeClassification(s string) (classification, bool) {
	if !strings.HasPrefix(s, "{") {
		return classification{}, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return classification{}, false
	}
	if _, ok := probe["matchedRuleId"]; !ok {
		return classification{}, false
	}
	var v classification
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return classification{}, false
	}
	return v, true
}

type candidateView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TopicCondition string `json:"topicCondition"`
}

type eventView struct {
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

// buildClassifierRequest serialises the event and candidates, preserving order.
func buildClassifierRequest(payload TriggerPayload, candidates []ExecutionRule) string {
	views := make([]candidateView, len(candidates))
	for i, r := range candidates {
		views[i] = candidateView{ID: r.ID, Name: r.Name, TopicCondition: r.TopicCondition}
	}
	event := eventView{Type: payload.TriggerSlug, Source: payload.ToolkitSlug, Payload: payload.Payload}

	eventJSON, _ := json.MarshalIndent(event, "", "  ")      //nolint:errchkjson // map of decoded JSON values
	candidatesJSON, _ := json.MarshalIndent(views, "", "  ") //nolint:errchkjson // plain strings

	var b strings.Builder
	b.WriteString("Event:\n")
	b.Write(eventJSON)
	b.WriteString("\n\nCandidate rules (highest priority first):\n")
	b.Write(candidatesJSON)
	return b.String()
}
