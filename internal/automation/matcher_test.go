package automation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gmailPayload() TriggerPayload {
	return TriggerPayload{
		TriggerSlug: "GMAIL_NEW_MESSAGE",
		ToolkitSlug: "GMAIL",
		UserID:      "u1",
		Payload:     map[string]any{"subject": "Invoice overdue", "from": "billing@example.com"},
	}
}

func TestMatchEmptyCandidatesSkipsClassifier(t *testing.T) {
	cls := &mockClassifier{reply: `{"matchedRuleId":"r1"}`}
	m := NewMatcher(cls, nil)

	res := m.Match(context.Background(), gmailPayload(), nil)

	assert.False(t, res.Matched)
	assert.Zero(t, cls.calls())
}

func TestMatchPreservesPriorityOrderInPrompt(t *testing.T) {
	cls := &mockClassifier{reply: `{"matchedRuleId":null,"confidence":0.2,"reasoning":"none"}`}
	m := NewMatcher(cls, nil)

	high := *testRule("rule-10", "u1", 10)
	low := *testRule("rule-5", "u1", 5)
	m.Match(context.Background(), gmailPayload(), []ExecutionRule{high, low})

	require.Equal(t, 1, cls.calls())
	prompt := cls.prompts[0]
	assert.Contains(t, prompt.System, "FIRST")
	hi := strings.Index(prompt.User, "rule-10")
	lo := strings.Index(prompt.User, "rule-5")
	require.NotEqual(t, -1, hi)
	require.NotEqual(t, -1, lo)
	assert.Less(t, hi, lo, "higher priority rule must be listed first")
	assert.Contains(t, prompt.User, "GMAIL_NEW_MESSAGE")
	assert.Contains(t, prompt.User, "Invoice overdue")
	assert.Contains(t, prompt.User, "condition for rule-10")
}

func TestMatchReplyFormats(t *testing.T) {
	candidates := []ExecutionRule{*testRule("r1", "u1", 1), *testRule("r2", "u1", 0)}

	replies := map[string]string{
		"bare json":      `{"matchedRuleId":"r2","confidence":0.9,"reasoning":"billing email"}`,
		"fenced json":    "Here you go:\n```json\n{\"matchedRuleId\":\"r2\",\"confidence\":0.9,\"reasoning\":\"billing email\"}\n```",
		"fenced no lang": "```\n{\"matchedRuleId\":\"r2\",\"confidence\":0.9,\"reasoning\":\"billing email\"}\n```",
		"embedded":       `I think {"matchedRuleId": "r2", "confidence": 0.9, "reasoning": "billing email"} fits best.`,
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			m := NewMatcher(&mockClassifier{reply: reply}, nil)
			res := m.Match(context.Background(), gmailPayload(), candidates)

			require.True(t, res.Matched)
			assert.Equal(t, "r2", res.Rule.ID)
			assert.InDelta(t, 0.9, res.Confidence, 1e-9)
			assert.Equal(t, "billing email", res.Reasoning)
		})
	}
}

func TestMatchEmbeddedVerdictWithBraces(t *testing.T) {
	candidates := []ExecutionRule{*testRule("r1", "u1", 1), *testRule("r2", "u1", 0)}
	replies := map[string]string{
		"brace in reasoning": `My answer: {"matchedRuleId":"r2","confidence":0.6,"reasoning":"subject has {invoice} tag"} done.`,
		"nested metadata":    `Result {"matchedRuleId":"r2","confidence":0.6,"reasoning":"subject has {invoice} tag","meta":{"k":1}}`,
		"stray brace first":  `Ignoring {this} aside, {"matchedRuleId":"r2","confidence":0.6,"reasoning":"subject has {invoice} tag"}`,
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			m := NewMatcher(&mockClassifier{reply: reply}, nil)
			res := m.Match(context.Background(), gmailPayload(), candidates)

			require.True(t, res.Matched, "reasoning: %s", res.Reasoning)
			assert.Equal(t, "r2", res.Rule.ID)
			assert.Equal(t, "subject has {invoice} tag", res.Reasoning)
		})
	}
}

func TestMatchParseIsIdempotent(t *testing.T) {
	reply := "```json\n{\"matchedRuleId\":\"r1\",\"confidence\":0.5,\"reasoning\":\"x\"}\n```"
	first, err := parseClassification(reply)
	require.NoError(t, err)
	second, err := parseClassification(reply)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMatchNoMatchOutcomes(t *testing.T) {
	candidates := []ExecutionRule{*testRule("r1", "u1", 0)}

	tests := []struct {
		name string
		cls  *mockClassifier
	}{
		{"explicit null", &mockClassifier{reply: `{"matchedRuleId":null,"confidence":0.1,"reasoning":"unrelated"}`}},
		{"hallucinated id", &mockClassifier{reply: `{"matchedRuleId":"r99","confidence":0.99,"reasoning":"?"}`}},
		{"prose only", &mockClassifier{reply: "None of these rules apply."}},
		{"malformed json", &mockClassifier{reply: `{"matchedRuleId": "r1",`}},
		{"classifier error", &mockClassifier{err: errors.New("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewMatcher(tt.cls, nil).Match(context.Background(), gmailPayload(), candidates)
			assert.False(t, res.Matched)
			assert.Nil(t, res.Rule)
			assert.NotEmpty(t, res.Reasoning)
		})
	}
}

func TestMatchReturnsCopy(t *testing.T) {
	candidates := []ExecutionRule{*testRule("r1", "u1", 0)}
	res := NewMatcher(&mockClassifier{reply: `{"matchedRuleId":"r1"}`}, nil).
		Match(context.Background(), gmailPayload(), candidates)

	require.True(t, res.Matched)
	res.Rule.Name = "mutated"
	assert.Equal(t, "Rule r1", candidates[0].Name)
}
