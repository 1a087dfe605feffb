package agent

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

// Classifier answers rule-matching prompts with a deterministic (temperature 0)
// completion. It implements automation.Classifier.
type Classifier struct {
	chat  Completer
	model string
}

var _ automation.Classifier = (*Classifier)(nil)

// NewClassifier uses model for classification, or the chat client's
// default model when model is empty.
func NewClassifier(chat Completer, model string) *Classifier {
	return &Classifier{chat: chat, model: model}
}

// Classify returns the raw model text; parsing is the matcher's job.
func (c *Classifier) Classify(ctx context.Context, prompt automation.ClassifierPrompt) (string, error) {
	zero := 0.0
	msg, err := c.chat.Complete(ctx, ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: &zero,
	})
	if err != nil {
		return "", errors.Wrap(err, "classifying trigger")
	}
	return strings.TrimSpace(msg.Content), nil
}
