package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/triggerflow-core/internal/automation"
	"github.com/nerrad567/triggerflow-core/internal/infrastructure/mqtt"
)

var (
	// ErrInvalidTopic is returned for topics outside the trigger namespace.
	ErrInvalidTopic = errors.New("ingest: not a trigger topic")

	// ErrInvalidEnvelope is returned for bodies that are not a trigger envelope.
	ErrInvalidEnvelope = errors.New("ingest: invalid trigger envelope")
)

// Envelope is the JSON body of a trigger message.
type Envelope struct {
	ToolkitSlug     string                      `json:"toolkitSlug"`
	Payload         map[string]any              `json:"payload"`
	OriginalPayload json.RawMessage             `json:"originalPayload,omitempty"`
	Metadata        *automation.TriggerMetadata `json:"metadata,omitempty"`
}

// Decode turns a trigger message into the user id and engine payload.
//
// Parameters:
//   - topics: Topic builder for the configured prefix
//   - topic: The topic the message arrived on
//   - body: Raw message body
//
// Returns:
//   - string: User id taken from the topic
//   - automation.TriggerPayload: Normalised payload; Payload is never nil
//   - error: ErrInvalidTopic or ErrInvalidEnvelope
func Decode(topics mqtt.Topics, topic string, body []byte) (string, automation.TriggerPayload, error) {
	userID, slug, ok := topics.ParseTrigger(topic)
	if !ok {
		return "", automation.TriggerPayload{}, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", automation.TriggerPayload{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.ToolkitSlug == "" {
		return "", automation.TriggerPayload{}, fmt.Errorf("%w: toolkitSlug is required", ErrInvalidEnvelope)
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}

	return userID, automation.TriggerPayload{
		TriggerSlug:     slug,
		ToolkitSlug:     env.ToolkitSlug,
		UserID:          userID,
		Payload:         env.Payload,
		OriginalPayload: env.OriginalPayload,
		Metadata:        env.Metadata,
	}, nil
}
