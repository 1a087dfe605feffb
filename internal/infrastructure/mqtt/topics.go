package mqtt

import "strings"

// DefaultTopicPrefix is used when the config leaves mqtt.topic_prefix empty.
const DefaultTopicPrefix = "triggerflow"

// Topics builds and parses Triggerflow topic names under a common prefix.
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix, or DefaultTopicPrefix if empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Trigger returns the ingress topic for one user's trigger slug.
//
// Example: triggerflow/trigger/u-42/GMAIL_NEW_MESSAGE
func (t Topics) Trigger(userID, triggerSlug string) string {
	return t.Prefix() + "/trigger/" + userID + "/" + triggerSlug
}

// AllTriggers is the wildcard subscription covering every user and slug.
func (t Topics) AllTriggers() string {
	return t.Prefix() + "/trigger/+/+"
}

// ParseTrigger extracts the user id and trigger slug from a trigger topic.
func (t Topics) ParseTrigger(topic string) (userID, triggerSlug string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix()+"/trigger/")
	if !found {
		return "", "", false
	}
	userID, triggerSlug, found = strings.Cut(rest, "/")
	if !found || userID == "" || triggerSlug == "" || strings.Contains(triggerSlug, "/") {
		return "", "", false
	}
	return userID, triggerSlug, true
}

// Notify returns the per-user notification topic.
//
// Example: triggerflow/notify/u-42
func (t Topics) Notify(userID string) string {
	return t.Prefix() + "/notify/" + userID
}

// SystemStatus is the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}
