package notification

import (
	"context"
	"encoding/json"
	"fmt"
)

// Broker is the MQTT publish capability, satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TopicFunc maps a user id to that user's notification topic.
type TopicFunc func(userID string) string

// MQTTPublisher pushes stored notifications to connected clients.
type MQTTPublisher struct {
	broker Broker
	topic  TopicFunc
	qos    byte
}

// NewMQTTPublisher publishes at QoS 1 on topic(userID).
func NewMQTTPublisher(broker Broker, topic TopicFunc) *MQTTPublisher {
	return &MQTTPublisher{broker: broker, topic: topic, qos: 1}
}

// Publish sends n as JSON. Notifications are events, so they are never retained.
func (p *MQTTPublisher) Publish(_ context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := p.broker.Publish(p.topic(n.UserID), payload, p.qos, false); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}
