// Package mqtt provides MQTT client connectivity for Triggerflow Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees and a payload size limit
//   - Topic subscriptions restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT carries trigger events in and notifications out:
//
//	upstream integrations ──► triggerflow/trigger/{user}/{slug} ──► ingest
//	automation engine     ──► triggerflow/notify/{user}         ──► clients
//	core                  ──► triggerflow/system/status (retained, LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	err = client.Subscribe(topics.AllTriggers(), 1,
//	    func(topic string, payload []byte) error {
//	        userID, slug, ok := topics.ParseTrigger(topic)
//	        ...
//	    })
package mqtt
