// Package notification stores and pushes the in-app notifications the
// automation engine raises after every rule execution.
//
//	automation.Orchestrator
//	        │ Notify
//	        ▼
//	     Fanout ──► SQLiteRepository (notifications table)   required
//	        └─────► MQTTPublisher (triggerflow/notify/{user}) best effort
//
// The stored copy is the source of truth served by the API; the MQTT push
// only lets connected clients update without polling.
package notification
