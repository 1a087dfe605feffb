// Package ingest feeds trigger events published over MQTT into the
// automation engine.
//
// Topic layout:
//
//	{prefix}/trigger/{user_id}/{trigger_slug}
//
// Each message body is a JSON envelope:
//
//	{"toolkitSlug": "GMAIL", "payload": {...}, "originalPayload": {...}, "metadata": {...}}
//
// The user and slug always come from the topic, never from the body.
//
// Flow:
//
//	broker ──► mqtt callback ──► decode ──► queue (bounded) ──► N workers ──► Processor.Process
//	                               │            │
//	                            invalid       full: dropped
//
// The MQTT callback only decodes and enqueues, so a slow rule never stalls
// the broker connection. Stop unsubscribes, then waits for queued work to
// drain.
package ingest
