// Package influxdb records engine telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Writes go through
// the non-blocking batched WriteAPI; async write errors are delivered to
// the callback set with SetOnError.
//
// ExecutionRecorder adapts a Client to automation.Observer so each
// trigger evaluation, rule execution and failed side effect becomes a
// point in the configured bucket:
//
//	trigger_evaluations  tags: trigger_slug, matched      fields: count
//	rule_executions      tags: path, status               fields: duration_ms
//	side_effect_failures tags: effect                     fields: count
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	deps.Observers = append(deps.Observers, influxdb.NewExecutionRecorder(client))
package influxdb
