// Package api implements the HTTP surface of Triggerflow Core.
//
// Handlers only translate JSON into engine calls and engine results back
// into JSON; all rule semantics live in the automation package.
//
// # Routes
//
//	GET  /api/v1/health                       liveness plus dependency checks
//	GET  /metrics                             Prometheus exposition
//	GET  /api/v1/system/metrics               runtime and pool statistics (JSON)
//
//	(JWT required; the subject claim is the user id)
//	POST /api/v1/triggers                     run the trigger path
//	POST /api/v1/rules/{id}/invoke            run one rule manually
//	GET  /api/v1/rules/{id}/executions        recent execution logs for a rule
//	POST /api/v1/schedule/run                 run a scheduled sweep now
//	GET  /api/v1/executions/stats             the caller's execution statistics
//	GET  /api/v1/notifications                the caller's notifications
//	POST /api/v1/notifications/{id}/read      mark one notification read
//
// # Security
//
// Tokens are HS256 JWTs signed with security.jwt.secret. When issuer or
// audience are configured they are enforced. Requests never carry a user
// id in the body; it always comes from the token.
package api
