// Package agent connects the automation engine to a language model and to
// per-user tool servers.
//
//	automation.Matcher ──► Classifier ──┐
//	                                    ├──► ChatClient ──► POST {base}/chat/completions
//	automation.SessionCache ─► Provider ┘         (rate limited, retried on 429/5xx)
//	                             │
//	                             └──► MCPConnector ──► {mcp_url with {user}} (streamable HTTP)
//
// Provider implements automation.ToolProvider. OpenSession connects to
// the user's MCP server and lists its tools; RunAgent drives a bounded
// tool-calling loop: the model either answers, ending the run, or asks
// for tool calls, which are executed over MCP and fed back.
//
// Errors use github.com/cockroachdb/errors so callers get stack traces
// and hints (for example a missing API key) while errors.Is still works
// against the sentinels in this package.
package agent
