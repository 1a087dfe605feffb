package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

const (
	defaultMaxTurns = 8

	// maxToolOutput caps a single tool result fed back to the model.
	maxToolOutput = 16000
)

// DefaultSystemPrompt frames every agent run.
const DefaultSystemPrompt = `You are an automation agent acting on behalf of a user.
Complete the task using the available tools when they are needed.
Call tools only with arguments that match their schemas.
When the task is complete, reply with a concise plain-text result and no further tool calls.`

// ProviderConfig tunes agent runs.
type ProviderConfig struct {
	Model        string
	MaxTurns     int
	SystemPrompt string
}

// Provider implements automation.ToolProvider over a Connector and a chat model.
//
// It keeps one open ToolConn per user; opening a new session for a user
// replaces and closes the previous connection.
type Provider struct {
	connector Connector
	chat      Completer
	cfg       ProviderConfig
	logger    Logger
	now       func() time.Time

	mu    sync.Mutex
	conns map[string]ToolConn
}

var _ automation.ToolProvider = (*Provider)(nil)

// NewProvider creates a provider. logger may be nil.
func NewProvider(connector Connector, chat Completer, cfg ProviderConfig, logger Logger) *Provider {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Provider{
		connector: connector,
		chat:      chat,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		conns:     make(map[string]ToolConn),
	}
}

// OpenSession connects to userID's tool server and lists its tools.
func (p *Provider) OpenSession(ctx context.Context, userID string) (*automation.ToolSession, error) {
	conn, err := p.connector.Connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		conn.Close() //nolint:errcheck // best effort on error path
		return nil, err
	}

	p.mu.Lock()
	prev := p.conns[userID]
	p.conns[userID] = conn
	p.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			p.logger.Warn("closing replaced tool connection", "user_id", userID, "error", err)
		}
	}

	return &automation.ToolSession{UserID: userID, Tools: tools, CreatedAt: p.now()}, nil
}

// RunAgent runs task inside session until the model answers without
// requesting tools, or the turn budget is spent.
//
// Parameters:
//   - ctx: Bounds the whole run
//   - session: A session returned by OpenSession
//   - task: Natural-language instruction for this run
//
// Returns:
//   - *automation.AgentResult: The model's final text
//   - error: ErrNoConnection, ErrTurnLimit, or a chat error
func (p *Provider) RunAgent(ctx context.Context, session *automation.ToolSession, task string) (*automation.AgentResult, error) {
	if session == nil {
		return nil, ErrNoConnection
	}
	p.mu.Lock()
	conn := p.conns[session.UserID]
	p.mu.Unlock()
	if conn == nil {
		return nil, errors.Wrapf(ErrNoConnection, "user %s", session.UserID)
	}

	tools, known := chatTools(session.Tools)
	messages := []Message{
		{Role: "system", Content: p.cfg.SystemPrompt},
		{Role: "user", Content: task},
	}

	for turn := 1; turn <= p.cfg.MaxTurns; turn++ {
		msg, err := p.chat.Complete(ctx, ChatRequest{Model: p.cfg.Model, Messages: messages, Tools: tools})
		if err != nil {
			return nil, errors.Wrapf(err, "agent turn %d", turn)
		}
		if len(msg.ToolCalls) == 0 {
			return &automation.AgentResult{FinalOutput: strings.TrimSpace(msg.Content)}, nil
		}

		messages = append(messages, *msg)
		for _, call := range msg.ToolCalls {
			result := p.invoke(ctx, conn, known, call)
			messages = append(messages, Message{Role: "tool", ToolCallID: call.ID, Content: result})
		}
	}

	return nil, errors.Wrapf(ErrTurnLimit, "after %d turns", p.cfg.MaxTurns)
}

// invoke executes one tool call and renders its outcome for the model.
// Failures are reported to the model rather than aborting the run.
func (p *Provider) invoke(ctx context.Context, conn ToolConn, known map[string]struct{}, call ToolCall) string {
	name := call.Function.Name
	if _, ok := known[name]; !ok {
		return "error: unknown tool " + name
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "error: arguments are not a JSON object: " + err.Error()
		}
	}

	out, err := conn.CallTool(ctx, name, args)
	if err != nil {
		p.logger.Warn("tool call failed", "tool", name, "error", err)
		return "error: " + err.Error()
	}
	text := out.Text
	if len(text) > maxToolOutput {
		text = text[:maxToolOutput] + "\n[truncated]"
	}
	if out.IsError {
		return "error: " + text
	}
	return text
}

// Close closes every open tool connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]ToolConn)
	p.mu.Unlock()

	var errs error
	for userID, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "closing tools for %s", userID))
		}
	}
	return errs
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

func chatTools(specs []automation.ToolSpec) ([]Tool, map[string]struct{}) {
	tools := make([]Tool, 0, len(specs))
	known := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		params := s.InputSchema
		if len(params) == 0 {
			params = emptySchema
		}
		tools = append(tools, Tool{
			Type:     "function",
			Function: FunctionDef{Name: s.Name, Description: s.Description, Parameters: params},
		})
		known[s.Name] = struct{}{}
	}
	return tools, known
}
