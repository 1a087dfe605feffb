package agent

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

// UserPlaceholder is replaced with the URL-escaped user id in MCP URL templates.
const UserPlaceholder = "{user}"

const clientName = "triggerflow"

// ToolOutput is the flattened result of one tool call.
type ToolOutput struct {
	Text    string
	IsError bool
}

// ToolConn is an open connection to one user's tool server.
type ToolConn interface {
	ListTools(ctx context.Context) ([]automation.ToolSpec, error)
	CallTool(ctx context.Context, name string, args map[string]any) (ToolOutput, error)
	Close() error
}

// Connector opens tool connections for a user.
type Connector interface {
	Connect(ctx context.Context, userID string) (ToolConn, error)
}

// MCPConnector reaches per-user MCP servers over streamable HTTP.
type MCPConnector struct {
	urlTemplate string
	headers     map[string]string
	version     string
	timeout     time.Duration
}

// NewMCPConnector builds a connector. urlTemplate should contain
// UserPlaceholder; headers (for example Authorization) are sent on every request.
func NewMCPConnector(urlTemplate string, headers map[string]string, version string) *MCPConnector {
	return &MCPConnector{urlTemplate: urlTemplate, headers: headers, version: version}
}

// SetTimeout bounds each HTTP request to the tool server. Zero leaves
// the transport default.
func (m *MCPConnector) SetTimeout(d time.Duration) {
	m.timeout = d
}

// Endpoint returns the MCP URL for userID.
func (m *MCPConnector) Endpoint(userID string) string {
	return strings.ReplaceAll(m.urlTemplate, UserPlaceholder, url.PathEscape(userID))
}

// Connect opens and initialises a session with the user's MCP server.
func (m *MCPConnector) Connect(ctx context.Context, userID string) (ToolConn, error) {
	var opts []transport.StreamableHTTPCOption
	if len(m.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(m.headers))
	}
	if m.timeout > 0 {
		opts = append(opts, transport.WithHTTPTimeout(m.timeout))
	}

	c, err := client.NewStreamableHttpClient(m.Endpoint(userID), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating mcp client for user %s", userID)
	}
	conn, err := NewMCPConn(ctx, c, m.version)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to tools for user %s", userID)
	}
	return conn, nil
}

// mcpConn adapts an initialised mcp-go client to ToolConn.
type mcpConn struct {
	c *client.Client
}

// NewMCPConn starts and initialises c. It works with any mcp-go
// transport, including in-process clients.
func NewMCPConn(ctx context.Context, c *client.Client, version string) (ToolConn, error) {
	if err := c.Start(ctx); err != nil {
		c.Close() //nolint:errcheck // best effort on error path
		return nil, errors.Wrap(err, "starting mcp transport")
	}

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: version}
	if _, err := c.Initialize(ctx, init); err != nil {
		c.Close() //nolint:errcheck // best effort on error path
		return nil, errors.Wrap(err, "initialising mcp session")
	}
	return &mcpConn{c: c}, nil
}

func (m *mcpConn) ListTools(ctx context.Context) ([]automation.ToolSpec, error) {
	var (
		specs []automation.ToolSpec
		req   mcp.ListToolsRequest
	)
	for {
		res, err := m.c.ListTools(ctx, req)
		if err != nil {
			return nil, errors.Wrap(err, "listing tools")
		}
		for _, t := range res.Tools {
			schema := t.RawInputSchema
			if len(schema) == 0 {
				if schema, err = json.Marshal(t.InputSchema); err != nil {
					return nil, errors.Wrapf(err, "encoding schema for tool %s", t.Name)
				}
			}
			specs = append(specs, automation.ToolSpec{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			})
		}
		if res.NextCursor == "" {
			return specs, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

func (m *mcpConn) CallTool(ctx context.Context, name string, args map[string]any) (ToolOutput, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := m.c.CallTool(ctx, req)
	if err != nil {
		return ToolOutput{}, errors.Wrapf(err, "calling tool %s", name)
	}
	return ToolOutput{Text: flattenContent(res.Content), IsError: res.IsError}, nil
}

func (m *mcpConn) Close() error {
	return m.c.Close()
}

// flattenContent joins text parts and JSON-encodes anything else.
func flattenContent(parts []mcp.Content) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case mcp.TextContent:
			out = append(out, p.Text)
		case *mcp.TextContent:
			out = append(out, p.Text)
		default:
			if b, err := json.Marshal(p); err == nil {
				out = append(out, string(b))
			}
		}
	}
	return strings.Join(out, "\n")
}
