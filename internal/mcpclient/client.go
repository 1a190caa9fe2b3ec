// Package mcpclient implements the outbound half of the Model Context
// Protocol boundary: dispatching a `tool_call` task (spec.md §4.H) to one of
// the fleet of downstream MCP tool servers named in a task's `"server:tool"`
// identifier (spec.md §1 lists the MCP wire protocol handlers themselves as
// an external collaborator — this package is the thin client against that
// collaborator, not a protocol implementation of its own).
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// httpDoer is the narrow surface the client needs from an HTTP client,
// matching *http.Client so tests can substitute a fake transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServerRegistry resolves a downstream MCP server name to the base URL its
// JSON-RPC endpoint listens on.
type ServerRegistry interface {
	ServerURL(name string) (string, bool)
}

// StaticRegistry is a ServerRegistry backed by a fixed name->URL map,
// populated once at startup from configuration.
type StaticRegistry map[string]string

// ServerURL satisfies ServerRegistry.
func (r StaticRegistry) ServerURL(name string) (string, bool) {
	url, ok := r[name]
	return url, ok
}

// Options configures a Client.
type Options struct {
	HTTP     httpDoer
	Registry ServerRegistry
}

// Client implements executor.ToolInvoker by issuing an MCP `tools/call`
// JSON-RPC request to the downstream server named in the task's tool
// identifier.
type Client struct {
	http     httpDoer
	registry ServerRegistry
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Registry == nil {
		return nil, errors.New("mcpclient: server registry is required")
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, registry: opts.Registry}, nil
}

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  toolCallParams `json:"params"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type jsonRPCResponse struct {
	Result *toolCallResult `json:"result,omitempty"`
	Error  *jsonRPCError   `json:"error,omitempty"`
}

type toolCallResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InvokeTool satisfies executor.ToolInvoker. tool is the structure builder's
// "server:tool" identifier (spec.md §3 naming convention); the part before
// the first colon selects the downstream server, the rest is the tool name
// as that server knows it.
func (c *Client) InvokeTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	serverName, toolName, err := splitTool(tool)
	if err != nil {
		return nil, err
	}
	baseURL, ok := c.registry.ServerURL(serverName)
	if !ok {
		return nil, fmt.Errorf("mcpclient: unknown server %q for tool %q", serverName, tool)
	}

	reqBody, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      tool,
		Method:  "tools/call",
		Params:  toolCallParams{Name: toolName, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("mcpclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: call %s: %w", tool, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcpclient: %s: unexpected status %d: %s", tool, httpResp.StatusCode, body)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("mcpclient: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcpclient: %s: %s (code %d)", tool, resp.Error.Message, resp.Error.Code)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("mcpclient: %s: empty result", tool)
	}
	if resp.Result.IsError {
		return nil, fmt.Errorf("mcpclient: %s: tool reported an error: %s", tool, firstText(resp.Result.Content))
	}
	return decodeContent(resp.Result.Content), nil
}

func splitTool(tool string) (server, name string, err error) {
	idx := strings.IndexByte(tool, ':')
	if idx <= 0 || idx == len(tool)-1 {
		return "", "", fmt.Errorf("mcpclient: malformed tool identifier %q, expected server:tool", tool)
	}
	return tool[:idx], tool[idx+1:], nil
}

func firstText(content []toolContent) string {
	for _, c := range content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

// decodeContent returns the tool result as a plain Go value: a single text
// block decodes as JSON if possible (falling back to the raw string), and
// multiple blocks decode as a slice in the same way.
func decodeContent(content []toolContent) any {
	if len(content) == 1 {
		return decodeBlock(content[0])
	}
	out := make([]any, len(content))
	for i, c := range content {
		out[i] = decodeBlock(c)
	}
	return out
}

func decodeBlock(c toolContent) any {
	if c.Type != "text" {
		return c.Text
	}
	var v any
	if err := json.Unmarshal([]byte(c.Text), &v); err == nil {
		return v
	}
	return c.Text
}
