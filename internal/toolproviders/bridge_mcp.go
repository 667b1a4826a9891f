package toolproviders

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// BridgeProvider routes a step out to an external MCP server — the kernel's
// bridge mode. Grounded on internal/mcp/manager_connect.go's client
// lifecycle (stdio client construction, Initialize handshake), generalised
// from "register one tool per discovered MCP tool" to "forward one
// ExecuteStepInput.Action as one CallTool invocation".
type BridgeProvider struct {
	id     string
	server string
	client *mcpclient.Client
}

// NewStdioBridgeProvider launches command as an MCP stdio server and
// completes the initialize handshake, mirroring
// internal/mcp/manager_connect.go's stdio path.
func NewStdioBridgeProvider(ctx context.Context, server, command string, args, env []string) (*BridgeProvider, error) {
	client, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("toolproviders: new stdio mcp client: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "kernel", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("toolproviders: mcp initialize: %w", err)
	}

	return &BridgeProvider{id: "bridge.mcp." + server, server: server, client: client}, nil
}

func (p *BridgeProvider) ID() string           { return p.id }
func (p *BridgeProvider) Mode() kerntypes.Mode { return kerntypes.ModeBridge }
func (p *BridgeProvider) Priority() int        { return 0 }

func (p *BridgeProvider) CanHandle(ctx context.Context, input kerntypes.ExecuteStepInput) bool {
	return input.Action != ""
}

// Invoke calls input.Action as an MCP tool name with input.Args as its
// arguments, folding a tool-level IsError result into a *kerntypes.StepError
// so the retry classifier in internal/kernel/orchestrator.go sees it.
func (p *BridgeProvider) Invoke(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = input.Action
	req.Params.Arguments = input.Args

	res, err := p.client.CallTool(ctx, req)
	if err != nil {
		return nil, &kerntypes.StepError{Message: err.Error(), Code: "EBRIDGE_CALL", Retryable: true}
	}
	if res.IsError {
		return nil, &kerntypes.StepError{Message: renderContent(res.Content), Code: "EBRIDGE_TOOL"}
	}
	return map[string]any{"content": renderContent(res.Content)}, nil
}

// renderContent flattens an MCP tool result's content blocks into a single
// string — the kernel only carries opaque step data, not the richer
// multi-block content a chat UI would render directly.
func renderContent(content []mcpgo.Content) string {
	var out string
	for _, c := range content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}

// Close releases the underlying MCP client connection.
func (p *BridgeProvider) Close() error { return p.client.Close() }

var _ tools.StepToolProvider = (*BridgeProvider)(nil)
