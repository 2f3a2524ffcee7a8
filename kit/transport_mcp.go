package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// RegisterMCPTool exposes endpoint as the MCP tool described by tool.
// Decode, endpoint and marshal failures, and endpoint panics, come back as
// tool errors the model can read; the session stays up.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (res *mcp.CallToolResult, _ error) {
		defer func() {
			if p := recover(); p != nil {
				res = toolError(fmt.Errorf("%s: internal error: %v", tool.Name, p))
			}
		}()

		ctx = WithTransport(ctx, "mcp")
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}
		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		return toolText(resp), nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	// Only the message crosses the wire; drop the chain.
	res.SetError(errors.New(err.Error()))
	return &res
}

// toolText renders resp as one JSON text block. Strings go out as is.
func toolText(resp any) *mcp.CallToolResult {
	text, ok := resp.(string)
	if !ok {
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err))
		}
		text = string(data)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
