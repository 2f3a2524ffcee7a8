package bridge

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sketchbridge/kit"
)

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var v T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &v}, nil
}

// RegisterMCP registers the sketch tools on an MCP server.
func RegisterMCP(srv *mcp.Server, b *Bridge) {
	eps := b.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "sketch_status",
		Description: "Report the drawing bridge state: lifecycle state, readiness flags, presentation options, pending requests and scene version.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, eps.status, func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	})

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "sketch_export",
		Description: "Export the current drawing as json, svg, png, jpeg, webp or pdf. Text formats are returned as utf-8, images and pdf as base64.",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{"type": "string", "enum": ExportFormats, "description": "Export format"},
			"config": map[string]any{
				"type":        "object",
				"description": "Export options: exportBackground, exportWithDarkMode, exportEmbedScene, exportScale, exportPadding",
			},
			"name":       map[string]any{"type": "string", "description": "Output file name without extension"},
			"write_file": map[string]any{"type": "boolean", "description": "Also write the export under the export directory"},
		}, []string{"format"}),
	}, eps.export, decodeArgs[ExportCall])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "sketch_set_theme",
		Description: "Switch the drawing surface between the light and dark theme.",
		InputSchema: inputSchema(map[string]any{
			"theme": map[string]any{"type": "string", "enum": []string{"light", "dark"}},
		}, []string{"theme"}),
	}, eps.theme, decodeArgs[ThemeRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "sketch_open",
		Description: "Load a scene file into the drawing surface. Resource ids: file:<path> under the resource directory, http(s) URLs, scene:<id> from the store.",
		InputSchema: inputSchema(map[string]any{
			"resource": map[string]any{"type": "string", "description": "Resource id"},
		}, []string{"resource"}),
	}, eps.open, decodeArgs[OpenRequest])
}
