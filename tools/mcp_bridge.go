package tools

import (
	"context"

	"github.com/fpetrakis/vesper/tools/mcp"
)

// mcpTool adapts an MCP server tool to the Tool interface.
type mcpTool struct {
	tool *mcp.Tool
}

func (t *mcpTool) Name() string        { return t.tool.Name() }
func (t *mcpTool) Description() string { return t.tool.Description() }
func (t *mcpTool) Kind() Kind          { return KindMCP }

// Parameters falls back to an open object schema; the server validates the
// real one on its side.
func (t *mcpTool) Parameters() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{})
}

func (t *mcpTool) Execute(ctx context.Context, inv Invocation) (Result, error) {
	out, err := t.tool.Call(ctx, inv.Args)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return SuccessResult(out), nil
}
