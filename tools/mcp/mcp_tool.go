package mcp

import (
	"context"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"

	"github.com/fpetrakis/vesper/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]*Tool
}

// NewClient starts the MCP server subprocess, connects to it and discovers
// the tools it provides.
func NewClient(name, command string, args []string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "vesper", Version: "v1.0.0"}, nil)
	ctx := context.Background()
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}

	client := &Client{
		Name:  name,
		cmd:   cmd,
		conn:  conn,
		tools: make(map[string]*Tool),
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, params)
		if err != nil {
			_ = cmd.Process.Kill()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range toolList.Tools {
			client.tools[t.Name] = &Tool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				client:      client,
			}
		}
		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}

	log.Info().Str("server", name).Int("tools", len(client.tools)).Msg("initialized MCP client")
	return client, nil
}

// GetTool returns a specific tool provided by this server by its short name.
func (c *Client) GetTool(toolName string) (*Tool, bool) {
	t, ok := c.tools[toolName]
	return t, ok
}

// ToolNames lists the short names of every discovered tool.
func (c *Client) ToolNames() []string {
	names := make([]string, 0, len(c.tools))
	for n := range c.tools {
		names = append(names, n)
	}
	return names
}

// Stop terminates the MCP server subprocess.
func (c *Client) Stop() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		log.Info().Str("server", c.Name).Msg("terminating MCP server")
		return c.cmd.Process.Kill()
	}
	return nil
}

// Tool is one tool exposed by an external MCP server.
type Tool struct {
	serverName  string
	toolName    string
	description string
	client      *Client
}

// Name returns the tool's short name as the server declared it.
func (t *Tool) Name() string { return t.toolName }

// Description returns the tool's description, provided by the MCP server.
func (t *Tool) Description() string { return t.description }

// Call forwards the arguments to the MCP server and concatenates the text
// content of the response.
func (t *Tool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call MCP tool '%s'", t.toolName)
	}
	out := ""
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			out += tc.Text
		}
	}
	if result.IsError {
		return "", errors.New("MCP tool '%s' reported an error: %s", t.toolName, out)
	}
	return out, nil
}
