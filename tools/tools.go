package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/fpetrakis/vesper/config"
	"github.com/fpetrakis/vesper/tools/mcp"
)

// Kind classifies what a tool touches, which drives the mutating-tool
// confirmation flow.
type Kind string

const (
	KindRead    Kind = "read"
	KindWrite   Kind = "write"
	KindShell   Kind = "shell"
	KindNetwork Kind = "network"
	KindMemory  Kind = "memory"
	KindMCP     Kind = "mcp"
)

// Mutating reports whether tools of this kind may modify external state.
func (k Kind) Mutating() bool {
	switch k {
	case KindWrite, KindShell, KindNetwork, KindMemory:
		return true
	}
	return false
}

// Invocation carries one call's arguments and the working directory paths
// should be resolved against.
type Invocation struct {
	Cwd  string
	Args map[string]interface{}
}

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	// Parameters returns the JSON-Schema-shaped object describing the
	// tool's arguments, exported to the model with the completion request.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// Schema is a tool's wire-facing description.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ObjectSchema builds a JSON-Schema object with the given properties and
// required property names.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Executor is the tool execution collaborator the agent loop invokes. It
// never propagates errors for ordinary failures: unknown names, tool errors
// and even tool panics come back as failed Results.
type Executor struct {
	tools map[string]Tool
	order []string
}

// NewExecutor indexes the given tools by name.
func NewExecutor(ts []Tool) *Executor {
	e := &Executor{tools: make(map[string]Tool)}
	for _, t := range ts {
		if _, dup := e.tools[t.Name()]; !dup {
			e.order = append(e.order, t.Name())
		}
		e.tools[t.Name()] = t
	}
	return e
}

// Get looks up a tool by name.
func (e *Executor) Get(name string) (Tool, bool) {
	t, ok := e.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (e *Executor) Len() int { return len(e.tools) }

// Schemas exports every registered tool's schema in registration order.
func (e *Executor) Schemas() []Schema {
	schemas := make([]Schema, 0, len(e.order))
	for _, name := range e.order {
		t := e.tools[name]
		schemas = append(schemas, Schema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return schemas
}

// Invoke runs one tool call to completion and always returns a Result.
func (e *Executor) Invoke(ctx context.Context, name string, args map[string]interface{}, cwd string) (res Result) {
	t, ok := e.tools[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("Unknown tool: %s", name)).
			WithMetadata(map[string]interface{}{"tool_name": name})
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", name).Interface("panic", r).Msg("tool panicked")
			res = ErrorResult(fmt.Sprintf("Error invoking tool %s: %v", name, r)).
				WithMetadata(map[string]interface{}{"tool_name": name})
		}
	}()

	result, err := t.Execute(ctx, Invocation{Cwd: cwd, Args: args})
	if err != nil {
		log.Debug().Str("tool", name).Err(err).Msg("tool execution failed")
		return ErrorResult(fmt.Sprintf("Error invoking tool %s: %v", name, err)).
			WithMetadata(map[string]interface{}{"tool_name": name})
	}
	return result
}

// Registry holds all available tools, builtin and MCP-provided.
type Registry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.Client
}

// NewRegistry registers the builtin tools and connects the configured MCP
// servers. MCP servers that fail to start are skipped with a warning rather
// than failing the whole registry.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.Client),
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})

	for _, srv := range cfg.AdditionalMCPServers {
		client, err := mcp.NewClient(srv.Name, srv.Command, srv.Args)
		if err != nil {
			log.Warn().Str("server", srv.Name).Err(err).Msg("could not start MCP server")
			continue
		}
		r.mcpClients[srv.Name] = client
	}

	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Close terminates every MCP server subprocess.
func (r *Registry) Close() {
	for _, c := range r.mcpClients {
		if err := c.Stop(); err != nil {
			log.Warn().Str("server", c.Name).Err(err).Msg("error stopping MCP server")
		}
	}
}

// ActiveTools resolves a toolset into tool instances. MCP tools are named
// "<server>.<tool>"; "<server>.*" selects every tool the server offers.
func (r *Registry) ActiveTools(ts *config.Toolset) ([]Tool, error) {
	var active []Tool
	for _, toolName := range ts.Tools {
		if server, rest, ok := strings.Cut(toolName, "."); ok {
			client, found := r.mcpClients[server]
			if !found {
				return nil, fmt.Errorf("toolset '%s' references unknown MCP server '%s'", ts.Name, server)
			}
			if rest == "*" {
				names := client.ToolNames()
				sort.Strings(names)
				for _, n := range names {
					t, _ := client.GetTool(n)
					active = append(active, &mcpTool{t})
				}
				continue
			}
			t, found := client.GetTool(rest)
			if !found {
				return nil, fmt.Errorf("MCP server '%s' does not provide tool '%s'", server, rest)
			}
			active = append(active, &mcpTool{t})
			continue
		}

		t, ok := r.Get(toolName)
		if !ok {
			return nil, fmt.Errorf("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
		active = append(active, t)
	}
	return active, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	if len(strings.Fields(command)) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn().Str("pattern", pattern).Err(err).Msg("invalid regex in allowed_commands")
			// Fall back to simple string comparison if the regex is invalid
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
