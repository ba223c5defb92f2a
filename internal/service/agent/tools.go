package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"apex/internal/domain/services"
)

// ToolCall is a single tool invocation requested by the model
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResult is the outcome of a ToolCall
type ToolResult struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Result  interface{} `json:"result"`
	Error   error       `json:"-"`
	IsError bool        `json:"is_error"`
}

// ToolExecutor runs one tool
type ToolExecutor interface {
	Execute(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor
type ToolExecutorFunc func(ctx context.Context, input map[string]interface{}) (interface{}, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	return f(ctx, input)
}

type registeredTool struct {
	def      ToolDefinition
	executor ToolExecutor
}

// ToolRegistry maps tool names to executors. Safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds a tool, replacing any tool with the same name
func (r *ToolRegistry) Register(def ToolDefinition, executor ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registeredTool{def: def, executor: executor}
}

// Get returns the executor for name, or nil
func (r *ToolRegistry) Get(name string) ToolExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t.executor
	}
	return nil
}

// Definitions returns every registered tool sorted by name
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone returns a registry holding the same tools
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewToolRegistry()
	for name, t := range r.tools {
		out.tools[name] = t
	}
	return out
}

// Execute runs a single tool. Failures are reported in the result.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) ToolResult {
	executor := r.Get(call.Name)
	if executor == nil {
		return ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Error:   fmt.Errorf("tool not found: %s", call.Name),
			IsError: true,
		}
	}

	result, err := executor.Execute(ctx, call.Input)
	if err != nil {
		return ToolResult{ID: call.ID, Name: call.Name, Error: err, IsError: true}
	}
	return ToolResult{ID: call.ID, Name: call.Name, Result: result}
}

// ExecuteParallel runs calls concurrently and returns results in call order
func (r *ToolRegistry) ExecuteParallel(ctx context.Context, calls []ToolCall) []ToolResult {
	if len(calls) == 0 {
		return []ToolResult{}
	}

	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(index int, toolCall ToolCall) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[index] = ToolResult{
					ID:      toolCall.ID,
					Name:    toolCall.Name,
					Error:   ctx.Err(),
					IsError: true,
				}
				return
			default:
			}

			results[index] = r.Execute(ctx, toolCall)
		}(i, call)
	}

	wg.Wait()
	return results
}

var invalidToolChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// MCPToolName is the model facing name of an MCP tool. Model APIs only accept
// [A-Za-z0-9_-]{1,64}, so the server prefix keeps names unique and anything
// else is replaced.
func MCPToolName(server, tool string) string {
	name := invalidToolChars.ReplaceAllString(server+"__"+tool, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// mcpToolExecutor forwards calls to an MCP server
type mcpToolExecutor struct {
	client services.MCPClientService
	server string
	tool   string
}

func (e *mcpToolExecutor) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	res, err := e.client.CallTool(ctx, e.server, e.tool, input)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, fmt.Errorf("%s", res.Content)
	}
	return res.Content, nil
}

// RegisterMCPTools adds every tool of the connected MCP servers to r and
// returns how many were added
func RegisterMCPTools(ctx context.Context, r *ToolRegistry, client services.MCPClientService) int {
	added := 0
	for _, tool := range client.ListAllTools(ctx) {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = defaultSchema()
		}
		r.Register(ToolDefinition{
			Name:        MCPToolName(tool.Server, tool.Name),
			Description: tool.Description,
			Parameters:  schema,
		}, &mcpToolExecutor{client: client, server: tool.Server, tool: tool.Name})
		added++
	}
	return added
}
