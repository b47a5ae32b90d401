// Package tools exposes the capability set the Agent Orchestrator offers to
// the Reasoning Engine: read progress state, log events, and commit
// decisions behind the consent gate.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/llm"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

// TurnContext threads per-turn state into every dispatch. ConsentGranted is
// computed once from the raw user message before the loop starts and is never
// re-evaluated from engine output, so the engine cannot self-grant consent.
type TurnContext struct {
	ConsentGranted bool
}

// Tool defines the interface for agent-invocable tools
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	Execute(ctx context.Context, turn TurnContext, params json.RawMessage) (*Result, error)
}

// Result represents a tool execution result
type Result struct {
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	Error     string `json:"error,omitempty"`
	Committed bool   `json:"committed,omitempty"`
}

// Manager manages available tools
type Manager struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewManager creates a tool manager with the agent tool set registered
func NewManager(store storage.Store) *Manager {
	m := &Manager{tools: make(map[string]Tool)}

	m.Register(NewStateTool(store))
	m.Register(NewEventTool(store))
	m.Register(NewDecisionTool(store))

	return m
}

// Register adds a tool to the manager
func (m *Manager) Register(tool Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tools[tool.Name()]; !exists {
		m.order = append(m.order, tool.Name())
	}
	m.tools[tool.Name()] = tool
}

// Get returns a tool by name
func (m *Manager) Get(name string) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tool, ok := m.tools[name]
	return tool, ok
}

// Execute executes one tool call and converts the outcome to an engine-facing
// result. Denials and failures come back as error results, never dropped, so
// the engine can inform the user.
func (m *Manager) Execute(ctx context.Context, turn TurnContext, call llm.ToolCall) (llm.ToolResult, *Result) {
	start := time.Now()

	tr := llm.ToolResult{ToolCallID: call.ID}

	tool, ok := m.Get(call.Name)
	if !ok {
		tr.Content = fmt.Sprintf("Error: tool not found: %s", call.Name)
		tr.IsError = true
		logging.LogToolExecution(call.Name, false, time.Since(start))
		return tr, nil
	}

	result, err := tool.Execute(ctx, turn, json.RawMessage(call.Input))
	duration := time.Since(start)

	if err != nil {
		tr.Content = fmt.Sprintf("Error: %v", err)
		tr.IsError = true
		logging.LogToolExecution(call.Name, false, duration)
		return tr, nil
	}
	if !result.Success {
		tr.Content = fmt.Sprintf("Error: %s", result.Error)
		tr.IsError = true
		logging.LogToolExecution(call.Name, false, duration)
		return tr, result
	}

	tr.Content = result.Output
	logging.LogToolExecution(call.Name, true, duration)
	return tr, result
}

// GetDefinitions returns tool definitions for the engine in registration order
func (m *Manager) GetDefinitions() []llm.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(m.order))
	for _, name := range m.order {
		tool := m.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return defs
}
