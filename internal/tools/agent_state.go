package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

const stateHistoryLimit = 100

// StateTool returns recent progress history to the engine
type StateTool struct {
	store storage.Store
}

// NewStateTool creates the get_agent_state tool
func NewStateTool(store storage.Store) *StateTool {
	return &StateTool{store: store}
}

func (t *StateTool) Name() string {
	return "get_agent_state"
}

func (t *StateTool) Description() string {
	return "Read the client's recent progress history: measurements, events, insights and decisions, newest first. Takes no arguments."
}

func (t *StateTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *StateTool) Execute(ctx context.Context, turn TurnContext, params json.RawMessage) (*Result, error) {
	entries, err := t.store.ListEntries(stateHistoryLimit, time.Time{})
	if err != nil {
		return nil, err
	}

	output, err := json.Marshal(map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
	if err != nil {
		return nil, err
	}

	return &Result{Success: true, Output: string(output)}, nil
}
