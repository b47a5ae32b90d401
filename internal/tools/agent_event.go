package tools

import (
	"context"
	"encoding/json"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

// EventTool lets the engine log an observed event into the progress history
type EventTool struct {
	store storage.Store
}

// NewEventTool creates the create_agent_event tool
func NewEventTool(store storage.Store) *EventTool {
	return &EventTool{store: store}
}

func (t *EventTool) Name() string {
	return "create_agent_event"
}

func (t *EventTool) Description() string {
	return "Log an event into the client's progress history (a meal, a workout, a symptom, a missed habit). Does not require consent."
}

func (t *EventTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"entry_date": map[string]interface{}{
				"type":        "string",
				"description": "Calendar date of the event, YYYY-MM-DD",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short title of the event",
			},
			"notes": map[string]interface{}{
				"type":        "string",
				"description": "Optional free-text details",
			},
			"metrics": map[string]interface{}{
				"type":        "object",
				"description": "Optional snapshot-shaped metrics attached to the event",
			},
		},
		"required": []string{"entry_date", "title"},
	}
}

type eventParams struct {
	EntryDate string            `json:"entry_date"`
	Title     string            `json:"title"`
	Notes     string            `json:"notes"`
	Metrics   *storage.Snapshot `json:"metrics"`
}

func (t *EventTool) Execute(ctx context.Context, turn TurnContext, params json.RawMessage) (*Result, error) {
	var p eventParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &Result{Success: false, Error: "invalid parameters: " + err.Error()}, nil
	}
	if p.EntryDate == "" || p.Title == "" {
		return &Result{Success: false, Error: "entry_date and title are required"}, nil
	}

	entry := &storage.ProgressEntry{
		EntryType: storage.EntryEvent,
		EntryDate: p.EntryDate,
		Source:    storage.SourceAgent,
		Title:     p.Title,
		Notes:     p.Notes,
		Metrics:   p.Metrics,
	}

	if err := t.store.InsertEntry(entry); err != nil {
		return nil, err
	}

	output, _ := json.Marshal(map[string]interface{}{
		"status": "saved",
		"entry":  entry,
	})
	return &Result{Success: true, Output: string(output)}, nil
}
