package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

// DecisionTool commits a coaching decision. Gated on the turn's consent
// boolean: without explicit user approval in the raw message the call is
// rejected with an error result back to the engine, never silently dropped.
type DecisionTool struct {
	store storage.Store
	now   func() time.Time
}

// NewDecisionTool creates the commit_agent_decision tool
func NewDecisionTool(store storage.Store) *DecisionTool {
	return &DecisionTool{store: store, now: time.Now}
}

func (t *DecisionTool) Name() string {
	return "commit_agent_decision"
}

func (t *DecisionTool) Description() string {
	return "Commit a coaching decision (plan change, intervention) into the progress history. Requires the user to have granted explicit consent in their message; otherwise the call is rejected."
}

func (t *DecisionTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"entry_date": map[string]interface{}{
				"type":        "string",
				"description": "Calendar date of the decision, YYYY-MM-DD",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short title of the decision",
			},
			"notes": map[string]interface{}{
				"type":        "string",
				"description": "Optional rationale and details",
			},
			"consent": map[string]interface{}{
				"type":        "object",
				"description": "Consent object with a scope describing what the user agreed to",
				"properties": map[string]interface{}{
					"status": map[string]interface{}{"type": "string"},
					"scope":  map[string]interface{}{"type": "string"},
				},
			},
		},
		"required": []string{"entry_date", "title", "consent"},
	}
}

type decisionParams struct {
	EntryDate string           `json:"entry_date"`
	Title     string           `json:"title"`
	Notes     string           `json:"notes"`
	Consent   *storage.Consent `json:"consent"`
}

func (t *DecisionTool) Execute(ctx context.Context, turn TurnContext, params json.RawMessage) (*Result, error) {
	if !turn.ConsentGranted {
		return &Result{Success: false, Error: "consent not granted"}, nil
	}

	var p decisionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &Result{Success: false, Error: "invalid parameters: " + err.Error()}, nil
	}
	if p.EntryDate == "" || p.Title == "" || p.Consent == nil {
		return &Result{Success: false, Error: "entry_date, title and consent are required"}, nil
	}

	// The engine-supplied timestamp is discarded; granted_at is server-stamped
	// for integrity.
	consent := &storage.Consent{
		Status:    "granted",
		GrantedAt: t.now().UTC().Format(time.RFC3339),
		Scope:     p.Consent.Scope,
	}

	entry := &storage.ProgressEntry{
		EntryType: storage.EntryDecision,
		EntryDate: p.EntryDate,
		Source:    storage.SourceAgent,
		Title:     p.Title,
		Notes:     p.Notes,
		Consent:   consent,
	}

	if err := t.store.InsertEntry(entry); err != nil {
		return nil, err
	}

	output, _ := json.Marshal(map[string]interface{}{
		"status": "committed",
		"entry":  entry,
	})
	return &Result{Success: true, Output: string(output), Committed: true}, nil
}
