// Package agent runs one conversational coaching turn: a bounded
// tool-calling loop against the Reasoning Engine, gated by explicit user
// consent for state-committing tools, always ending in a progress analysis.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/analyzer"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/llm"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/tools"
)

// maxTurnIterations bounds the tool-calling loop. When the cap is reached the
// last engine message is returned as-is, marked exhausted, never failed.
const maxTurnIterations = 5

// consentTokens is the fixed literal set scanned in the raw user message.
// The boolean is computed once per turn and never re-derived from engine
// output, so the engine cannot grant itself consent.
var consentTokens = []string{
	"i consent",
	"i agree",
	"i approve",
	"yes, do it",
	"go ahead",
	"approved",
	"confirmed",
	"you have my consent",
}

// HasConsent reports whether the raw user message contains an explicit
// approval token.
func HasConsent(message string) bool {
	lower := strings.ToLower(message)
	for _, token := range consentTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

var adherenceKeywords = []string{
	"ate", "eat", "eating", "meal", "dinner", "lunch", "breakfast", "snack",
	"diet", "protein", "calorie", "calories", "carbs", "fasting",
	"workout", "training", "trained", "gym", "run", "ran", "lifted", "exercise",
}

var interventionKeywords = []string{
	"quit", "stop", "stopped", "start", "started", "cut", "reduce", "reducing",
	"increase", "habit", "switch", "switching", "change", "changing", "drop",
}

// ClassifyEntryType buckets a raw message into the entry type used for the
// end-of-turn analysis: nutrition/training keywords win over behavior-change
// keywords; everything else is an insight.
func ClassifyEntryType(message string) string {
	words := tokenize(message)

	for _, kw := range adherenceKeywords {
		if words[kw] {
			return storage.EntryAdherence
		}
	}
	for _, kw := range interventionKeywords {
		if words[kw] {
			return storage.EntryIntervention
		}
	}
	return storage.EntryInsight
}

func tokenize(message string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		words[w] = true
	}
	return words
}

// TraceEntry records one dispatched tool call, in order.
type TraceEntry struct {
	Function  string          `json:"function"`
	Arguments json.RawMessage `json:"arguments"`
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	Reply     string       `json:"reply"`
	Committed bool         `json:"committed"`
	ToolTrace []TraceEntry `json:"tool_trace"`
	Exhausted bool         `json:"exhausted,omitempty"`
}

// Orchestrator drives chat turns against the Reasoning Engine.
type Orchestrator struct {
	engine      llm.Client
	toolManager *tools.Manager
	store       storage.Store
	analyzer    *analyzer.Analyzer
}

// New creates an orchestrator
func New(engine llm.Client, toolManager *tools.Manager, store storage.Store, an *analyzer.Analyzer) *Orchestrator {
	return &Orchestrator{
		engine:      engine,
		toolManager: toolManager,
		store:       store,
		analyzer:    an,
	}
}

const agentSystemPrompt = `You are a personal health coach with access to the client's longitudinal progress history.

You can read recent history (get_agent_state), log observed events (create_agent_event), and commit coaching decisions (commit_agent_decision).

Rules:
- Read state before making claims about trends.
- Log concrete events the client reports (meals, workouts, symptoms) as events.
- A decision (plan change, intervention) may only be committed when the client has given explicit consent in their message. If a commit is rejected for missing consent, tell the client what you wanted to commit and ask for their approval.
- Be concise and specific; refer to actual numbers from the history when relevant.`

// RunTurn executes one chat turn. The loop dispatches tools for up to
// maxTurnIterations engine responses; the end-of-turn analysis is mandatory
// and its failure fails the turn, so every interaction leaves an audit trail.
func (o *Orchestrator) RunTurn(ctx context.Context, message string) (*TurnResult, error) {
	if o.engine == nil {
		return nil, fmt.Errorf("reasoning engine credential not configured")
	}

	turn := tools.TurnContext{ConsentGranted: HasConsent(message)}
	logging.Info("Agent turn started: consent=%v", turn.ConsentGranted)

	messages := []llm.Message{{Role: "user", Content: message}}
	result := &TurnResult{ToolTrace: []TraceEntry{}}

	for step := 1; step <= maxTurnIterations; step++ {
		response, err := o.engine.Chat(ctx, &llm.ChatRequest{
			SystemPrompt: agentSystemPrompt,
			Messages:     messages,
			Tools:        o.toolManager.GetDefinitions(),
			Temperature:  0.2,
		})
		if err != nil {
			return nil, fmt.Errorf("engine error: %w", err)
		}

		result.Reply = response.Content

		if len(response.ToolCalls) == 0 {
			break
		}
		if step == maxTurnIterations {
			// Cap reached with tools still requested: truncate, don't fail.
			result.Exhausted = true
			logging.Warn("Agent turn truncated at %d iterations", maxTurnIterations)
			break
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		// Tool calls are dispatched strictly in order; no parallel fan-out.
		toolResults := make([]llm.ToolResult, 0, len(response.ToolCalls))
		for _, call := range response.ToolCalls {
			result.ToolTrace = append(result.ToolTrace, TraceEntry{
				Function:  call.Name,
				Arguments: json.RawMessage(call.Input),
			})

			tr, res := o.toolManager.Execute(ctx, turn, call)
			if res != nil && res.Committed {
				result.Committed = true
			}
			toolResults = append(toolResults, tr)
		}

		messages = append(messages, llm.Message{
			Role:        "tool",
			ToolResults: toolResults,
		})
	}

	if err := o.analyzeTurn(ctx, message); err != nil {
		return nil, err
	}

	logging.Info("Agent turn completed: committed=%v tools=%d exhausted=%v",
		result.Committed, len(result.ToolTrace), result.Exhausted)
	return result, nil
}

// analyzeTurn runs the mandatory end-of-turn analysis with the most recent
// known snapshot, or an all-null placeholder when history has none.
func (o *Orchestrator) analyzeTurn(ctx context.Context, message string) error {
	snap := &storage.Snapshot{}
	latest, err := o.store.LatestEntryWithMetrics()
	if err != nil {
		return err
	}
	if latest != nil {
		snap = latest.Metrics
	}

	entryType := ClassifyEntryType(message)
	_, err = o.analyzer.Analyze(ctx, snap, storage.SourceUser, entryType, message)
	return err
}
