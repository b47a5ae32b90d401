// Package analyzer turns a daily snapshot plus recent history into a
// structured coaching verdict via a single Reasoning Engine call, and
// persists that verdict as a progress entry.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/config"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/llm"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

const (
	historyWindowDays = 30
	historyLimit      = 50
	promptHistoryRows = 5
	titleMaxLen       = 100
)

// AnalysisError means the Reasoning Engine was unreachable or misconfigured.
// This is a hard dependency: history quality depends on every interaction
// being analyzed, so it is never silently skipped.
type AnalysisError struct {
	Reason string
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("analysis failed: %s", e.Reason)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Analysis is the structured verdict parsed from the engine.
type Analysis struct {
	Summary          string              `json:"summary"`
	ImpactAssessment string              `json:"impact_assessment"`
	DeltaVsBaseline  map[string]*float64 `json:"delta_vs_baseline"`
	Confidence       string              `json:"confidence"`
}

// Outcome bundles the persisted entry with the parsed analysis.
type Outcome struct {
	Entry    *storage.ProgressEntry `json:"entry"`
	Analysis *Analysis              `json:"analysis"`
}

// Analyzer invokes the Reasoning Engine once per call with a fixed system
// prompt rendered from the injected coaching profile.
type Analyzer struct {
	store   storage.Store
	engine  llm.Client
	profile *config.Profile
	loc     *time.Location
	now     func() time.Time
}

// New creates an analyzer. engine may be nil when no credential is
// configured; Analyze then fails with AnalysisError instead of degrading.
func New(store storage.Store, engine llm.Client, profile *config.Profile, loc *time.Location) *Analyzer {
	return &Analyzer{
		store:   store,
		engine:  engine,
		profile: profile,
		loc:     loc,
		now:     time.Now,
	}
}

const systemPromptHeader = `You are a health and fitness coach analyzing longitudinal biometric data for one client.

You receive the client's latest daily snapshot, recent progress history, and optionally a message from the client. Judge the trend against the client's baseline and goals, not against population norms. Missing (null) metrics mean no data, never zero.

Respond with ONLY a JSON object, no prose around it, with exactly these fields:
{
  "summary": "<2-4 sentences of coaching assessment>",
  "impact_assessment": "positive" | "neutral" | "negative",
  "delta_vs_baseline": {"weight_kg": <number or null>, "heart_pulse_bpm": <number or null>, "hrv": <number or null>, "sleep_duration_minutes": <number or null>},
  "confidence": "low" | "medium" | "high"
}`

// Analyze runs one analysis: fetch history, one engine call, parse, persist.
func (a *Analyzer) Analyze(ctx context.Context, snap *storage.Snapshot, source, entryType, userMessage string) (*Outcome, error) {
	if a.engine == nil {
		return nil, &AnalysisError{Reason: "reasoning engine credential not configured"}
	}

	since := a.now().In(a.loc).AddDate(0, 0, -historyWindowDays)
	history, err := a.store.ListEntries(historyLimit, since)
	if err != nil {
		return nil, err
	}

	request := &llm.ChatRequest{
		SystemPrompt: a.systemPrompt(),
		Messages: []llm.Message{
			{Role: "user", Content: a.userPrompt(snap, history, userMessage)},
		},
		Temperature: 0.3,
	}

	response, err := a.engine.Chat(ctx, request)
	if err != nil {
		return nil, &AnalysisError{Reason: "reasoning engine unreachable", Err: err}
	}

	analysis, err := parseAnalysis(response.Content)
	if err != nil {
		return nil, &AnalysisError{Reason: "unparseable verdict", Err: err}
	}

	entry := &storage.ProgressEntry{
		EntryType:        entryType,
		EntryDate:        a.now().In(a.loc).Format("2006-01-02"),
		Source:           source,
		Title:            truncate(analysis.Summary, titleMaxLen),
		Summary:          analysis.Summary,
		ImpactAssessment: analysis.ImpactAssessment,
		Confidence:       analysis.Confidence,
		Metrics:          snap,
		DeltaVsBaseline:  analysis.DeltaVsBaseline,
	}

	if err := a.store.InsertEntry(entry); err != nil {
		return nil, err
	}

	logging.Info("Analysis persisted: entry=%s type=%s impact=%s confidence=%s",
		entry.ID, entry.EntryType, entry.ImpactAssessment, entry.Confidence)

	return &Outcome{Entry: entry, Analysis: analysis}, nil
}

func (a *Analyzer) systemPrompt() string {
	profileCtx := a.profile.PromptContext()
	if profileCtx == "" {
		return systemPromptHeader
	}
	return systemPromptHeader + "\n\nClient profile:\n" + profileCtx
}

func (a *Analyzer) userPrompt(snap *storage.Snapshot, history []*storage.ProgressEntry, userMessage string) string {
	var b strings.Builder

	if userMessage != "" {
		fmt.Fprintf(&b, "Client message: %s\n\n", userMessage)
	}

	snapJSON, _ := json.Marshal(snap)
	fmt.Fprintf(&b, "Latest daily snapshot:\n%s\n", snapJSON)

	rows := history
	if len(rows) > promptHistoryRows {
		rows = rows[:promptHistoryRows]
	}
	if len(rows) > 0 {
		b.WriteString("\nRecent history (newest first):\n")
		for _, e := range rows {
			line := e.Title
			if line == "" {
				line = e.Summary
			}
			fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", e.EntryDate, e.EntryType, e.Source, truncate(line, 160))
		}
	}

	return b.String()
}

// parseAnalysis extracts the JSON verdict, tolerating code fences around it.
func parseAnalysis(content string) (*Analysis, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in engine response")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &analysis); err != nil {
		return nil, err
	}
	if analysis.Summary == "" {
		return nil, fmt.Errorf("verdict missing summary")
	}
	return &analysis, nil
}

// truncate cuts to at most max runes, never splitting a multi-byte
// character; persisted titles must stay valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
