package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/config"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/llm"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

// MockEngine is a scripted llm.Client
type MockEngine struct {
	CapturedRequest *llm.ChatRequest
	Response        *llm.ChatResponse
	Err             error
}

func (m *MockEngine) Chat(ctx context.Context, request *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.CapturedRequest = request
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

type memStore struct {
	storage.Store
	entries []*storage.ProgressEntry
}

func (m *memStore) InsertEntry(entry *storage.ProgressEntry) error {
	if entry.ID == "" {
		entry.ID = "test-id"
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) ListEntries(limit int, since time.Time) ([]*storage.ProgressEntry, error) {
	return m.entries, nil
}

func testAnalyzer(store storage.Store, engine llm.Client) *Analyzer {
	a := New(store, engine, config.DefaultProfile(), time.UTC)
	a.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	return a
}

func fp(v float64) *float64 { return &v }

func TestAnalyzeWithoutEngineFails(t *testing.T) {
	a := testAnalyzer(&memStore{}, nil)

	_, err := a.Analyze(context.Background(), &storage.Snapshot{}, storage.SourceUser, storage.EntryInsight, "")
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("Expected AnalysisError, got %v", err)
	}
	if !strings.Contains(analysisErr.Reason, "credential not configured") {
		t.Errorf("Unexpected reason: %s", analysisErr.Reason)
	}
}

func TestAnalyzeParsesVerdictAndPersists(t *testing.T) {
	store := &memStore{}
	engine := &MockEngine{Response: &llm.ChatResponse{
		Content: "```json\n{\"summary\":\"Weight is trending down, good adherence.\",\"impact_assessment\":\"positive\",\"delta_vs_baseline\":{\"weight_kg\":-0.8,\"hrv\":null},\"confidence\":\"high\"}\n```",
	}}

	a := testAnalyzer(store, engine)
	snap := &storage.Snapshot{WeightKg: fp(81.2)}

	outcome, err := a.Analyze(context.Background(), snap, storage.SourceWithings, storage.EntryMeasurement, "")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if outcome.Analysis.ImpactAssessment != "positive" {
		t.Errorf("Expected positive impact, got %s", outcome.Analysis.ImpactAssessment)
	}
	if d, ok := outcome.Analysis.DeltaVsBaseline["weight_kg"]; !ok || d == nil || *d != -0.8 {
		t.Errorf("Expected weight delta -0.8, got %v", d)
	}
	if d, ok := outcome.Analysis.DeltaVsBaseline["hrv"]; !ok || d != nil {
		t.Error("Expected explicit null hrv delta")
	}

	if len(store.entries) != 1 {
		t.Fatalf("Expected 1 persisted entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.EntryType != storage.EntryMeasurement || entry.Source != storage.SourceWithings {
		t.Errorf("Unexpected type/source: %s/%s", entry.EntryType, entry.Source)
	}
	if entry.EntryDate != "2026-08-29" {
		t.Errorf("Expected entry date from clock, got %s", entry.EntryDate)
	}
	if entry.Metrics != snap {
		t.Error("Expected snapshot attached to the entry")
	}

	if engine.CapturedRequest.Temperature != 0.3 {
		t.Errorf("Expected temperature 0.3, got %v", engine.CapturedRequest.Temperature)
	}
	if !strings.Contains(engine.CapturedRequest.SystemPrompt, "ONLY a JSON object") {
		t.Error("Expected JSON-only instruction in system prompt")
	}
}

func TestAnalyzeTitleTruncation(t *testing.T) {
	long := strings.Repeat("a", 150)
	engine := &MockEngine{Response: &llm.ChatResponse{
		Content: `{"summary":"` + long + `","impact_assessment":"neutral","confidence":"low"}`,
	}}
	store := &memStore{}

	a := testAnalyzer(store, engine)
	_, err := a.Analyze(context.Background(), &storage.Snapshot{}, storage.SourceUser, storage.EntryInsight, "hi")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	entry := store.entries[0]
	if len(entry.Title) != 100 {
		t.Errorf("Expected title truncated to 100, got %d", len(entry.Title))
	}
	if len(entry.Summary) != 150 {
		t.Errorf("Expected summary kept in full, got %d", len(entry.Summary))
	}
}

func TestAnalyzeTitleTruncationMultiByte(t *testing.T) {
	// A multi-byte rune straddles the 100th position; the cut must land on
	// a rune boundary, keeping the persisted title valid UTF-8.
	long := strings.Repeat("a", 99) + strings.Repeat("ñ", 30)
	engine := &MockEngine{Response: &llm.ChatResponse{
		Content: `{"summary":"` + long + `","impact_assessment":"neutral","confidence":"low"}`,
	}}
	store := &memStore{}

	a := testAnalyzer(store, engine)
	_, err := a.Analyze(context.Background(), &storage.Snapshot{}, storage.SourceUser, storage.EntryInsight, "")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	title := store.entries[0].Title
	if !utf8.ValidString(title) {
		t.Errorf("Title is not valid UTF-8: %q", title)
	}
	if got := utf8.RuneCountInString(title); got != 100 {
		t.Errorf("Expected 100 runes, got %d", got)
	}
	if !strings.HasPrefix(store.entries[0].Summary, title) {
		t.Error("Title must be a prefix of the summary")
	}
}

func TestAnalyzeUnparseableVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no json", "I think things are going well!"},
		{"missing summary", `{"impact_assessment":"neutral"}`},
		{"broken json", `{"summary": "unterminated`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockEngine{Response: &llm.ChatResponse{Content: tt.content}}
			a := testAnalyzer(&memStore{}, engine)

			_, err := a.Analyze(context.Background(), &storage.Snapshot{}, storage.SourceUser, storage.EntryInsight, "")
			var analysisErr *AnalysisError
			if !errors.As(err, &analysisErr) {
				t.Fatalf("Expected AnalysisError, got %v", err)
			}
		})
	}
}

func TestAnalyzeEngineUnreachable(t *testing.T) {
	engine := &MockEngine{Err: errors.New("connection refused")}
	a := testAnalyzer(&memStore{}, engine)

	_, err := a.Analyze(context.Background(), &storage.Snapshot{}, storage.SourceUser, storage.EntryInsight, "")
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("Expected AnalysisError, got %v", err)
	}
	if !errors.Is(err, engine.Err) {
		t.Error("Expected the transport error wrapped")
	}
}

func TestAnalyzeUserMessageInPrompt(t *testing.T) {
	engine := &MockEngine{Response: &llm.ChatResponse{
		Content: `{"summary":"ok","impact_assessment":"neutral","confidence":"low"}`,
	}}
	a := testAnalyzer(&memStore{}, engine)

	_, err := a.Analyze(context.Background(), &storage.Snapshot{}, storage.SourceUser, storage.EntryAdherence, "I skipped the gym today")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	prompt := engine.CapturedRequest.Messages[0].Content
	if !strings.Contains(prompt, "I skipped the gym today") {
		t.Error("Expected user message included in the prompt")
	}
}
