package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/agent"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/analyzer"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/config"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/llm"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/snapshot"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/tokens"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/tools"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/withings"
)

type memStore struct {
	storage.Store
	entries []*storage.ProgressEntry
	token   *storage.TokenRecord
}

func (m *memStore) InsertEntry(entry *storage.ProgressEntry) error {
	if entry.ID == "" {
		entry.ID = "test-id"
	}
	if entry.EntryTS.IsZero() {
		entry.EntryTS = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) ListEntries(limit int, since time.Time) ([]*storage.ProgressEntry, error) {
	out := make([]*storage.ProgressEntry, len(m.entries))
	for i, e := range m.entries {
		out[len(m.entries)-1-i] = e
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LatestEntryWithMetrics() (*storage.ProgressEntry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Metrics.HasData() {
			return m.entries[i], nil
		}
	}
	return nil, nil
}

func (m *memStore) GetToken() (*storage.TokenRecord, error)  { return m.token, nil }
func (m *memStore) SaveToken(rec *storage.TokenRecord) error { m.token = rec; return nil }

// staticEngine answers every chat with the same response.
type staticEngine struct {
	response *llm.ChatResponse
}

func (e *staticEngine) Chat(ctx context.Context, request *llm.ChatRequest) (*llm.ChatResponse, error) {
	return e.response, nil
}

// providerFixture fakes the Withings API for server tests.
type providerFixture struct {
	measureGroups []withings.MeasureGroup
	measureStatus int
	tokenStatus   int
}

func (f *providerFixture) start(t *testing.T) *withings.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/measure", func(w http.ResponseWriter, r *http.Request) {
		writeProviderEnvelope(w, f.measureStatus, map[string]interface{}{"measuregrps": f.measureGroups})
	})
	mux.HandleFunc("/v2/sleep", func(w http.ResponseWriter, r *http.Request) {
		writeProviderEnvelope(w, 0, map[string]interface{}{"series": []withings.SleepSummary{}})
	})
	mux.HandleFunc("/v2/oauth2", func(w http.ResponseWriter, r *http.Request) {
		writeProviderEnvelope(w, f.tokenStatus, withings.TokenResponse{
			AccessToken:  "fresh-access",
			RefreshToken: "fresh-refresh",
			ExpiresIn:    3600,
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return withings.NewClientWithBaseURL(server.URL)
}

func writeProviderEnvelope(w http.ResponseWriter, status int, body interface{}) {
	resp := map[string]interface{}{"status": status}
	if status == 0 {
		resp["body"] = body
	} else {
		resp["error"] = "simulated failure"
	}
	json.NewEncoder(w).Encode(resp)
}

type serverFixture struct {
	store    *memStore
	provider *providerFixture
	server   *Server
}

func setupServer(t *testing.T, engine llm.Client) *serverFixture {
	t.Helper()

	cfg := &config.Config{
		Port:        0,
		Timezone:    "UTC",
		FetchPolicy: config.FetchStrict,
	}
	store := &memStore{}
	provider := &providerFixture{}
	api := provider.start(t)
	oauth := withings.NewOAuth(api, "cid", "secret", "http://localhost/callback")
	tokenManager := tokens.NewManager(store, oauth)
	normalizer := snapshot.NewNormalizer(api, cfg.FetchPolicy)
	an := analyzer.New(store, engine, config.DefaultProfile(), time.UTC)
	orchestrator := agent.New(engine, tools.NewManager(store), store, an)

	srv := NewServer(cfg, store, tokenManager, oauth, api, normalizer, an, orchestrator, time.UTC)
	return &serverFixture{store: store, provider: provider, server: srv}
}

func (f *serverFixture) authenticate() {
	f.store.token = &storage.TokenRecord{
		AccessToken:  "live-token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().UnixMilli() + 3600_000,
	}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestOpenAPIEndpoint(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "GET", "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "openapi: 3.0.3")
	assert.Contains(t, w.Body.String(), "/health/daily")
}

func TestDailySnapshotInvalidDate(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "GET", "/health/daily?date=not-a-date", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "Invalid date format")
}

func TestDailySnapshotUnauthenticated(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "GET", "/health/daily?date=2026-08-29", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDailySnapshotColdStartTriggersAnalysis(t *testing.T) {
	engine := &staticEngine{response: &llm.ChatResponse{
		Content: `{"summary":"Baseline recorded.","impact_assessment":"neutral","confidence":"low"}`,
	}}
	f := setupServer(t, engine)
	f.authenticate()

	day, _ := snapshot.ResolveDate("2026-08-29", time.UTC)
	f.provider.measureGroups = []withings.MeasureGroup{
		{GrpID: 1, Date: day.Unix() + 3600, Measures: []withings.Measure{
			{Value: 82500, Type: withings.TypeWeight, Unit: -3},
		}},
	}

	w := f.do(t, "GET", "/health/daily?date=2026-08-29", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "2026-08-29", body["date"])

	snapBody := body["snapshot"].(map[string]interface{})
	assert.Equal(t, 82.5, snapBody["weight_kg"])
	assert.Nil(t, snapBody["hrv"])

	trigger := body["agent_trigger"].(map[string]interface{})
	assert.Equal(t, true, trigger["triggered"])

	require.Contains(t, body, "agent_analysis")
	// Analysis persisted one measurement entry.
	require.Len(t, f.store.entries, 1)
	assert.Equal(t, storage.EntryMeasurement, f.store.entries[0].EntryType)
	assert.Equal(t, storage.SourceWithings, f.store.entries[0].Source)
}

func TestDailySnapshotNoTriggerSkipsAnalysis(t *testing.T) {
	f := setupServer(t, nil)
	f.authenticate()

	weight := 82.5
	f.store.entries = append(f.store.entries, &storage.ProgressEntry{
		ID:        "prior",
		EntryType: storage.EntryMeasurement,
		EntryDate: "2026-08-28",
		Source:    storage.SourceWithings,
		Metrics:   &storage.Snapshot{WeightKg: &weight},
		EntryTS:   time.Now().Add(-24 * time.Hour),
	})

	day, _ := snapshot.ResolveDate("2026-08-29", time.UTC)
	f.provider.measureGroups = []withings.MeasureGroup{
		{GrpID: 2, Date: day.Unix() + 3600, Measures: []withings.Measure{
			{Value: 82600, Type: withings.TypeWeight, Unit: -3}, // +0.1 kg, below threshold
		}},
	}

	w := f.do(t, "GET", "/health/daily?date=2026-08-29", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	trigger := body["agent_trigger"].(map[string]interface{})
	assert.Equal(t, false, trigger["triggered"])
	assert.NotContains(t, body, "agent_analysis")
	// Nothing new persisted: no analysis ran, and the engine is nil anyway.
	assert.Len(t, f.store.entries, 1)
}

func TestDailySnapshotProviderFailureStrict(t *testing.T) {
	f := setupServer(t, nil)
	f.authenticate()
	f.provider.measureStatus = 503

	w := f.do(t, "GET", "/health/daily?date=2026-08-29", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDailySnapshotDebugFlag(t *testing.T) {
	f := setupServer(t, &staticEngine{response: &llm.ChatResponse{
		Content: `{"summary":"ok","impact_assessment":"neutral","confidence":"low"}`,
	}})
	f.authenticate()

	w := f.do(t, "GET", "/health/daily?date=2026-08-29&debug=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	require.Contains(t, body, "debug")

	w = f.do(t, "GET", "/health/daily?date=2026-08-29", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decodeBody(t, w), "debug")
}

func TestAuthRedirect(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "GET", "/auth/withings", "")
	assert.Equal(t, http.StatusFound, w.Code)

	location := w.Header().Get("Location")
	assert.Contains(t, location, "client_id=cid")
	assert.Contains(t, location, "scope=user.metrics%2Cuser.activity")
	assert.Contains(t, location, "state=")
}

func TestAuthCallback(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "GET", "/auth/withings/callback", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "GET", "/auth/withings/callback?code=auth-code", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NotNil(t, f.store.token)
	assert.Equal(t, "fresh-access", f.store.token.AccessToken)
}

func TestRawWeightEndpoint(t *testing.T) {
	f := setupServer(t, nil)
	f.authenticate()

	w := f.do(t, "GET", "/withings/weight", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	now := time.Now().Unix()
	for i := 0; i < 12; i++ {
		f.provider.measureGroups = append(f.provider.measureGroups, withings.MeasureGroup{
			GrpID: int64(i), Date: now - int64(i)*86400,
			Measures: []withings.Measure{{Value: 80000 + int64(i)*100, Type: withings.TypeWeight, Unit: -3}},
		})
	}

	w = f.do(t, "GET", "/withings/weight", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(10), body["count"])
	groups := body["groups"].([]interface{})
	require.Len(t, groups, 10)
	first := groups[0].(map[string]interface{})
	assert.Equal(t, float64(0), first["grpid"]) // newest group first
}

func TestAgentStateEndpoint(t *testing.T) {
	f := setupServer(t, nil)
	f.store.InsertEntry(&storage.ProgressEntry{
		EntryType: storage.EntryEvent, EntryDate: "2026-08-29",
		Source: storage.SourceManual, Title: "slept badly",
	})

	w := f.do(t, "GET", "/agent/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	first := w.Body.String()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(first), &body))
	assert.Equal(t, float64(1), body["count"])

	// Repeated reads with no intervening writes return the identical
	// ordered payload.
	w = f.do(t, "GET", "/agent/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, w.Body.String())
}

func TestAgentEventEndpoint(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "POST", "/agent/event", `{"title":"missing date"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/agent/event", `{"entry_date":"2026-08-29","title":"Fasted until noon","notes":"16h fast"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "saved", body["status"])

	require.Len(t, f.store.entries, 1)
	assert.Equal(t, storage.EntryEvent, f.store.entries[0].EntryType)
	assert.Equal(t, storage.SourceManual, f.store.entries[0].Source)
}

func TestAgentCommitEndpoint(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "POST", "/agent/commit", `{"entry_date":"2026-08-29","title":"New plan"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "POST", "/agent/commit", `{"entry_date":"2026-08-29","title":"New plan","consent":{"status":"pending"}}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, f.store.entries, 0)

	w = f.do(t, "POST", "/agent/commit", `{"entry_date":"2026-08-29","title":"New plan","consent":{"status":"granted","scope":"training"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, f.store.entries, 1)
	entry := f.store.entries[0]
	assert.Equal(t, storage.EntryDecision, entry.EntryType)
	require.NotNil(t, entry.Consent)
	assert.Equal(t, "granted", entry.Consent.Status)
	assert.NotEmpty(t, entry.Consent.GrantedAt)
	assert.Equal(t, "training", entry.Consent.Scope)
}

func TestAgentChatEndpoint(t *testing.T) {
	engine := &staticEngine{response: &llm.ChatResponse{
		Content: `{"summary":"Noted.","impact_assessment":"neutral","confidence":"low"}`,
	}}
	f := setupServer(t, engine)

	w := f.do(t, "POST", "/agent/chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/agent/chat", `{"message":"how am I doing?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Contains(t, body, "reply")
	assert.Contains(t, body, "tool_trace")
	assert.Equal(t, false, body["committed"])
}

func TestAgentChatWithoutEngine(t *testing.T) {
	f := setupServer(t, nil)

	w := f.do(t, "POST", "/agent/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "reasoning engine")
}
