package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/agent"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/analyzer"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/config"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/snapshot"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/tokens"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/withings"
)

const (
	agentStateLimit       = 100
	rawWeightGroups       = 10
	rawWeightLookbackDays = 365
)

// Server represents the HTTP API server
type Server struct {
	config       *config.Config
	store        storage.Store
	tokenManager *tokens.Manager
	oauth        *withings.OAuth
	api          *withings.Client
	normalizer   *snapshot.Normalizer
	analyzer     *analyzer.Analyzer
	orchestrator *agent.Orchestrator
	loc          *time.Location
	router       chi.Router
}

// NewServer creates a new HTTP server instance
func NewServer(
	cfg *config.Config,
	store storage.Store,
	tokenManager *tokens.Manager,
	oauth *withings.OAuth,
	api *withings.Client,
	normalizer *snapshot.Normalizer,
	an *analyzer.Analyzer,
	orchestrator *agent.Orchestrator,
	loc *time.Location,
) *Server {
	s := &Server{
		config:       cfg,
		store:        store,
		tokenManager: tokenManager,
		oauth:        oauth,
		api:          api,
		normalizer:   normalizer,
		analyzer:     an,
		orchestrator: orchestrator,
		loc:          loc,
	}

	s.setupRoutes()
	return s
}

// Router exposes the configured handler (used by tests)
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/daily", s.handleDailySnapshot)
	r.Get("/openapi.yaml", s.handleOpenAPI)

	r.Get("/auth/withings", s.handleAuthRedirect)
	r.Get("/auth/withings/callback", s.handleAuthCallback)
	r.Get("/withings/weight", s.handleRawWeight)

	r.Route("/agent", func(r chi.Router) {
		r.Get("/state", s.handleAgentState)
		r.Post("/event", s.handleAgentEvent)
		r.Post("/commit", s.handleAgentCommit)
		r.Post("/chat", s.handleAgentChat)
	})

	s.router = r
}

// Run starts the HTTP server
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.config.Port)
	logging.Info("Starting HTTP server on %s", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		logging.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// DailySnapshotResponse is the payload of GET /health/daily
type DailySnapshotResponse struct {
	Date          string                 `json:"date"`
	Window        snapshot.WindowMeta    `json:"window"`
	DataPoints    []snapshot.DataPoint   `json:"data_points"`
	Snapshot      *storage.Snapshot      `json:"snapshot"`
	Debug         *snapshot.DebugInfo    `json:"debug,omitempty"`
	AgentTrigger  *snapshot.ChangeResult `json:"agent_trigger,omitempty"`
	AgentAnalysis *analyzer.Outcome      `json:"agent_analysis,omitempty"`
}

func (s *Server) handleDailySnapshot(w http.ResponseWriter, r *http.Request) {
	dayStart, err := snapshot.ResolveDate(r.URL.Query().Get("date"), s.loc)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid date format, expected YYYY-MM-DD")
		return
	}

	accessToken, err := s.tokenManager.ValidAccessToken(r.Context())
	if err != nil {
		if errors.Is(err, tokens.ErrNotAuthenticated) || errors.Is(err, tokens.ErrRefreshFailed) {
			s.errorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.normalizer.DailySnapshot(r.Context(), accessToken, dayStart, s.loc)
	if err != nil {
		var apiErr *withings.APIError
		if errors.As(err, &apiErr) {
			s.errorResponse(w, http.StatusBadGateway, "Measurement fetch failed: "+err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := DailySnapshotResponse{
		Date:       result.Window.Date,
		Window:     result.Window,
		DataPoints: result.DataPoints,
		Snapshot:   result.Snapshot,
	}
	if r.URL.Query().Get("debug") == "1" {
		debug := result.Debug
		resp.Debug = &debug
	}

	latest, err := s.store.LatestEntryWithMetrics()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	var prior *storage.Snapshot
	if latest != nil {
		prior = latest.Metrics
	}

	change := snapshot.DetectChange(prior, result.Snapshot)
	resp.AgentTrigger = &change

	if change.Triggered {
		outcome, err := s.analyzer.Analyze(r.Context(), result.Snapshot,
			storage.SourceWithings, storage.EntryMeasurement, "")
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.AgentAnalysis = outcome
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml")
	w.Write([]byte(openAPIDocument))
}

func (s *Server) handleAuthRedirect(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.Redirect(w, r, s.oauth.AuthorizeURL(state), http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		s.errorResponse(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	tok, err := s.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Token exchange failed: "+err.Error())
		return
	}

	if err := s.tokenManager.SaveTokens(tok.AccessToken, tok.RefreshToken, tok.ExpiresIn); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to persist tokens: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message":    "Withings connected",
		"expires_in": tok.ExpiresIn,
	})
}

func (s *Server) handleRawWeight(w http.ResponseWriter, r *http.Request) {
	accessToken, err := s.tokenManager.ValidAccessToken(r.Context())
	if err != nil {
		if errors.Is(err, tokens.ErrNotAuthenticated) || errors.Is(err, tokens.ErrRefreshFailed) {
			s.errorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	end := time.Now().In(s.loc)
	start := end.AddDate(0, 0, -rawWeightLookbackDays)

	groups, err := s.api.GetMeasures(r.Context(), accessToken, []int{withings.TypeWeight}, start, end)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Weight fetch failed: "+err.Error())
		return
	}
	if len(groups) == 0 {
		s.errorResponse(w, http.StatusNotFound, "No weight measurements found")
		return
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Date > groups[j].Date
	})
	if len(groups) > rawWeightGroups {
		groups = groups[:rawWeightGroups]
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"count":  len(groups),
		"groups": groups,
	})
}

func (s *Server) handleAgentState(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListEntries(agentStateLimit, time.Time{})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*storage.ProgressEntry{}
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// AgentEventRequest is the payload of POST /agent/event
type AgentEventRequest struct {
	EntryDate string            `json:"entry_date"`
	Title     string            `json:"title"`
	Notes     string            `json:"notes,omitempty"`
	Metrics   *storage.Snapshot `json:"metrics,omitempty"`
}

func (s *Server) handleAgentEvent(w http.ResponseWriter, r *http.Request) {
	var req AgentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.EntryDate == "" || req.Title == "" {
		s.errorResponse(w, http.StatusBadRequest, "entry_date and title are required")
		return
	}

	entry := &storage.ProgressEntry{
		EntryType: storage.EntryEvent,
		EntryDate: req.EntryDate,
		Source:    storage.SourceManual,
		Title:     req.Title,
		Notes:     req.Notes,
		Metrics:   req.Metrics,
	}

	if err := s.store.InsertEntry(entry); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status": "saved",
		"entry":  entry,
	})
}

// AgentCommitRequest is the payload of POST /agent/commit
type AgentCommitRequest struct {
	EntryDate string           `json:"entry_date"`
	Title     string           `json:"title"`
	Notes     string           `json:"notes,omitempty"`
	Consent   *storage.Consent `json:"consent"`
}

func (s *Server) handleAgentCommit(w http.ResponseWriter, r *http.Request) {
	var req AgentCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.EntryDate == "" || req.Title == "" {
		s.errorResponse(w, http.StatusBadRequest, "entry_date and title are required")
		return
	}
	if req.Consent == nil || req.Consent.Status != "granted" {
		s.errorResponse(w, http.StatusForbidden, "Consent not granted")
		return
	}

	entry := &storage.ProgressEntry{
		EntryType: storage.EntryDecision,
		EntryDate: req.EntryDate,
		Source:    storage.SourceManual,
		Title:     req.Title,
		Notes:     req.Notes,
		Consent: &storage.Consent{
			Status:    "granted",
			GrantedAt: time.Now().UTC().Format(time.RFC3339),
			Scope:     req.Consent.Scope,
		},
	}

	if err := s.store.InsertEntry(entry); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status": "saved",
		"entry":  entry,
	})
}

// AgentChatRequest is the payload of POST /agent/chat
type AgentChatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	var req AgentChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.orchestrator.RunTurn(r.Context(), req.Message)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	logging.Error("HTTP error: %d - %s", status, message)
	s.jsonResponse(w, status, map[string]string{"error": message})
}
