package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/accounts"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/assign"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/logbuf"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(since time.Time, minLevel slog.Level, limit int) []logbuf.Entry
}

// AssignmentService is what the API needs from the assignment engine.
type AssignmentService interface {
	Assign(chatID string, accountID int64, agentID, assignedBy string, opts assign.Options) (*protocol.ChatAssignment, error)
	AutoAssign(chatID string, accountID int64, category string) (*protocol.ChatAssignment, error)
	Close(chatID string, accountID int64, notes string) error
	GetActive(chatID string, accountID int64) (*protocol.ChatAssignment, error)
	Workloads() (map[string]int, error)
}

// AccountService is what the API needs from the auto-response config service.
type AccountService interface {
	Activate(accountID int64, responderID string, delaySeconds int) (protocol.AccountConfig, error)
	Deactivate(accountID int64) (protocol.AccountConfig, error)
	Set(accountID int64, patch accounts.Patch) (protocol.AccountConfig, error)
	Status() ([]protocol.AccountConfig, error)
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the REST control surface for operators and the dashboard.
type Server struct {
	assignments AssignmentService
	accounts    AccountService
	agents      store.AgentDirectory
	cfg         Config
	logger      *slog.Logger
	logs        LogQuerier
	srv         *http.Server
}

// NewServer creates the API server. logs may be nil.
func NewServer(assignments AssignmentService, accounts AccountService, agents store.AgentDirectory, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		assignments: assignments,
		accounts:    accounts,
		agents:      agents,
		cfg:         cfg,
		logger:      logger,
		logs:        logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/assignments", s.requireAuth(s.handlePostAssignment))
	mux.HandleFunc("GET /api/assignments/{chatID}", s.requireAuth(s.handleGetAssignment))
	mux.HandleFunc("POST /api/assignments/{chatID}/close", s.requireAuth(s.handleCloseAssignment))
	mux.HandleFunc("POST /api/auto-response/activate/{accountID}", s.requireAuth(s.handleActivate))
	mux.HandleFunc("POST /api/auto-response/deactivate/{accountID}", s.requireAuth(s.handleDeactivate))
	mux.HandleFunc("PATCH /api/auto-response/config/{accountID}", s.requireAuth(s.handlePatchConfig))
	mux.HandleFunc("GET /api/auto-response/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("GET /api/agents", s.requireAuth(s.handleListAgents))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type postAssignmentRequest struct {
	ChatID        string `json:"chatId"`
	AccountID     int64  `json:"accountId"`
	AgentID       string `json:"agentId,omitempty"`
	AssignedBy    string `json:"assignedBy,omitempty"`
	Category      string `json:"category,omitempty"`
	Notes         string `json:"notes,omitempty"`
	ForceReassign bool   `json:"forceReassign,omitempty"`
}

// handlePostAssignment assigns a chat to an agent. An empty agentId asks
// for workload-based auto-assignment; the response body is null when no
// eligible agent exists.
func (s *Server) handlePostAssignment(w http.ResponseWriter, r *http.Request) {
	var req postAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.ChatID == "" || req.AccountID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chatId and accountId are required"})
		return
	}

	var (
		a   *protocol.ChatAssignment
		err error
	)
	if req.AgentID == "" {
		a, err = s.assignments.AutoAssign(req.ChatID, req.AccountID, req.Category)
	} else {
		a, err = s.assignments.Assign(req.ChatID, req.AccountID, req.AgentID, req.AssignedBy, assign.Options{
			Category:      req.Category,
			Notes:         req.Notes,
			ForceReassign: req.ForceReassign,
		})
	}
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryAccountID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a, err := s.assignments.GetActive(r.PathValue("chatID"), accountID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type closeAssignmentRequest struct {
	AccountID int64  `json:"accountId"`
	Notes     string `json:"notes,omitempty"`
}

func (s *Server) handleCloseAssignment(w http.ResponseWriter, r *http.Request) {
	var req closeAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.AccountID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "accountId is required"})
		return
	}
	if err := s.assignments.Close(r.PathValue("chatID"), req.AccountID, req.Notes); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type activateRequest struct {
	ResponderID  string `json:"responderId"`
	DelaySeconds int    `json:"delaySeconds,omitempty"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathAccountID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.ResponderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "responderId is required"})
		return
	}

	cfg, err := s.accounts.Activate(accountID, req.ResponderID, req.DelaySeconds)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": cfg})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathAccountID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := s.accounts.Deactivate(accountID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type configPatchRequest struct {
	ResponderID     *string `json:"responderId,omitempty"`
	Enabled         *bool   `json:"enabled,omitempty"`
	DelaySeconds    *int    `json:"delaySeconds,omitempty"`
	FallbackMessage *string `json:"fallbackMessage,omitempty"`
}

// handlePatchConfig applies a partial config update; absent fields are
// left unchanged. Flipping enabled here behaves like activate/deactivate.
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathAccountID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req configPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	cfg, err := s.accounts.Set(accountID, accounts.Patch{
		ResponderID:          req.ResponderID,
		Enabled:              req.Enabled,
		ResponseDelaySeconds: req.DelaySeconds,
		FallbackMessage:      req.FallbackMessage,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type accountStatus struct {
	AccountID    int64  `json:"accountId"`
	Enabled      bool   `json:"enabled"`
	ResponderID  string `json:"responderId,omitempty"`
	DelaySeconds int    `json:"delaySeconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	configs, err := s.accounts.Status()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	statuses := make([]accountStatus, 0, len(configs))
	for _, cfg := range configs {
		statuses = append(statuses, accountStatus{
			AccountID:    cfg.AccountID,
			Enabled:      cfg.Enabled,
			ResponderID:  cfg.ResponderID,
			DelaySeconds: cfg.ResponseDelaySeconds,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": statuses})
}

// AgentInfo describes an agent with its current workload.
type AgentInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Department  string `json:"department,omitempty"`
	Status      string `json:"status"`
	ActiveChats int    `json:"activeChats"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	agents, err := s.agents.ListAgents()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	workloads, err := s.assignments.Workloads()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	infos := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, AgentInfo{
			ID:          a.ID,
			DisplayName: a.DisplayName,
			Role:        a.Role,
			Department:  a.Department,
			Status:      string(a.Status),
			ActiveChats: workloads[a.ID],
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		minLevel = logbuf.ParseLevel(lvl)
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func pathAccountID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("accountID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid account id")
	}
	return id, nil
}

func queryAccountID(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("accountId")
	if v == "" {
		return 0, errors.New("accountId query parameter is required")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid account id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
