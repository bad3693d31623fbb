package web

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudnav-ai/cloudnav/pkg/db"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":        "ok",
		"llm_ready":     s.aiClient != nil && s.aiClient.IsReady(),
		"audit_enabled": s.auditDB != nil,
		"conversations": s.store.Len(),
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.versionInfo == nil {
		writeJSON(w, http.StatusOK, &VersionInfo{Version: "dev"})
		return
	}
	writeJSON(w, http.StatusOK, s.versionInfo)
}

// handleModels lists the models the configured provider serves.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.aiClient == nil {
		WriteError(w, NewAPIError(ErrCodeLLMNotConfigured, "no LLM provider is configured"))
		return
	}
	models, err := s.aiClient.ListModels(r.Context())
	if err != nil {
		LLMError(w, err, s.aiClient.GetProvider())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": s.aiClient.GetProvider(),
		"active":   s.aiClient.GetModel(),
		"models":   models,
	})
}

// conversationSummary is the list view; turns are omitted.
type conversationSummary struct {
	ID        string `json:"id"`
	Turns     int    `json:"turns"`
	Project   string `json:"project,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}

	conversations := s.store.List()
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})

	out := make([]conversationSummary, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, conversationSummary{
			ID:        c.ID,
			Turns:     len(c.Turns),
			Project:   c.Project,
			UpdatedAt: c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleConversation serves GET and DELETE for /api/conversations/{id}.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if id == "" || strings.Contains(id, "/") {
		NotFound(w, "unknown conversation path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		conv, ok := s.store.Get(id)
		if !ok {
			NotFound(w, "conversation not found or expired")
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		s.store.Delete(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.auditDB == nil {
		WriteError(w, NewAPIError(ErrCodeDatabaseError, "audit persistence is disabled"))
		return
	}

	filter := db.AuditFilter{
		ConversationID: r.URL.Query().Get("conversation_id"),
		Verdict:        r.URL.Query().Get("verdict"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	entries, err := s.auditDB.ListAudit(filter)
	if err != nil {
		WriteError(w, NewAPIError(ErrCodeDatabaseError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}
