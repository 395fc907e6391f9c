package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// handleEvents streams every event published to the bus from this point
// forward as Server-Sent Events (spec.md §6). Late joiners do not replay
// history, matching the Bus's own no-replay contract.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	ctx := r.Context()
	for {
		e, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		if err := events.WriteSSE(w, e); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleAgents serves GET /state/agents (the current projection) and
// POST /state/agents (an out-of-band agent update, broadcast as an
// AgentStateChanged event so every SSE subscriber observes it too).
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.projector.Agents())
	case http.MethodPost:
		var req struct {
			Agent events.AgentInfo `json:"agent"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.bus.Publish(types.Event{
			Type: types.EventAgentStateChanged,
			Payload: map[string]interface{}{
				"agent_id": req.Agent.ID,
				"role":     string(req.Agent.Role),
				"status":   req.Agent.Status,
				"task":     req.Agent.Task,
			},
		})
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleContextFiles serves GET /state/context-files and POST
// /state/context-files, broadcasting ContextFileModified on update.
func (s *Server) handleContextFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.projector.ContextFiles())
	case http.MethodPost:
		var req struct {
			File events.ContextFile `json:"file"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.bus.Publish(types.Event{
			Type: types.EventContextFileModified,
			Payload: map[string]interface{}{
				"path":        req.File.Path,
				"modified_by": req.File.ModifiedBy,
			},
		})
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Status strings an agent reports as busy; everything else counts as idle
// in handleStats. These mirror the values original_source/src/agents
// publishes, not a types.WorkItemState (an agent's status and a work
// item's phase are reported independently).
const (
	agentStatusRunning = "running"
	agentStatusActive  = "active"
)

// stateStats mirrors original_source/src/api/state.rs's StateStats shape.
type stateStats struct {
	TotalAgents    int `json:"total_agents"`
	ActiveAgents   int `json:"active_agents"`
	IdleAgents     int `json:"idle_agents"`
	ContextFiles   int `json:"context_files"`
	ActiveSessions int `json:"active_sessions"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agents := s.projector.Agents()
	stats := stateStats{
		TotalAgents:    len(agents),
		ContextFiles:   len(s.projector.ContextFiles()),
		ActiveSessions: s.projector.ActiveSessionCount(),
	}
	for _, a := range agents {
		switch a.Status {
		case agentStatusRunning, agentStatusActive:
			stats.ActiveAgents++
		default:
			stats.IdleAgents++
		}
	}
	writeJSON(w, stats)
}

type healthResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	Subscribers int       `json:"subscribers"`
	InstanceID  string    `json:"instance_id"`
	CacheHits   int64     `json:"cache_hits,omitempty"`
	CacheMisses int64     `json:"cache_misses,omitempty"`
	Time        time.Time `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Version:     Version,
		Subscribers: s.bus.SubscriberCount(),
		InstanceID:  s.bus.InstanceID(),
		Time:        time.Now(),
	}
	if s.cacheStat != nil {
		resp.CacheHits, resp.CacheMisses = s.cacheStat()
	}
	writeJSON(w, resp)
}

// handleResolveEscalation serves POST /escalations/resolve, answering an
// Escalation an Executor raised (SPEC_FULL §3A) so the flow is reachable
// from outside the process, not just a unit test driving
// Engine.ResolveEscalation directly.
func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.escalations == nil {
		http.Error(w, "escalations not available", http.StatusNotImplemented)
		return
	}

	var req struct {
		ID     string `json:"id"`
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	s.escalations.ResolveEscalation(req.ID, req.Answer)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode json response", zap.Error(err))
	}
}
