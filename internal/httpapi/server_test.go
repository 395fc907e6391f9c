package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

func testServer() *Server {
	bus := events.NewBus(100, "test-instance")
	projector := events.NewProjector()
	return NewServer(config.ServerConfig{Port: 18080, PortRangeSize: 1}, bus, projector, nil, nil, zap.NewNop())
}

func TestHealthHandlerReportsOKAndSubscriberCount(t *testing.T) {
	s := testServer()
	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status=ok, got %q", resp.Status)
	}
	if resp.Subscribers != 1 {
		t.Errorf("expected subscribers=1, got %d", resp.Subscribers)
	}
	if resp.Version != Version {
		t.Errorf("expected version=%q, got %q", Version, resp.Version)
	}
	if resp.InstanceID != "test-instance" {
		t.Errorf("expected instance_id=test-instance, got %q", resp.InstanceID)
	}
}

func TestHandleAgentsGetReturnsProjection(t *testing.T) {
	s := testServer()
	s.projector.Apply(types.Event{
		Type:      types.EventAgentStarted,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"agent_id": "exec-1", "role": "executor", "status": "running"},
	})

	req := httptest.NewRequest(http.MethodGet, "/state/agents", nil)
	rec := httptest.NewRecorder()
	s.handleAgents(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var agents []events.AgentInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatalf("failed to decode agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "exec-1" {
		t.Errorf("expected one projected agent exec-1, got %+v", agents)
	}
}

func TestHandleAgentsPostBroadcastsEvent(t *testing.T) {
	s := testServer()
	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	body := strings.NewReader(`{"agent":{"id":"exec-2","status":"idle"}}`)
	req := httptest.NewRequest(http.MethodPost, "/state/agents", body)
	rec := httptest.NewRecorder()
	s.handleAgents(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := sub.Recv(ctx)
	if !ok {
		t.Fatal("expected a broadcast event")
	}
	if e.Type != types.EventAgentStateChanged {
		t.Errorf("expected AgentStateChanged, got %v", e.Type)
	}
	if e.Payload["agent_id"] != "exec-2" {
		t.Errorf("expected agent_id=exec-2, got %v", e.Payload["agent_id"])
	}
}

func TestHandleAgentsRejectsUnsupportedMethod(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodDelete, "/state/agents", nil)
	rec := httptest.NewRecorder()
	s.handleAgents(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleStatsCountsRunningAgentsAsActive(t *testing.T) {
	s := testServer()
	s.projector.Apply(types.Event{
		Type:      types.EventWorkItemSubmitted,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"work_item_id": "wi-1"},
	})
	s.projector.Apply(types.Event{
		Type:      types.EventAgentStarted,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"agent_id": "exec-1", "status": "running"},
	})

	req := httptest.NewRequest(http.MethodGet, "/state/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	var stats stateStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalAgents != 1 {
		t.Errorf("expected total_agents=1, got %d", stats.TotalAgents)
	}
	if stats.ActiveAgents != 1 {
		t.Errorf("expected active_agents=1 for a running agent, got %d", stats.ActiveAgents)
	}
	if stats.IdleAgents != 0 {
		t.Errorf("expected idle_agents=0, got %d", stats.IdleAgents)
	}
}

func TestHandleStatsCountsNonRunningAgentsAsIdle(t *testing.T) {
	s := testServer()
	s.projector.Apply(types.Event{
		Type:      types.EventAgentStarted,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"agent_id": "exec-1", "status": "idle"},
	})

	req := httptest.NewRequest(http.MethodGet, "/state/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	var stats stateStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.ActiveAgents != 0 {
		t.Errorf("expected active_agents=0 for an idle agent, got %d", stats.ActiveAgents)
	}
	if stats.IdleAgents != 1 {
		t.Errorf("expected idle_agents=1, got %d", stats.IdleAgents)
	}
}

type fakeEscalationResolver struct {
	id, answer string
}

func (f *fakeEscalationResolver) ResolveEscalation(id, answer string) {
	f.id, f.answer = id, answer
}

func TestHandleResolveEscalationDeliversAnswer(t *testing.T) {
	s := testServer()
	resolver := &fakeEscalationResolver{}
	s.escalations = resolver

	body := strings.NewReader(`{"id":"esc-1","answer":"use option B"}`)
	req := httptest.NewRequest(http.MethodPost, "/escalations/resolve", body)
	rec := httptest.NewRecorder()
	s.handleResolveEscalation(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resolver.id != "esc-1" || resolver.answer != "use option B" {
		t.Errorf("expected resolver to receive (esc-1, use option B), got (%s, %s)", resolver.id, resolver.answer)
	}
}

func TestHandleResolveEscalationWithoutResolverReturns501(t *testing.T) {
	s := testServer()
	body := strings.NewReader(`{"id":"esc-1","answer":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/escalations/resolve", body)
	rec := httptest.NewRecorder()
	s.handleResolveEscalation(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rec.Code)
	}
}

func TestStartBindsPreferredPortAndServesHealth(t *testing.T) {
	s := testServer()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.BoundAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStartFallsBackWithinPortRangeWhenPreferredPortIsTaken(t *testing.T) {
	blocker := testServer()
	blockerCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	blocker.cfg.PortRangeSize = 1
	if err := blocker.Start(blockerCtx); err != nil {
		t.Fatalf("blocker Start failed: %v", err)
	}
	defer blocker.Shutdown(context.Background())

	taken := blocker.listener.Addr().(*net.TCPAddr).Port

	contender := testServer()
	contender.cfg.Port = taken
	contender.cfg.PortRangeSize = 3
	if err := contender.Start(blockerCtx); err != nil {
		t.Fatalf("expected contender to fall back to a free port, got error: %v", err)
	}
	defer contender.Shutdown(context.Background())

	if contender.listener.Addr().(*net.TCPAddr).Port == taken {
		t.Error("expected contender to bind a different port than the taken one")
	}
}

func TestHandleEventsStreamsSSEFrames(t *testing.T) {
	s := testServer()
	srv := httptest.NewServer(http.HandlerFunc(s.handleEvents))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer resp.Body.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.bus.Publish(types.Event{Type: types.EventSessionStarted, Payload: map[string]interface{}{"session_id": "s1"}})
	}()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read SSE frame: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Errorf("expected an SSE data line, got %q", line)
	}
}
