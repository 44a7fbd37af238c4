package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/chat-demo/internal/llm"
	"github.com/capitalize-ai/chat-demo/internal/middleware"
	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/internal/service"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
)

const testSecret = "handler-test-secret"

type testServer struct {
	t      *testing.T
	demos  *service.DemoService
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	catalog, err := script.NewCatalog(model.Script{
		ID:    "greeting",
		Title: "Greeting",
		Events: []model.ScriptEvent{
			model.LeadMessage("hi"),
			model.AIReply("Hello! How can I help?"),
		},
	})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	log := logger.NewNop()
	demos := service.NewDemoService(catalog, service.NopEventLog{}, log)
	t.Cleanup(demos.Close)

	return &testServer{
		t:     t,
		demos: demos,
		router: NewRouter(RouterConfig{
			Demos:             demos,
			Catalog:           catalog,
			Generator:         service.NewScriptGenerator(nil, catalog, log),
			Logger:            log,
			JWTSecret:         testSecret,
			AllowedOrigins:    []string{"https://*.example.com"},
			RateLimitRequests: 1000,
			RateLimitWindow:   time.Minute,
			Heartbeat:         time.Second,
		}),
	}
}

func (s *testServer) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createDemo(req model.CreateDemoRequest) model.Session {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/demos", req, nil)
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("create demo: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess model.Session
	decode(s.t, rec, &sess)
	return sess
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func adminHeader(t *testing.T, scopes ...string) http.Header {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return http.Header{"Authorization": []string{"Bearer " + signed}}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/ready", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready without NATS required, got %d", rec.Code)
	}
}

func TestReady_NATSRequired(t *testing.T) {
	h := NewHealthHandler(nil, true)
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestScripts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/scripts", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list model.ListScriptsResponse
	decode(t, rec, &list)
	if list.Total != 1 || list.Scripts[0].ID != "greeting" || list.Scripts[0].EventCount != 2 {
		t.Errorf("unexpected script list %+v", list)
	}

	rec = s.do(http.MethodGet, "/api/v1/scripts/greeting", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sc model.Script
	decode(t, rec, &sc)
	if len(sc.Events) != 2 || sc.Events[0].Kind != model.KindLeadMessage {
		t.Errorf("unexpected script %+v", sc)
	}

	if rec := s.do(http.MethodGet, "/api/v1/scripts/missing", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/scripts/Not_Valid", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDemoLifecycle(t *testing.T) {
	s := newTestServer(t)
	sess := s.createDemo(model.CreateDemoRequest{ScriptID: "greeting"})

	if sess.Mode != model.ModeLoop || sess.Active {
		t.Errorf("unexpected new session %+v", sess)
	}
	path := "/api/v1/demos/" + sess.ID

	rec := s.do(http.MethodPost, path+"/start", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rec.Code)
	}
	var started model.Session
	decode(t, rec, &started)
	if !started.Active || !started.Snapshot.Running {
		t.Errorf("expected running session, got %+v", started)
	}

	rec = s.do(http.MethodPost, path+"/stop", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	var stopped model.Session
	decode(t, rec, &stopped)
	if stopped.Active || stopped.Snapshot.Running || len(stopped.Snapshot.Transcript) != 0 {
		t.Errorf("expected idle session, got %+v", stopped)
	}

	if rec := s.do(http.MethodGet, path, nil, nil); rec.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", rec.Code)
	}
	if rec := s.do(http.MethodDelete, path, nil, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, path, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestCreateDemo_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"not json", "plain", http.StatusBadRequest},
		{"no script", model.CreateDemoRequest{}, http.StatusBadRequest},
		{"unknown script", model.CreateDemoRequest{ScriptID: "missing"}, http.StatusNotFound},
		{"bad mode", model.CreateDemoRequest{ScriptID: "greeting", Mode: "random"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/demos", tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDemo_InvalidID(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(http.MethodGet, "/api/v1/demos/not-a-uuid", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/v1/demos/0190a5c4-6f1e-7c3a-9b2d-3e4f5a6b7c8d/start", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	s := newTestServer(t)
	sess := s.createDemo(model.CreateDemoRequest{ScriptID: "greeting"})
	path := "/api/v1/demos/" + sess.ID + "/history"

	rec := s.do(http.MethodGet, path+"?after_sequence=4&limit=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp model.HistoryResponse
	decode(t, rec, &resp)
	if len(resp.Records) != 0 || resp.LastSequence != 4 || resp.HasMore {
		t.Errorf("unexpected history %+v", resp)
	}

	if rec := s.do(http.MethodGet, path+"?after_sequence=abc", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad sequence, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, path+"?limit=0", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	s.createDemo(model.CreateDemoRequest{ScriptID: "greeting"})

	if rec := s.do(http.MethodGet, "/api/v1/admin/demos", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/admin/demos", nil, adminHeader(t, "demo:read")); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without admin scope, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/v1/admin/demos", nil, adminHeader(t, middleware.ScopeAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list model.ListSessionsResponse
	decode(t, rec, &list)
	if list.Total != 1 {
		t.Errorf("expected one session, got %d", list.Total)
	}

	rec = s.do(http.MethodPost, "/api/v1/admin/scripts/generate",
		model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"},
		adminHeader(t, middleware.ScopeAdmin))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without LLM provider, got %d", rec.Code)
	}
}

type stubLLM struct {
	content string
}

func (s stubLLM) Name() string { return "stub" }

func (s stubLLM) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: s.content}, nil
}

func TestGenerateScript_RejectedOutput(t *testing.T) {
	catalog, err := script.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	log := logger.NewNop()
	demos := service.NewDemoService(catalog, service.NopEventLog{}, log)
	t.Cleanup(demos.Close)

	router := NewRouter(RouterConfig{
		Demos:             demos,
		Catalog:           catalog,
		Generator:         service.NewScriptGenerator(stubLLM{content: "I cannot help with that."}, catalog, log),
		Logger:            log,
		JWTSecret:         testSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	})
	s := &testServer{t: t, demos: demos, router: router}

	rec := s.do(http.MethodPost, "/api/v1/admin/scripts/generate",
		model.GenerateScriptRequest{ID: "bakery", Business: "a bakery"},
		adminHeader(t, middleware.ScopeAdmin))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for unusable model output, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := catalog.Get("bakery"); ok {
		t.Error("rejected script was added to the catalog")
	}
}

func TestStream_SSE(t *testing.T) {
	s := newTestServer(t)
	sess := s.createDemo(model.CreateDemoRequest{ScriptID: "greeting"})

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/demos/" + sess.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		t.Helper()
		select {
		case name, ok := <-events:
			if !ok {
				t.Fatal("stream ended early")
			}
			return name
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
		return ""
	}

	if got := next(); got != "connected" {
		t.Fatalf("expected connected event, got %s", got)
	}
	if got := next(); got != "snapshot" {
		t.Fatalf("expected initial snapshot, got %s", got)
	}

	if rec := s.do(http.MethodDelete, "/api/v1/demos/"+sess.ID, nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}

	for {
		got := next()
		if got == "error" {
			break
		}
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected stream to end after session_closed")
		}
	case <-time.After(5 * time.Second):
		t.Error("stream did not end after session was deleted")
	}
}

func TestStream_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/demos/0190a5c4-6f1e-7c3a-9b2d-3e4f5a6b7c8d/stream", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestWebSocket(t *testing.T) {
	s := newTestServer(t)
	sess := s.createDemo(model.CreateDemoRequest{ScriptID: "greeting"})

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/demos/" + sess.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://shop.example.com"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connected" || msg.SessionID != sess.ID {
		t.Fatalf("expected connected frame, got %+v (%v)", msg, err)
	}

	if err := conn.WriteJSON(WSCommand{Action: "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	for {
		msg = WSMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == "snapshot" && msg.Snapshot.Running {
			break
		}
	}

	if err := conn.WriteJSON(WSCommand{Action: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		msg = WSMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == "error" {
			if msg.Error.Code != "command_failed" {
				t.Errorf("unexpected error frame %+v", msg.Error)
			}
			break
		}
	}
}

func TestWebSocket_RejectsOrigin(t *testing.T) {
	s := newTestServer(t)
	sess := s.createDemo(model.CreateDemoRequest{ScriptID: "greeting"})

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/demos/" + sess.ID + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.test"}})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func TestOriginAllowed(t *testing.T) {
	patterns := []string{"https://*.example.com", "http://localhost:3000"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://shop.example.com", true},
		{"HTTPS://Shop.Example.com", true},
		{"http://localhost:3000", true},
		{"https://example.org", false},
		{"http://shop.example.com", false},
	}

	for _, tt := range tests {
		if got := originAllowed(tt.origin, patterns); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
