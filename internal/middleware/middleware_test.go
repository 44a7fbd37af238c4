package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/chat-demo/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, scopes ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(method, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAuth(t *testing.T) {
	var gotSubject string
	handler := Auth(testSecret)(RequireScope(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = GetSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), ScopeAdmin), http.StatusUnauthorized},
		{"missing scope", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "demo:read"), http.StatusForbidden},
		{"admin", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), ScopeAdmin), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if gotSubject != "operator-1" {
		t.Errorf("expected subject in context, got %q", gotSubject)
	}
}

func TestAuth_RejectsNoneAlgorithm(t *testing.T) {
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	token := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, ScopeAdmin)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestLogging_CorrelationID(t *testing.T) {
	var fromCtx string
	var flushable bool
	handler := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetCorrelationID(r.Context())
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("expected correlation header abc-123, got %q", got)
	}
	if fromCtx != "abc-123" {
		t.Errorf("expected correlation id in context, got %q", fromCtx)
	}
	if !flushable {
		t.Error("expected wrapped writer to implement http.Flusher")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected generated correlation id")
	}
}

func TestLogging_RecordsAuthenticatedSubject(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	handler := Logging(log)(Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), ScopeAdmin))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["subject"]; got != "operator-1" {
		t.Errorf("expected logged subject operator-1, got %v", got)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes[i] = rec.Code
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Errorf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil)
	req.RemoteAddr = "198.51.100.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected other client to pass, got %d", rec.Code)
	}
}

func TestValidation(t *testing.T) {
	if err := ValidateSessionID("0190a5c4-6f1e-7c3a-9b2d-3e4f5a6b7c8d"); err != nil {
		t.Errorf("expected valid session id, got %v", err)
	}
	if err := ValidateSessionID("../etc"); err == nil {
		t.Error("expected invalid session id")
	}
	if err := ValidateScriptID("dental-booking"); err != nil {
		t.Errorf("expected valid script id, got %v", err)
	}
	if err := ValidateScriptID("Dental Booking"); err == nil {
		t.Error("expected invalid script id")
	}
}
