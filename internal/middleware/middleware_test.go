package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/httputil"

	"github.com/golang-jwt/jwt/v5"
)

type stubVerifier struct {
	tokens map[string]string
}

func (v *stubVerifier) VerifyToken(token string) (*models.UserClaims, error) {
	userID, ok := v.tokens[token]
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return &models.UserClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}, nil
}

func (v *stubVerifier) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(httputil.GetUserID(r)))
	})
}

func TestAuthMiddleware(t *testing.T) {
	verifier := &stubVerifier{tokens: map[string]string{"good": "user-1"}}
	h := AuthMiddleware(verifier, discardLogger())(echoUser())

	tests := []struct {
		name       string
		method     string
		target     string
		headers    map[string]string
		wantStatus int
		wantUser   string
	}{
		{"health is public", http.MethodGet, "/health", nil, http.StatusOK, ""},
		{"preflight passes", http.MethodOptions, "/api/threads", nil, http.StatusOK, ""},
		{"missing token", http.MethodGet, "/api/threads", nil, http.StatusUnauthorized, ""},
		{"wrong scheme", http.MethodGet, "/api/threads", map[string]string{"Authorization": "Basic good"}, http.StatusUnauthorized, ""},
		{"invalid token", http.MethodGet, "/api/threads", map[string]string{"Authorization": "Bearer bad"}, http.StatusUnauthorized, ""},
		{"bearer token", http.MethodGet, "/api/threads", map[string]string{"Authorization": "Bearer good"}, http.StatusOK, "user-1"},
		{"query token ignored without upgrade", http.MethodGet, "/api/threads?token=good", nil, http.StatusUnauthorized, ""},
		{"query token on upgrade", http.MethodGet, "/ws?token=good", map[string]string{"Upgrade": "websocket", "Connection": "Upgrade"}, http.StatusOK, "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != tt.wantUser {
				t.Errorf("expected user %q, got %q", tt.wantUser, rec.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized && rec.Header().Get("Content-Type") != "application/problem+json" {
				t.Errorf("expected problem+json, got %s", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var captured *statusRecorder
	h := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = w.(*statusRecorder)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == nil {
		t.Fatal("expected handler to receive the status recorder")
	}
	if captured.status != http.StatusTeapot {
		t.Errorf("expected recorded status 418, got %d", captured.status)
	}
	if captured.bytes != len("short and stout") {
		t.Errorf("expected %d bytes, got %d", len("short and stout"), captured.bytes)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418 passed through, got %d", rec.Code)
	}
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	const clientID = "3f2b8a4e-9c1d-4e5f-8a7b-6c5d4e3f2a1b"

	tests := []struct {
		name     string
		header   string
		wantKeep bool
	}{
		{"generated when missing", "", false},
		{"valid id kept", clientID, true},
		{"invalid id replaced", "not-a-uuid\r\ninjected", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = httputil.RequestID(r.Context())
				httputil.RespondError(w, http.StatusNotFound, "missing")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/threads/x", nil)
			if tt.header != "" {
				req.Header.Set(httputil.RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(httputil.RequestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("expected header %q to match context id %q", got, seen)
			}
			if tt.wantKeep && got != clientID {
				t.Errorf("expected client id kept, got %q", got)
			}
			if !tt.wantKeep && got == tt.header {
				t.Errorf("expected a generated id, got %q", got)
			}

			var problem map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
				t.Fatalf("decode problem: %v", err)
			}
			if problem["instance"] != got {
				t.Errorf("expected problem instance %q, got %v", got, problem["instance"])
			}
		})
	}
}
