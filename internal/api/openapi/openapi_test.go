package openapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, path := range []string{
		"/api/v1/documents",
		"/api/v1/documents/{id}/access",
		"/api/v1/documents/{id}/grants",
		"/api/v1/signing-keys/me",
		"/api/v1/keys/rotate",
	} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("в контракте нет пути %s", path)
		}
	}
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "openapi: 3.0.3") {
		t.Errorf("неожиданное тело: %.40s", rec.Body.String())
	}
}

func TestValidator(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := NewValidator(doc, testLogger())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	reached := false
	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "корректный запрос доступа",
			method:     http.MethodPost,
			path:       "/api/v1/documents/0190f1c2-7a3b-7c4d-8e5f-0123456789ab/access",
			body:       `{"ephemeral_public_key":"AAAA","signature":"AAAA","timestamp":"2026-03-01T12:00:00Z","nonce":"n1"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "нет nonce",
			method:     http.MethodPost,
			path:       "/api/v1/documents/0190f1c2-7a3b-7c4d-8e5f-0123456789ab/access",
			body:       `{"ephemeral_public_key":"AAAA","signature":"AAAA","timestamp":"2026-03-01T12:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "пустой список допуска",
			method:     http.MethodPost,
			path:       "/api/v1/documents",
			body:       `{"classification_level":"PUBLIC","releasable_to_issuers":[],"content":"eA=="}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "limit не число",
			method:     http.MethodGet,
			path:       "/api/v1/documents?limit=abc",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "путь вне контракта",
			method:     http.MethodGet,
			path:       "/unknown",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			var body io.Reader = http.NoBody
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("ожидался %d, получен %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK && !reached {
				t.Error("запрос не дошёл до обработчика")
			}
			if tt.wantStatus != http.StatusOK && reached {
				t.Error("некорректный запрос дошёл до обработчика")
			}
		})
	}
}
