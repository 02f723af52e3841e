package oracle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockOracle создаёт mock HTTP-сервер оракула отзыва.
func setupMockOracle(t *testing.T, handler http.HandlerFunc) *RevocationClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewRevocationClient(server.URL+"/", "", time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewRevocationClient: %v", err)
	}
	return c
}

func TestIsRevoked(t *testing.T) {
	c := setupMockOracle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/revocation" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		holder := r.URL.Query().Get("holder")
		issuer := r.URL.Query().Get("issuer")
		w.Header().Set("Content-Type", "application/json")
		if holder == "did:example:mallory" && issuer == "IssuerA" {
			_, _ = w.Write([]byte(`{"revoked":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"revoked":false}`))
	})

	tests := []struct {
		holder string
		want   bool
	}{
		{"did:example:alice", false},
		{"did:example:mallory", true},
	}
	for _, tt := range tests {
		got, err := c.IsRevoked(context.Background(), tt.holder, "IssuerA")
		if err != nil {
			t.Fatalf("IsRevoked(%s): %v", tt.holder, err)
		}
		if got != tt.want {
			t.Errorf("IsRevoked(%s) = %v, ожидали %v", tt.holder, got, tt.want)
		}
	}
}

func TestIsRevoked_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"статус 500", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"статус 404", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"нет поля revoked", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}},
		{"не JSON", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`revoked`))
		}},
		{"таймаут", func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(2 * time.Second)
			_, _ = w.Write([]byte(`{"revoked":false}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupMockOracle(t, tt.handler)
			revoked, err := c.IsRevoked(context.Background(), "alice", "IssuerA")
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if revoked {
				t.Error("при ошибке revoked должен быть false, решение принимает вызывающий")
			}
		})
	}
}

func TestIsRevoked_Malformed(t *testing.T) {
	c := setupMockOracle(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	_, err := c.IsRevoked(context.Background(), "alice", "IssuerA")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("ожидали ErrMalformedResponse, получили %v", err)
	}
}

func TestIsRevoked_Unreachable(t *testing.T) {
	c, _ := NewRevocationClient("http://127.0.0.1:1", "", 500*time.Millisecond, testLogger())
	if _, err := c.IsRevoked(context.Background(), "alice", "IssuerA"); err == nil {
		t.Error("ожидалась ошибка для недоступного оракула")
	}
}

func TestNewRevocationClient_BadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	_ = os.WriteFile(path, []byte("not a certificate"), 0o600)

	if _, err := NewRevocationClient("https://oracle", path, time.Second, testLogger()); err == nil {
		t.Error("ожидалась ошибка для некорректного CA")
	}
	if _, err := NewRevocationClient("https://oracle", filepath.Join(t.TempDir(), "missing.pem"), time.Second, testLogger()); err == nil {
		t.Error("ожидалась ошибка для отсутствующего CA")
	}
}
