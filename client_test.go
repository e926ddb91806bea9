package sightline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sightline-hq/sightline/internal/model"
)

// mockServer creates an httptest server that mimics the Sightline API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		OrgID:   uuid.New(),
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{OrgID: uuid.New(), APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing BaseURL")
	}
	if _, err := NewClient(Config{BaseURL: "http://x", APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing OrgID")
	}
	if _, err := NewClient(Config{BaseURL: "http://x", OrgID: uuid.New()}); err == nil {
		t.Fatal("expected error for missing APIKey")
	}
}

func TestClientAttachesBearerToken(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/apps": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": []model.App{{ID: uuid.New(), Name: "Fixture"}}})
		},
	})

	c := newTestClient(t, srv.URL)
	apps, err := c.ListApps(context.Background())
	if err != nil {
		t.Fatalf("ListApps failed: %v", err)
	}
	if len(apps) != 1 || apps[0].Name != "Fixture" {
		t.Fatalf("unexpected apps: %+v", apps)
	}
}

func TestClientCachesToken(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /v1/templates": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []model.QueryTemplate{}})
		},
	})

	c := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.ListTemplates(context.Background()); err != nil {
			t.Fatalf("ListTemplates failed: %v", err)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Fatalf("expected 1 auth call, got %d", got)
	}
}

func TestStartRunConflictError(t *testing.T) {
	runID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs/{run_id}/start": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "CONFLICT", "message": "run already has an active pass"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	err := c.StartRun(context.Background(), runID, nil)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !IsConflict(err) {
		t.Fatalf("expected IsConflict, got %v", err)
	}
	if IsNotFound(err) {
		t.Fatal("IsNotFound should be false for a 409")
	}
}

func TestProgressRoundTrip(t *testing.T) {
	runID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/{run_id}/progress": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("run_id") != runID.String() {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error": map[string]any{"code": "NOT_FOUND", "message": "resource not found"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": model.ProgressResponse{
					RunID:     runID,
					Status:    model.RunStatusRunning,
					Running:   true,
					Current:   3,
					Total:     10,
					Completed: 2,
					Failed:    1,
					Log:       []string{"12:00:03 query ok: best todo app"},
				},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	progress, err := c.Progress(context.Background(), runID)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if !progress.Running || progress.Current != 3 || progress.Total != 10 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	_, err = c.Progress(context.Background(), uuid.New())
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound, got %v", err)
	}
}

func TestListQueriesStatusParam(t *testing.T) {
	runID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/{run_id}/queries": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("status"); got != "error" {
				t.Errorf("expected status=error, got %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": []model.AuditQuery{{ID: uuid.New(), Text: "bad"}}})
		},
	})

	c := newTestClient(t, srv.URL)
	queries, err := c.ListQueries(context.Background(), runID, model.QueryStatusError)
	if err != nil {
		t.Fatalf("ListQueries failed: %v", err)
	}
	if len(queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(queries))
	}
}

func TestAuthFailureSurfaces(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid credentials"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	if _, err := c.ListApps(context.Background()); err == nil {
		t.Fatal("expected auth failure to propagate")
	}
}

func TestHealthNoToken(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "ok", Version: "test"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health: %+v", health)
	}
	if authCalls.Load() != 0 {
		t.Fatal("health check must not trigger token exchange")
	}
}
