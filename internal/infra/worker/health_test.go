package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decodeHealth(t *testing.T, body io.Reader) healthResponse {
	t.Helper()
	var resp healthResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHealthServer_Liveness(t *testing.T) {
	h := NewHealthServer(":0", slog.New(slog.DiscardHandler))
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got := decodeHealth(t, rec.Body).Status; got != "ok" {
		t.Errorf("expected status 'ok', got %q", got)
	}
}

func TestHealthServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checks     map[string]Check
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "not ready",
			ready:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not ready",
		},
		{
			name:       "ready without checks",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:  "ready with passing checks",
			ready: true,
			checks: map[string]Check{
				"database": func(context.Context) error { return nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"database": "ok"},
		},
		{
			name:  "failing check",
			ready: true,
			checks: map[string]Check{
				"database": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantChecks: map[string]string{"database": "ok", "redis": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthServer(":0", slog.New(slog.DiscardHandler))
			for name, c := range tt.checks {
				h.AddCheck(name, c)
			}
			h.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			resp := decodeHealth(t, rec.Body)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", resp.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
		})
	}
}

func TestHealthServer_MethodNotAllowed(t *testing.T) {
	h := NewHealthServer(":0", slog.New(slog.DiscardHandler))
	rec := httptest.NewRecorder()

	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestServe_GracefulShutdown(t *testing.T) {
	addr := freeAddr(t)
	h := NewHealthServer(addr, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v, want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()

	srv := &http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: time.Second}
	if err := Serve(context.Background(), srv, "test", slog.New(slog.DiscardHandler)); err == nil {
		t.Error("expected error for address in use")
	}
}
