package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedrelay/internal/resilience/faults"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIURL: srv.URL, Token: "123:abc", Timeout: 2 * time.Second, RatePerSecond: 1000, Burst: 10})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestClient_Send_OK(t *testing.T) {
	var got sendMessageRequest
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	err := c.Send(context.Background(), 42, "Title\nhttps://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, int64(42), got.ChatID)
	assert.Equal(t, "Title\nhttps://example.com/a", got.Text)
}

func TestClient_Send_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		body       string
		wantKind   faults.Kind
		wantCode   int
		wantRetry  time.Duration
		wantSubstr string
	}{
		{
			name:       "rate limited with body hint",
			status:     http.StatusTooManyRequests,
			header:     map[string]string{"Retry-After": "99"},
			body:       `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`,
			wantKind:   faults.RateLimited,
			wantCode:   429,
			wantRetry:  7 * time.Second,
			wantSubstr: "Too Many Requests",
		},
		{
			name:      "rate limited with header only",
			status:    http.StatusTooManyRequests,
			header:    map[string]string{"Retry-After": "3"},
			body:      `{"ok":false}`,
			wantKind:  faults.RateLimited,
			wantCode:  429,
			wantRetry: 3 * time.Second,
		},
		{
			name:       "chat not found",
			status:     http.StatusBadRequest,
			body:       `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			wantKind:   faults.ClientError,
			wantCode:   400,
			wantSubstr: "chat not found",
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantKind: faults.ServerError,
			wantCode: 502,
		},
		{
			name:     "ok false in 200",
			status:   http.StatusOK,
			body:     `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			wantKind: faults.ClientError,
			wantCode: 403,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := c.Send(context.Background(), 1, "hi")
			require.Error(t, err)

			var te *faults.TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.wantKind, te.Kind)
			assert.Equal(t, tt.wantCode, te.Code)
			assert.Equal(t, tt.wantRetry, te.RetryAfter)
			if tt.wantSubstr != "" {
				assert.Contains(t, err.Error(), tt.wantSubstr)
			}
		})
	}
}

func TestClient_Send_ConnectionRefusedHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{APIURL: url, Token: "secret-token"})
	require.NoError(t, err)

	err = c.Send(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.Equal(t, faults.ConnectionRefused, faults.Classify(err))
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestClient_Send_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, 1, "hi")
	require.Error(t, err)
	assert.Equal(t, faults.Timeout, faults.Classify(err))
}

func TestClient_Send_RespectsRate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIURL: srv.URL, Token: "t", RatePerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), 1, "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Send(ctx, 1, "second")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"multibyte", "ééééé", 4, "é..."},
		{"tiny max", "hello", 2, "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.max))
		})
	}
}

func TestClient_Send_TruncatesLongText(t *testing.T) {
	var got sendMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, c.Send(context.Background(), 1, strings.Repeat("x", MaxMessageLength+100)))
	assert.Len(t, got.Text, MaxMessageLength)
	assert.True(t, strings.HasSuffix(got.Text, truncationSuffix))
}
