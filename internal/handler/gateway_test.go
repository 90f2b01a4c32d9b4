package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"openrouter-rotator-go/internal/client"
	"openrouter-rotator-go/internal/config"
	"openrouter-rotator-go/internal/keypool"
	"openrouter-rotator-go/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, upstreamURL string, keys []string) *GatewayHandler {
	t.Helper()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := testLogger()

	c, err := client.NewOpenRouterClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewOpenRouterClient: %v", err)
	}
	pool, err := keypool.New(keys)
	if err != nil {
		t.Fatalf("keypool.New: %v", err)
	}
	return NewGatewayHandler(service.NewForwarder(c, pool, logger, nil), logger)
}

func TestChatCompletions_Buffered(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"test-model"`) {
			t.Errorf("upstream body = %q, want original request body", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1"}`))
	}))
	defer upstream.Close()

	h := newTestGateway(t, upstream.URL, []string{"k0"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"test-model"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"id":"chatcmpl-1"}` {
		t.Errorf("body = %q, want passthrough", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestChatCompletions_InvalidJSON(t *testing.T) {
	h := newTestGateway(t, "http://127.0.0.1:1", []string{"k0"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	chunks := "data: {\"delta\":\"A\"}\n\ndata: {\"delta\":\"B\"}\n\ndata: [DONE]\n\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(chunks))
	}))
	defer upstream.Close()

	h := newTestGateway(t, upstream.URL, []string{"k0"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m","stream":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if rec.Body.String() != chunks {
		t.Errorf("body = %q, want relayed SSE payload", rec.Body.String())
	}
	if !rec.Flushed {
		t.Error("expected the recorder to be flushed during streaming")
	}
}

func TestChatCompletions_PoolExhausted(t *testing.T) {
	hits := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer upstream.Close()

	h := newTestGateway(t, upstream.URL, []string{"k0", "k1"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if hits != 2 {
		t.Errorf("upstream hits = %d, want 2 (one per key)", hits)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["attempts"] != float64(2) {
		t.Errorf("attempts = %v, want 2", body["attempts"])
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message")
	}
}

func TestChatCompletions_UpstreamErrorPassthrough(t *testing.T) {
	hits := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream blew up"}`))
	}))
	defer upstream.Close()

	h := newTestGateway(t, upstream.URL, []string{"k0", "k1", "k2"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d (verbatim passthrough)", rec.Code, http.StatusBadGateway)
	}
	if rec.Body.String() != `{"error":"upstream blew up"}` {
		t.Errorf("body = %q, want verbatim upstream body", rec.Body.String())
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d, want 1 (no retry on non-429)", hits)
	}
}

func TestModels_Passthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/models" {
			t.Errorf("path = %q, want /models", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer upstream.Close()

	h := newTestGateway(t, upstream.URL, []string{"k0"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Models(c); err != nil {
		t.Fatalf("Models() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"data":[]}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"data":[]}`)
	}
}

func TestGateway_mapError_DNSError(t *testing.T) {
	h := &GatewayHandler{logger: testLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	dnsErr := &net.DNSError{Err: "no such host", Name: "openrouter.ai"}
	wrapped := fmt.Errorf("attempt 1/3: %w", dnsErr)

	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "upstream host unreachable" {
		t.Errorf("error = %q, want %q", body["error"], "upstream host unreachable")
	}
}

func TestGateway_mapError_URLError(t *testing.T) {
	h := &GatewayHandler{logger: testLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	urlErr := &url.Error{Op: "Post", URL: "https://openrouter.ai/api/v1/chat/completions", Err: fmt.Errorf("connection refused")}
	wrapped := fmt.Errorf("attempt 1/3: %w", urlErr)

	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "upstream connection failed" {
		t.Errorf("error = %q, want %q", body["error"], "upstream connection failed")
	}
}
