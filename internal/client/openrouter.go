// Package client provides the upstream HTTP client for the OpenRouter API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"openrouter-rotator-go/internal/config"
	"openrouter-rotator-go/internal/metrics"
	"openrouter-rotator-go/internal/model"
)

// forwardableRequestHeaders are the only request headers forwarded upstream.
// The inbound Authorization header is never among them: the rotated key
// replaces it.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"Content-Type",
	"Content-Length",
}

// forwardableResponseHeaders are the only response headers forwarded to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"X-Request-Id":     true,
}

const userAgent = "openrouter-rotator-go/1.0"

// OpenRouterClient sends requests to the upstream OpenRouter API with a
// caller-supplied API key injected per dispatch.
type OpenRouterClient struct {
	httpClient *http.Client
	cfg        *config.Config
	baseURL    *url.URL
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOpenRouterClient creates an OpenRouterClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewOpenRouterClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*OpenRouterClient, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Transparent decompression buffers; streamed bodies must pass
		// through byte-for-byte.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &OpenRouterClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		cfg:     cfg,
		baseURL: u,
		logger:  logger.With("component", "openrouter_client"),
		metrics: m,
	}, nil
}

// Dispatch sends one attempt for the given ForwardRequest using the given API
// key. In streaming mode the result carries an open body stream when the
// status is 200; any other status (and every non-streaming dispatch) is fully
// buffered before returning, so rate-limit classification always happens
// before a single byte reaches the client. The provided context controls the
// lifetime of the upstream call: when it is canceled (client disconnect), the
// upstream request is canceled too.
func (c *OpenRouterClient) Dispatch(ctx context.Context, fr *model.ForwardRequest, key string, streaming bool) (*model.UpstreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, fr.Method, c.buildUpstreamURL(fr.Path), bytes.NewReader(fr.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = c.buildRequestHeaders(fr.Header, key)

	c.logger.Debug("upstream request",
		"method", fr.Method,
		"path", fr.Path,
		"streaming", streaming,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(fr.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	result := &model.UpstreamResult{
		StatusCode: resp.StatusCode,
		Header:     filterResponseHeaders(resp.Header),
	}

	if streaming && resp.StatusCode == http.StatusOK {
		// Body ownership transfers to the streaming relay.
		result.Stream = resp.Body
		return result, nil
	}

	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	result.Body = body
	return result, nil
}

// buildUpstreamURL joins the configured base URL with the request path.
// fr.Path is relative to the inbound /v1 prefix; the base URL already ends
// in the upstream's version segment (e.g. /api/v1).
func (c *OpenRouterClient) buildUpstreamURL(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// buildRequestHeaders assembles the outbound header set: allowlisted inbound
// headers, the rotated key as the bearer, and the identification headers
// OpenRouter recommends.
func (c *OpenRouterClient) buildRequestHeaders(src http.Header, key string) http.Header {
	dst := make(http.Header)
	for _, k := range forwardableRequestHeaders {
		if vals := src.Values(k); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(k)] = vals
		}
	}
	dst.Set("Authorization", "Bearer "+key)
	dst.Set("HTTP-Referer", c.cfg.OpenRouter.SiteURL)
	dst.Set("X-Title", c.cfg.OpenRouter.AppName)
	dst.Set("User-Agent", userAgent)
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}
