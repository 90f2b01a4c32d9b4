package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"openrouter-rotator-go/internal/model"
	"openrouter-rotator-go/internal/relay"
	"openrouter-rotator-go/internal/service"
)

// GatewayHandler binds inbound OpenAI-compatible requests to the forwarder.
type GatewayHandler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(fwd *service.Forwarder, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		forwarder: fwd,
		logger:    logger.With("component", "gateway_handler"),
	}
}

// ChatCompletions proxies POST /v1/chat/completions. The body is buffered once
// so every retry attempt replays an identical snapshot; only the stream flag
// is decoded from it.
func (h *GatewayHandler) ChatCompletions(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body",
		})
	}

	fr := &model.ForwardRequest{
		Method: http.MethodPost,
		Path:   "/chat/completions",
		Header: req.Header,
		Body:   body,
	}

	res, err := h.forwarder.Forward(req.Context(), fr, probe.Stream)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = res.Close() }()

	return h.writeResult(c, res)
}

// Models proxies GET /v1/models through the same forwarding path. The call is
// non-streaming and low-volume; reusing the rotation mechanism keeps a single
// code path.
func (h *GatewayHandler) Models(c echo.Context) error {
	fr := &model.ForwardRequest{
		Method: http.MethodGet,
		Path:   "/models",
		Header: c.Request().Header,
	}

	res, err := h.forwarder.Forward(c.Request().Context(), fr, false)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = res.Close() }()

	return h.writeResult(c, res)
}

// writeResult copies pass-through headers and the upstream status, then either
// writes the buffered body or hands the live stream to the relay.
func (h *GatewayHandler) writeResult(c echo.Context, res *model.UpstreamResult) error {
	for key, vals := range res.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(res.StatusCode)

	if !res.Streaming() {
		_, err := c.Response().Write(res.Body)
		return err
	}

	// The status line is already on the wire; a mid-stream failure can only
	// truncate the response, never change its status. Log and end the stream.
	if _, err := relay.Copy(c.Response(), res.Stream); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

func (h *GatewayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("forward error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	var exhausted *service.ExhaustedError
	if errors.As(err, &exhausted) {
		body := map[string]any{
			"error":    "all upstream API keys are currently rate-limited",
			"attempts": exhausted.Attempts,
		}
		if len(exhausted.LastBody) > 0 {
			body["upstream"] = string(exhausted.LastBody)
		}
		return c.JSON(http.StatusTooManyRequests, body)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
