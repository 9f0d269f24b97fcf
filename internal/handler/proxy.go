package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"slysearch-proxy/internal/metrics"
	"slysearch-proxy/internal/model"
	"slysearch-proxy/internal/service"
	"slysearch-proxy/internal/stream"
)

// ProxyHandler forwards engine-selection requests to the search backend.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// SelectEngines proxies the request to the backend and streams its events back.
func (h *ProxyHandler) SelectEngines(c echo.Context) error {
	req := c.Request()

	payload, err := model.ParsePayload(req.Body)
	if err != nil {
		// BodyLimit reports an oversized body through the reader.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		h.logger.Debug("rejecting request body", "err", err)
		return echo.NewHTTPError(http.StatusBadRequest, model.ErrInvalidPayload.Error()).SetInternal(err)
	}

	pr := &model.ProxyRequest{
		Ctx:     req.Context(),
		Header:  req.Header,
		Payload: payload,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		c.Response().Header()[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Status and headers are already on the wire, so a failure here can only
	// truncate the stream. It is logged and counted.
	start := time.Now()
	stats, err := stream.Relay(c.Response(), resp.Body)
	h.observeStream(stats, time.Since(start), err)

	if err != nil {
		h.logger.Warn("event stream interrupted",
			"err", err,
			"status", resp.StatusCode,
			"bytes", stats.Bytes,
			"events", stats.Events,
		)
		return nil
	}

	h.logger.Debug("event stream complete",
		"status", resp.StatusCode,
		"bytes", stats.Bytes,
		"events", stats.Events,
	)
	return nil
}

func (h *ProxyHandler) observeStream(stats stream.Stats, d time.Duration, err error) {
	if h.metrics == nil {
		return
	}
	h.metrics.StreamBytes.Add(float64(stats.Bytes))
	h.metrics.StreamEvents.Add(float64(stats.Events))
	h.metrics.StreamDuration.Observe(d.Seconds())
	if err != nil {
		h.metrics.StreamAborted.Inc()
	}
}

// mapError answers a request whose backend call produced no response at all.
// The client still receives an event stream: one "error" event.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	status, message := classifyError(err)

	res := c.Response()
	stream.SetHeaders(res.Header())
	res.WriteHeader(status)
	if werr := stream.WriteErrorEvent(res, message); werr != nil {
		h.logger.Warn("writing error event", "err", werr)
	}
	return nil
}

// classifyError maps a forwarding failure to a status code and client message.
func classifyError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "backend request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "client disconnected"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, "backend request timed out"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "backend host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return http.StatusBadGateway, "backend connection failed"
	}

	return http.StatusBadGateway, "backend request failed"
}
