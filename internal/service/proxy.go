// Package service implements the engine-selection forwarding logic.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"slysearch-proxy/internal/client"
	"slysearch-proxy/internal/config"
	"slysearch-proxy/internal/model"
	"slysearch-proxy/internal/stream"
)

// EngineSelectPath is the backend route that selects search engines for a query.
const EngineSelectPath = "/api/v1/engines/select"

// ErrBackendNotConfigured is returned when the proxy is built without a backend URL.
var ErrBackendNotConfigured = errors.New("search backend URL is not configured")

// unrelayableResponseHeaders describe the backend connection rather than the
// payload and cannot be passed on to the client.
var unrelayableResponseHeaders = []string{
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder sends a request to the backend and returns its streamed response.
type Forwarder interface {
	DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error)
}

// ProxyService handles the forwarding logic for engine-selection requests.
type ProxyService struct {
	client    Forwarder
	logger    *slog.Logger
	selectURL string
}

// NewProxyService creates a ProxyService bound to the configured backend.
func NewProxyService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	return newProxyService(c, cfg.Backend.BaseURL, logger)
}

func newProxyService(f Forwarder, baseURL string, logger *slog.Logger) (*ProxyService, error) {
	if baseURL == "" {
		return nil, ErrBackendNotConfigured
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend base_url %q must be absolute", baseURL)
	}

	return &ProxyService{
		client:    f,
		logger:    logger.With("component", "proxy_service"),
		selectURL: u.JoinPath(EngineSelectPath).String(),
	}, nil
}

// SelectURL returns the backend URL engine-selection requests are sent to.
func (s *ProxyService) SelectURL() string {
	return s.selectURL
}

// Forward re-encodes the payload, sends it to the backend with the inbound
// headers and returns the backend response with event-stream headers applied.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	body, err := pr.Payload.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	query, _ := pr.Payload.Query()
	s.logger.Debug("forwarding engine selection",
		"query_len", len(query),
		"fields", pr.Payload.Len(),
	)

	resp, err := s.client.DoStream(pr.Ctx, http.MethodPost, s.selectURL, pr.Header.Clone(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}

	resp.Header = s.eventStreamHeaders(resp.Header)
	return resp, nil
}

// eventStreamHeaders copies the backend headers, drops connection-level ones
// and applies the forced event-stream headers.
func (s *ProxyService) eventStreamHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, key := range unrelayableResponseHeaders {
		dst.Del(key)
	}
	stream.SetHeaders(dst)
	return dst
}
