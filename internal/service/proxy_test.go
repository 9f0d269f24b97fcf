package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slysearch-proxy/internal/client"
	"slysearch-proxy/internal/config"
	"slysearch-proxy/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustPayload(t *testing.T, body string) *model.Payload {
	t.Helper()
	p, err := model.ParsePayload(strings.NewReader(body))
	require.NoError(t, err, "ParsePayload(%q)", body)
	return p
}

// stubForwarder records the outbound call and returns a canned response or error.
type stubForwarder struct {
	method string
	url    string
	header http.Header
	body   string

	resp *model.ProxyResponse
	err  error
}

func (f *stubForwarder) DoStream(_ context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	f.method = method
	f.url = url
	f.header = header
	if body != nil {
		b, _ := io.ReadAll(body)
		f.body = string(b)
	}
	return f.resp, f.err
}

func TestNewProxyService_RequiresBackendURL(t *testing.T) {
	_, err := NewProxyService(nil, &config.Config{}, discardLogger())
	assert.ErrorIs(t, err, ErrBackendNotConfigured)
}

func TestNewProxyService_RejectsRelativeURL(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendConfig{BaseURL: "backend:8080"}}
	_, err := NewProxyService(nil, cfg, discardLogger())
	assert.Error(t, err)
}

func TestNewProxyService_SelectURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{"bare host", "http://backend:8080", "http://backend:8080/api/v1/engines/select"},
		{"trailing slash", "http://backend:8080/", "http://backend:8080/api/v1/engines/select"},
		{"path prefix", "https://search.example.com/sly", "https://search.example.com/sly/api/v1/engines/select"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Backend: config.BackendConfig{BaseURL: tt.base}}
			svc, err := NewProxyService(nil, cfg, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, svc.SelectURL())
		})
	}
}

func TestForward_SendsPostWithHeadersAndBody(t *testing.T) {
	stub := &stubForwarder{resp: &model.ProxyResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}}
	svc, err := newProxyService(stub, "http://backend:8080", discardLogger())
	require.NoError(t, err)

	inbound := http.Header{
		"Content-Type":        {"application/json"},
		"Authorization":       {"Bearer token"},
		"Proxy-Authorization": {"Basic abc"},
		"X-Custom-Header":     {"one", "two"},
		"Accept-Language":     {"en-US"},
	}
	pr := &model.ProxyRequest{
		Ctx:     context.Background(),
		Header:  inbound,
		Payload: mustPayload(t, `{ "query" : "rust ownership", "extra": {"a": [1, 2]} }`),
	}

	resp, err := svc.Forward(pr)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.MethodPost, stub.method)
	assert.Equal(t, "http://backend:8080/api/v1/engines/select", stub.url)
	assert.Equal(t, `{"query":"rust ownership","extra":{"a":[1,2]}}`, stub.body)
	assert.Equal(t, inbound, stub.header)

	// The outbound header set must not alias the inbound one.
	stub.header.Set("X-Mutated", "1")
	assert.Empty(t, inbound.Get("X-Mutated"), "outbound headers alias the inbound request headers")
}

func TestForward_ForcesEventStreamHeaders(t *testing.T) {
	stub := &stubForwarder{resp: &model.ProxyResponse{
		StatusCode: http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type":      {"application/json"},
			"Cache-Control":     {"max-age=300"},
			"Connection":        {"close"},
			"X-Accel-Buffering": {"yes"},
			"Transfer-Encoding": {"chunked"},
			"Keep-Alive":        {"timeout=5"},
			"Set-Cookie":        {"session=abc"},
			"X-Request-Id":      {"req-1"},
		},
		Body: io.NopCloser(strings.NewReader(`{"message":"unavailable"}`)),
	}}
	svc, err := newProxyService(stub, "http://backend:8080", discardLogger())
	require.NoError(t, err)

	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:     context.Background(),
		Header:  http.Header{},
		Payload: mustPayload(t, `{"query":"x"}`),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	tests := []struct {
		key  string
		want string
	}{
		{"Content-Type", "text/event-stream"},
		{"Cache-Control", "no-cache"},
		{"Connection", "keep-alive"},
		{"X-Accel-Buffering", "no"},
		{"Set-Cookie", "session=abc"},
		{"X-Request-Id", "req-1"},
		{"Transfer-Encoding", ""},
		{"Keep-Alive", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, resp.Header.Get(tt.key))
		})
	}
	assert.Len(t, resp.Header.Values("Cache-Control"), 1)
}

func TestForward_NilUpstreamHeader(t *testing.T) {
	stub := &stubForwarder{resp: &model.ProxyResponse{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
	}}
	svc, err := newProxyService(stub, "http://backend:8080", discardLogger())
	require.NoError(t, err)

	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:     context.Background(),
		Payload: mustPayload(t, `{"query":"x"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
}

func TestForward_UpstreamError(t *testing.T) {
	boom := errors.New("connection refused")
	stub := &stubForwarder{err: boom}
	svc, err := newProxyService(stub, "http://backend:8080", discardLogger())
	require.NoError(t, err)

	_, err = svc.Forward(&model.ProxyRequest{
		Ctx:     context.Background(),
		Header:  http.Header{},
		Payload: mustPayload(t, `{"query":"x"}`),
	})
	assert.ErrorIs(t, err, boom)
}

func TestForward_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EngineSelectPath, r.URL.Path)
		assert.Equal(t, "sly-web", r.Header.Get("X-Client"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"query":"rust ownership"}`, string(body))

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Backend: config.BackendConfig{
			BaseURL:         upstream.URL,
			IdleConnections: 10,
		},
	}
	logger := discardLogger()
	svc, err := NewProxyService(client.NewBackendClient(cfg, logger, nil), cfg, logger)
	require.NoError(t, err)

	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:     context.Background(),
		Header:  http.Header{"Content-Type": {"application/json"}, "X-Client": {"sly-web"}},
		Payload: mustPayload(t, `{"query":"rust ownership"}`),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(body))
}
