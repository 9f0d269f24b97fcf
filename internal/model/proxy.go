// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an engine-selection request to be forwarded upstream.
type ProxyRequest struct {
	Ctx     context.Context
	Header  http.Header
	Payload *Payload
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
