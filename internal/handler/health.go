package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"slysearch-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg       *config.Config
	version   Version
	logger    *slog.Logger
	client    *http.Client
	probeURL  string
	probeWait time.Duration
}

// NewHealthHandler creates a HealthHandler. cfg must come from config.Load,
// which guarantees a trimmed, non-empty backend URL.
func NewHealthHandler(cfg *config.Config, v Version, logger *slog.Logger) *HealthHandler {
	wait := time.Duration(cfg.Health.TimeoutSeconds) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	return &HealthHandler{
		cfg:       cfg,
		version:   v,
		logger:    logger.With("component", "health_handler"),
		client:    &http.Client{Timeout: wait},
		probeURL:  cfg.Backend.BaseURL + cfg.Health.Path,
		probeWait: wait,
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     string(h.version),
		"backend_url": h.cfg.Backend.BaseURL,
	})
}

// Backend probes the search backend. It always answers 200 and reports
// "degraded" when the backend is unreachable or unhealthy.
func (h *HealthHandler) Backend(c echo.Context) error {
	backend := h.probe(c.Request().Context())

	status := "ok"
	if backend != "ok" {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  status,
		"backend": backend,
	})
}

// probe returns "ok", "unreachable" or "status <code>".
func (h *HealthHandler) probe(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, h.probeWait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.probeURL, http.NoBody)
	if err != nil {
		h.logger.Warn("building backend health request", "err", err)
		return "unreachable"
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("backend health probe failed", "err", err)
		return "unreachable"
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return "ok"
}
