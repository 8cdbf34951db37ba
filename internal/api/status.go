package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"smlgpt/internal/gateway"
)

const (
	version            = "2.0.0"
	healthCheckTimeout = 3 * time.Second

	statusHealthy       = "healthy"
	statusUnhealthy     = "unhealthy"
	statusNotConfigured = "not_configured"
)

// ErrNotConfigured is returned by a HealthChecker whose dependency is not set up.
var ErrNotConfigured = errors.New("not configured")

// HealthChecker checks one dependency for /api/status.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type funcCheck struct {
	name  string
	check func(ctx context.Context) error
}

func (p funcCheck) Name() string { return p.name }

func (p funcCheck) Check(ctx context.Context) error {
	if p.check == nil {
		return ErrNotConfigured
	}
	return p.check(ctx)
}

// CheckFunc builds a HealthChecker from a func. A nil check reports not_configured.
func CheckFunc(name string, check func(ctx context.Context) error) HealthChecker {
	return funcCheck{name: name, check: check}
}

// CapabilityCheck reports a gateway client by configuration only; providers
// are not called from health checks.
func CapabilityCheck(c gateway.Capability) HealthChecker {
	return funcCheck{name: c.Name(), check: func(context.Context) error {
		if !c.Configured() {
			return ErrNotConfigured
		}
		return nil
	}}
}

// statusKeys maps checker names onto the /api/status flags.
var statusKeys = map[string]string{
	gateway.ServiceComputerVision: "vision",
	gateway.ServiceSpeech:         "speech",
	gateway.ServiceDocuments:      "documents",
	gateway.ServiceVision:         "openai",
	gateway.ServiceSearch:         "search",
	"storage":                     "storage",
	"redis":                       "redis",
	"queue":                       "queue",
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// runChecks checks every dependency concurrently, each under its own timeout.
func (h *Handler) runChecks(ctx context.Context) []checkResult {
	results := make([]checkResult, len(h.deps.Checks))
	var wg sync.WaitGroup
	for i, chk := range h.deps.Checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			res := checkResult{Name: chk.Name(), Status: statusHealthy}
			switch err := chk.Check(cctx); {
			case errors.Is(err, ErrNotConfigured):
				res.Status = statusNotConfigured
			case err != nil:
				res.Status = statusUnhealthy
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()
	return results
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    statusHealthy,
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
		"version":   version,
	})
}

func (h *Handler) status(c *gin.Context) {
	data := gin.H{"backend": true}
	for _, key := range statusKeys {
		data[key] = false
	}
	for _, res := range h.runChecks(c.Request.Context()) {
		if key, ok := statusKeys[res.Name]; ok {
			data[key] = res.Status == statusHealthy
		}
	}
	data["timestamp"] = h.now().UTC().Format(time.RFC3339Nano)
	respond(c, data)
}

func (h *Handler) statusHealth(c *gin.Context) {
	results := h.runChecks(c.Request.Context())
	overall := statusHealthy
	for _, res := range results {
		if res.Status == statusUnhealthy {
			overall = "degraded"
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"status":       overall,
		"dependencies": results,
		"timestamp":    h.now().UTC().Format(time.RFC3339Nano),
	})
}
