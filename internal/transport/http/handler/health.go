package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Dependency is one thing /healthz checks. Optional dependencies are
// reported but never fail the check.
type Dependency struct {
	Name     string
	Optional bool
	Check    func(ctx context.Context) error
}

type HealthHandler struct {
	appName   string
	env       string
	startedAt time.Time
	deps      []Dependency
	details   func(ctx context.Context) gin.H
}

type dependencyStatus struct {
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
}

func NewHealthHandler(appName, env string, startedAt time.Time, deps []Dependency, details func(ctx context.Context) gin.H) *HealthHandler {
	return &HealthHandler{
		appName:   appName,
		env:       env,
		startedAt: startedAt,
		deps:      deps,
		details:   details,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	allOK := true
	statuses := make(gin.H, len(h.deps))
	for _, d := range h.deps {
		st := dependencyStatus{OK: true, Optional: d.Optional}
		if err := d.Check(ctx); err != nil {
			st = dependencyStatus{OK: false, Optional: d.Optional, Message: err.Error()}
			if !d.Optional {
				allOK = false
			}
		}
		statuses[d.Name] = st
	}

	statusCode, status := http.StatusOK, "ok"
	if !allOK {
		statusCode, status = http.StatusServiceUnavailable, "unavailable"
	}

	body := gin.H{
		"status":       status,
		"app":          h.appName,
		"env":          h.env,
		"uptime_sec":   int(time.Since(h.startedAt).Seconds()),
		"dependencies": statuses,
	}
	if h.details != nil {
		for k, v := range h.details(ctx) {
			body[k] = v
		}
	}
	c.JSON(statusCode, body)
}
