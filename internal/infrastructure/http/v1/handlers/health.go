package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Version is reported by /health/info.
var Version = "dev"

const probeTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthHandler struct {
	driver string
	checks []HealthCheck
	stats  func() map[string]any
}

// NewHealthHandler wires the probes of the storage driver. stats may be nil.
func NewHealthHandler(driver string, checks []HealthCheck, stats func() map[string]any) *HealthHandler {
	return &HealthHandler{driver: driver, checks: checks, stats: stats}
}

// Live answers as long as the process serves requests.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready runs every probe concurrently and fails if any of them does.
func (h *HealthHandler) Ready(c *gin.Context) {
	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.checks))
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	for _, check := range h.checks {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			err := check.Ping(pctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[check.Name] = "unhealthy: " + err.Error()
				return err
			}
			results[check.Name] = "healthy"
			return nil
		})
	}

	status, code := "ok", http.StatusOK
	if err := g.Wait(); err != nil {
		status, code = "error", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": results})
}

func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{"app": "stockledger", "version": Version, "driver": h.driver}
	if h.stats != nil {
		body["database"] = h.stats()
	}
	c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	health := r.Group("/health")
	health.GET("/live", h.Live)
	health.GET("/ready", h.Ready)
	health.GET("/info", h.Info)
}
