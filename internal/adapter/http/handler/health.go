package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"crypto-payment-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 3 * time.Second

type depStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthCheck handles GET /health. Every dependency is pinged in parallel.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		var (
			mu         sync.Mutex
			deps       = make(map[string]depStatus, len(checkers))
			allHealthy = true
		)

		var g errgroup.Group
		for _, checker := range checkers {
			g.Go(func() error {
				err := checker.Ping(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
					allHealthy = false
					return nil
				}
				deps[checker.Name()] = depStatus{Status: "healthy"}
				return nil
			})
		}
		_ = g.Wait()

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
