// Package api exposes the sync pass as an authenticated HTTP endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"emails-sync/internal/logging"
	"emails-sync/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Runner runs one synchronization pass
type Runner interface {
	RunSyncPass(ctx context.Context) (*models.SyncPassResult, error)
}

// Handler serves the sync trigger
type Handler struct {
	runner      Runner
	auth        *Authorizer
	label       string
	passTimeout time.Duration
}

func NewHandler(runner Runner, auth *Authorizer, label string, passTimeout time.Duration) *Handler {
	return &Handler{
		runner:      runner,
		auth:        auth,
		label:       label,
		passTimeout: passTimeout,
	}
}

// Router builds the gin engine: POST /sync (and POST /) behind the bearer check, GET /healthz open
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authorized := r.Group("/")
	authorized.Use(h.authMiddleware())
	authorized.POST("/", h.sync)
	authorized.POST("/sync", h.sync)

	return r
}

func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.auth.Verify(c.GetHeader("Authorization")); err != nil {
			logging.Log.WithField("remote", c.ClientIP()).Warnf("Rejected sync request: %v", err)
			status, resp := NewResponse(h.label, nil, err)
			c.AbortWithStatusJSON(status, resp)
			return
		}
		c.Next()
	}
}

func (h *Handler) sync(c *gin.Context) {
	ctx := c.Request.Context()
	if h.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.passTimeout)
		defer cancel()
	}

	result, err := h.runner.RunSyncPass(ctx)
	status, resp := NewResponse(h.label, result, err)
	if err != nil {
		logging.Log.WithError(err).WithField("status", status).Error("Sync pass failed")
	}
	c.JSON(status, resp)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("HTTP request")
	}
}
