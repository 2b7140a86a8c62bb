// Package http serves the diagnostics and control API of the running sessions.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/orch"
	"github.com/dkeye/meet/internal/app/peers"
	"github.com/dkeye/meet/internal/config"
	"github.com/dkeye/meet/internal/domain"
)

const requestTimeout = 5 * time.Second

type handlers struct {
	reg *app.Registry
}

func SetupRouter(cfg *config.Config, reg *app.Registry, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{reg: reg}
	limiter := NewRateLimiter(20, time.Second)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"sessions": reg.Len()}) })
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/sessions", h.list)
	api.GET("/sessions/:id", h.diagnostics)

	ctl := api.Group("/sessions/:id", limiter.Middleware())
	ctl.POST("/pin", h.pin)
	ctl.POST("/media/:kind", h.toggleMedia)
	ctl.DELETE("", h.leave)

	log.Info().Str("module", "http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func (h *handlers) session(c *gin.Context) (app.SessionHandle, bool) {
	s, ok := h.reg.Get(app.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
	}
	return s, ok
}

func (h *handlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.reg.List()})
}

func (h *handlers) diagnostics(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	d, err := s.Diagnostics(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handlers) pin(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		PeerID domain.PeerID `json:"peerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	if err := s.Pin(ctx, req.PeerID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) toggleMedia(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	kind := domain.MediaKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be audio or video"})
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing enabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	if err := s.SetLocalEnabled(ctx, kind, *req.Enabled); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) leave(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	if err := s.Leave(ctx); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, peers.ErrUnknownPeer), errors.Is(err, orch.ErrNoLocalTrack):
		status = http.StatusNotFound
	case errors.Is(err, orch.ErrSessionEnded):
		status = http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
