// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the pipeline's read-only HTTP surface: status,
// dashboard, experiments, drift history, and the Prometheus scrape
// endpoint. The API never mutates pipeline state; control stays with
// the process that owns the Pipeline.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/drift"
	"github.com/AleutianAI/relearn/services/learning/experiment"
	"github.com/AleutianAI/relearn/services/learning/metrics"
	"github.com/AleutianAI/relearn/services/learning/pipeline"
	"github.com/AleutianAI/relearn/services/learning/telemetry"
)

// Server is the learning pipeline's HTTP server.
type Server struct {
	cfg      config.API
	logger   *logging.Logger
	pipeline *pipeline.Pipeline
	http     *http.Server
}

// NewServer creates the HTTP server for the given pipeline.
func NewServer(cfg config.API, logger *logging.Logger, p *pipeline.Pipeline) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{cfg: cfg, logger: logger, pipeline: p}
}

// Router builds the Gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	h := newHandlers(s.pipeline)

	router.GET("/healthz", h.handleHealth)

	v1 := router.Group("/api/v1")
	registerRoutes(v1, h)

	if handler := telemetry.MetricsHandler(); handler != nil {
		router.GET("/metrics", gin.WrapH(handler))
	}

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("api server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

// registerRoutes registers the /api/v1 endpoints. All routes are
// read-only; mutation stays with the pipeline's owner.
//
//	GET /api/v1/status      - Pipeline state
//	GET /api/v1/dashboard   - Latest KPIs, trends, and alerts
//	GET /api/v1/experiments - Experiment snapshots, newest first
//	GET /api/v1/drift       - Drift event history and feature status
func registerRoutes(rg *gin.RouterGroup, h *handlers) {
	rg.GET("/status", h.handleStatus)
	rg.GET("/dashboard", h.handleDashboard)
	rg.GET("/experiments", h.handleExperiments)
	rg.GET("/drift", h.handleDrift)
}

// DashboardResponse bundles the collector's current view for UIs.
type DashboardResponse struct {
	State   pipeline.State       `json:"state"`
	Latest  *metrics.Aggregate   `json:"latest,omitempty"`
	History []*metrics.Aggregate `json:"history"`
	Trends  map[string]string    `json:"trends"`
	Alerts  []*metrics.Alert     `json:"alerts"`
}

// ExperimentsResponse lists experiment snapshots.
type ExperimentsResponse struct {
	Experiments []*experiment.Experiment `json:"experiments"`
}

// DriftResponse carries drift history and per-feature window status.
type DriftResponse struct {
	Events   []*drift.Event        `json:"events"`
	Features []drift.FeatureStatus `json:"features"`
}

type handlers struct {
	pipeline *pipeline.Pipeline
}

func newHandlers(p *pipeline.Pipeline) *handlers {
	return &handlers{pipeline: p}
}

func (h *handlers) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !h.pipeline.Status().Running {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status})
}

func (h *handlers) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Status())
}

func (h *handlers) handleDashboard(c *gin.Context) {
	collector := h.pipeline.Collector()
	c.JSON(http.StatusOK, DashboardResponse{
		State:   h.pipeline.Status(),
		Latest:  collector.Latest(),
		History: collector.History(),
		Trends:  collector.TrendDirections(),
		Alerts:  collector.Alerts(),
	})
}

func (h *handlers) handleExperiments(c *gin.Context) {
	c.JSON(http.StatusOK, ExperimentsResponse{
		Experiments: h.pipeline.Experiments().Snapshot(),
	})
}

func (h *handlers) handleDrift(c *gin.Context) {
	detector := h.pipeline.Detector()
	c.JSON(http.StatusOK, DriftResponse{
		Events:   detector.History(),
		Features: detector.Status(),
	})
}
