// Package server assembles the HTTP API of the sandbox.
package server

import (
	"net/http"
	"time"

	commonmw "runcell/internal/common/http/middleware"
	"runcell/internal/server/controller"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds HTTP server settings.
type Config struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// NewRouter registers the API routes. gatherer may be nil to omit /metrics.
func NewRouter(runController *controller.RunController, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLogMiddleware())

	api := router.Group("/api/v1")
	api.POST("/run", runController.Run)
	api.DELETE("/runs/:id", runController.Kill)
	api.GET("/status", runController.Status)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

// NewHTTPServer wraps handler with the configured timeouts.
func NewHTTPServer(cfg Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
