package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"report_render/internal/config"
	"report_render/internal/engine"
	"report_render/internal/service"
)

// Server represents the HTTP server
type Server struct {
	echo    *echo.Echo
	sources service.DataSourceService
	reports service.ReportService
	logger  *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, sources service.DataSourceService, reports service.ReportService, logger *logrus.Logger) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency,
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request handled")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:    e,
		sources: sources,
		reports: reports,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

// Start starts the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)

	// API routes
	api := s.echo.Group("/api/v1")
	{
		api.GET("/engines", s.listEngines)
		api.GET("/fetchers", s.listFetchers)

		sources := api.Group("/data-sources")
		{
			sources.POST("", s.createDataSource)
			sources.GET("", s.listDataSources)
			sources.GET("/:id", s.getDataSource)
			sources.PUT("/:id", s.updateDataSource)
			sources.DELETE("/:id", s.deleteDataSource)
			sources.GET("/:id/data", s.getSourceData)
		}

		reports := api.Group("/reports")
		{
			reports.POST("", s.createReport)
			reports.GET("", s.listReports)
			reports.GET("/:id", s.getReport)
			reports.PUT("/:id", s.updateReport)
			reports.DELETE("/:id", s.deleteReport)
			reports.POST("/:id/file", s.uploadTemplate)
			reports.GET("/:id/file", s.downloadTemplate)
			reports.POST("/:id/render", s.renderReport)
			reports.GET("/:id/render", s.renderReportQuery)
		}
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "report-render",
	})
}

type engineInfo struct {
	Name    string   `json:"name"`
	Formats []string `json:"formats"`
}

// listEngines returns the recognized engine choices and their output formats
func (s *Server) listEngines(c echo.Context) error {
	var out []engineInfo
	for _, choice := range engine.Choices() {
		e, err := engine.New(choice)
		if err != nil {
			return s.fail(c, err)
		}
		out = append(out, engineInfo{Name: e.Name(), Formats: e.Formats()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"engines": out})
}

// listFetchers returns the registered data source paths
func (s *Server) listFetchers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"fetchers": s.sources.ListFetchers()})
}

// parseID reads the :id path parameter
func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid ID")
	}
	return uint(id), nil
}
