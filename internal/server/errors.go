package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"report_render/internal/fetcher"
	"report_render/internal/service"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		httpErr      *echo.HTTPError
		resolution   *fetcher.ResolutionError
		construction *fetcher.ConstructionError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &resolution), errors.As(err, &construction):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Internal errors are logged and
// their text is not exposed.
func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("Request failed")
		if status == http.StatusInternalServerError {
			msg = "Internal server error"
		}
	}
	return c.JSON(status, map[string]string{"error": msg})
}
