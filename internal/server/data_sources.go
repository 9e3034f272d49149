package server

import (
	"net/http"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/labstack/echo/v4"

	"report_render/internal/fetcher"
	"report_render/internal/models"
	"report_render/internal/service"
)

type dataSourceRequest struct {
	Name       string `json:"name"`
	DottedPath string `json:"dotted_path"`
}

func (s *Server) createDataSource(c echo.Context) error {
	var req dataSourceRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid request format"))
	}

	source := &models.DataSource{Name: req.Name, DottedPath: req.DottedPath}
	if err := s.sources.CreateDataSource(c.Request().Context(), source); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, source)
}

func (s *Server) listDataSources(c echo.Context) error {
	sources, err := s.sources.ListDataSources(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data_sources": sources,
		"count":        len(sources),
	})
}

func (s *Server) getDataSource(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	source, err := s.sources.GetDataSource(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, source)
}

func (s *Server) updateDataSource(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var params service.DataSourceUpdateParams
	if err := c.Bind(&params); err != nil {
		return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid request format"))
	}

	source, err := s.sources.UpdateDataSource(c.Request().Context(), id, params)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, source)
}

func (s *Server) deleteDataSource(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.sources.DeleteDataSource(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// getSourceData runs the data source with the query string as params
func (s *Server) getSourceData(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	data, err := s.sources.GetSourceData(c.Request().Context(), id, queryParams(c, nil))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

// queryParams converts the query string into fetcher params. Repeated keys
// become lists. Keys in skip are left out; skip may be nil.
func queryParams(c echo.Context, skip mapset.Set[string]) fetcher.Params {
	params := fetcher.Params{}
	for key, values := range c.QueryParams() {
		if len(values) == 0 || (skip != nil && skip.Contains(key)) {
			continue
		}
		if len(values) == 1 {
			params[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		params[key] = list
	}
	return params
}
