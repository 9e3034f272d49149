package server

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/labstack/echo/v4"

	"report_render/internal/engine"
	"report_render/internal/fetcher"
	"report_render/internal/models"
	"report_render/internal/service"
)

type createReportRequest struct {
	Name          string      `json:"name"`
	EngineChoice  string      `json:"engine"`
	DefaultData   models.JSON `json:"default_data"`
	DataSourceID  *uint       `json:"data_source_id"`
	Active        *bool       `json:"active"`
	CacheRequired *bool       `json:"cache_required"`
}

type renderRequest struct {
	DPI     int            `json:"dpi"`
	Format  string         `json:"format"`
	Params  fetcher.Params `json:"params"`
	NoCache bool           `json:"no_cache"`
}

func (s *Server) createReport(c echo.Context) error {
	var req createReportRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid request format"))
	}

	report := models.NewReport(req.Name, req.EngineChoice, "")
	report.DataSourceID = req.DataSourceID
	if req.DefaultData != nil {
		report.DefaultData = req.DefaultData
	}
	if req.Active != nil {
		report.Active = *req.Active
	}
	if req.CacheRequired != nil {
		report.CacheRequired = *req.CacheRequired
	}

	if err := s.reports.CreateReport(c.Request().Context(), report); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, report)
}

func (s *Server) listReports(c echo.Context) error {
	params := service.ListReportParams{Search: c.QueryParam("search")}

	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid active filter"))
		}
		params.Active = &active
	}
	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid page"))
		}
		params.Page = page
	}
	if v := c.QueryParam("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid page_size"))
		}
		params.PageSize = size
	}

	list, err := s.reports.ListReports(c.Request().Context(), params)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	report, err := s.reports.GetReport(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) updateReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var params service.ReportUpdateParams
	if err := c.Bind(&params); err != nil {
		return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid request format"))
	}

	report, err := s.reports.UpdateReport(c.Request().Context(), id, params)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) deleteReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.reports.DeleteReport(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// uploadTemplate accepts the template as multipart field "file"
func (s *Server) uploadTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}

	header, err := c.FormFile("file")
	if err != nil {
		return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Multipart field \"file\" is required"))
	}
	file, err := header.Open()
	if err != nil {
		return s.fail(c, err)
	}
	defer file.Close()

	report, err := s.reports.UploadTemplate(c.Request().Context(), id, header.Filename, file)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) downloadTemplate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}

	rc, filename, err := s.reports.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	defer rc.Close()

	contentType := engine.ContentType(strings.TrimPrefix(path.Ext(filename), "."))
	c.Response().Header().Set(echo.HeaderContentDisposition, disposition(filename))
	return c.Stream(http.StatusOK, contentType, rc)
}

// renderReport renders with options from a JSON body
func (s *Server) renderReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid request format"))
	}

	return s.render(c, id, service.RenderParams{
		DPI:     req.DPI,
		Format:  req.Format,
		Params:  req.Params,
		NoCache: req.NoCache,
	})
}

// renderOptions are query keys consumed by the render endpoint itself.
var renderOptions = mapset.NewSet("dpi", "format", "no_cache")

// renderReportQuery renders with options and params from the query string
func (s *Server) renderReportQuery(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.fail(c, err)
	}

	params := service.RenderParams{
		Format: c.QueryParam("format"),
		Params: queryParams(c, renderOptions),
	}
	if v := c.QueryParam("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil {
			return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid dpi"))
		}
		params.DPI = dpi
	}
	if v := c.QueryParam("no_cache"); v != "" {
		noCache, err := strconv.ParseBool(v)
		if err != nil {
			return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "Invalid no_cache"))
		}
		params.NoCache = noCache
	}

	return s.render(c, id, params)
}

func (s *Server) render(c echo.Context, id uint, params service.RenderParams) error {
	result, err := s.reports.RenderReport(c.Request().Context(), id, params)
	if err != nil {
		return s.fail(c, err)
	}

	cache := "miss"
	if result.Cached {
		cache = "hit"
	}
	h := c.Response().Header()
	h.Set("X-Render-Cache", cache)
	h.Set(echo.HeaderContentDisposition, disposition(result.Filename))
	return c.Blob(http.StatusOK, result.ContentType, result.Data)
}

func disposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return fmt.Sprintf("attachment; filename=%q", filename)
}
