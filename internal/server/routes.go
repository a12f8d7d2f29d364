package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const requestTimeout = 10 * time.Second

type MappingRequest struct {
	Bindings map[string]string `json:"bindings"`
}

type ListenerRequest struct {
	Port   int `json:"port"`
	UnitId int `json:"unit_id"`
}

type ValidationRequest struct {
	Enabled *bool `json:"enabled"`
}

type StaticValueRequest struct {
	Value string `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)
	e.PUT("/config/mapping", s.MappingHandler)
	e.PUT("/config/listener", s.ListenerHandler)
	e.PUT("/config/validation", s.ValidationHandler)
	if s.static != nil {
		e.PUT("/values/:name", s.StaticValueHandler)
	}
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetStatusRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	resp, ok := res.(domain.GetStatusResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	return c.JSON(http.StatusOK, resp.Status)
}

func (s *Server) MappingHandler(c echo.Context) error {
	var req MappingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	names := make([]string, 0, len(req.Bindings))
	for name := range req.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	bindings := make([]domain.ValueBinding, 0, len(names))
	for _, name := range names {
		bindings = append(bindings, domain.ValueBinding{Name: name, Reference: req.Bindings[name]})
	}
	return s.reconfigure(c, domain.ApplyMappingRequest{Bindings: bindings})
}

func (s *Server) ListenerHandler(c echo.Context) error {
	var req ListenerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if req.UnitId < 0 || req.UnitId > 255 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: service.ErrInvalidUnitId.Error()})
	}
	return s.reconfigure(c, domain.ApplyListenerRequest{Port: req.Port, UnitId: uint8(req.UnitId)})
}

func (s *Server) ValidationHandler(c echo.Context) error {
	var req ValidationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if req.Enabled == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "enabled is required"})
	}
	return s.reconfigure(c, domain.SetValidationRequest{Enabled: *req.Enabled})
}

func (s *Server) StaticValueHandler(c echo.Context) error {
	var req StaticValueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	s.static.Set(c.Param("name"), req.Value)
	return c.NoContent(http.StatusNoContent)
}

// reconfigure forwards a request to the master actor and answers with the resulting status.
func (s *Server) reconfigure(c echo.Context, req domain.ActorRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, req, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	resp, ok := res.(domain.ActorResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if resp.HasResponseError() {
		return c.JSON(statusForError(resp.GetResponseError()), errorResponse{Error: resp.GetResponseError().Error()})
	}
	return s.StatusHandler(c)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPort),
		errors.Is(err, service.ErrInvalidUnitId),
		errors.Is(err, service.ErrInvalidBinding):
		return http.StatusBadRequest
	}
	return http.StatusConflict
}
