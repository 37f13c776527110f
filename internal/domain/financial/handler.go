package financial

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdash/clinicdash/internal/domain/dashboard"
	"github.com/clinicdash/clinicdash/internal/platform/auth"
)

type Handler struct {
	registry *dashboard.Registry
	opts     dashboard.Options
}

func NewHandler(registry *dashboard.Registry, opts dashboard.Options) *Handler {
	return &Handler{registry: registry, opts: opts}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/dashboards/financial/:ownerId", h.Mount)

	sessions := api.Group("/sessions", auth.RequireViewer())
	sessions.GET("/:sid/financial", h.GetView)
	sessions.PUT("/:sid/financial/filters", h.SetFilters)
}

func (h *Handler) Mount(c echo.Context) error {
	ctx := c.Request().Context()
	nav := &dashboard.RedirectRecorder{}
	s, err := Mount(auth.ViewerFromContext(ctx), auth.TokenFromContext(ctx), c.Param("ownerId"), nav, h.opts)
	if err != nil {
		return c.Redirect(http.StatusSeeOther, nav.Path)
	}
	h.registry.Add(s)
	s.Start()

	if c.QueryParam("wait") == "true" {
		if err := s.Wait(ctx); err != nil {
			return echo.NewHTTPError(http.StatusRequestTimeout, "dashboard load did not settle")
		}
	}
	state, _ := s.State()
	return c.JSON(http.StatusCreated, map[string]interface{}{"session_id": s.ID(), "state": state})
}

func (h *Handler) session(c echo.Context) (*Session, error) {
	m, err := dashboard.Lookup(c, h.registry)
	if err != nil {
		return nil, err
	}
	s, ok := m.(*Session)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "not a financial session")
	}
	return s, nil
}

func (h *Handler) GetView(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) SetFilters(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var criteria Criteria
	if err := c.Bind(&criteria); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.SetCriteria(criteria)
	return c.JSON(http.StatusOK, s.View())
}
