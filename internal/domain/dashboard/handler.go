package dashboard

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdash/clinicdash/internal/platform/auth"
	"github.com/clinicdash/clinicdash/pkg/pagination"
)

// Renderer is implemented by sessions that can render their full view.
type Renderer interface {
	Render() interface{}
}

func (s *Session) Render() interface{} { return s.View() }

// RedirectRecorder is the Navigator used by HTTP handlers: it remembers the
// target so the handler can answer with 303 See Other.
type RedirectRecorder struct {
	Path string
}

func (r *RedirectRecorder) Redirect(path string) { r.Path = path }

type Handler struct {
	registry *Registry
	opts     Options
	onLogout func(token string)
}

func NewHandler(registry *Registry, opts Options) *Handler {
	return &Handler{registry: registry, opts: opts}
}

// OnLogout registers fn to receive the viewer's token after logout has
// closed their sessions.
func (h *Handler) OnLogout(fn func(token string)) { h.onLogout = fn }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Mount runs its own guard so anonymous viewers are redirected, not refused.
	api.POST("/dashboards/professional/:ownerId", h.MountProfessional)

	sessions := api.Group("/sessions", auth.RequireViewer())
	sessions.GET("/:sid", h.GetView)
	sessions.DELETE("/:sid", h.Unmount)
	sessions.DELETE("/:sid/errors/:section", h.DismissError)

	sessions.GET("/:sid/patients", h.ListPatients)
	sessions.GET("/:sid/assistants", h.ListAssistants)
	sessions.GET("/:sid/appointments/today", h.TodayAppointments)
	sessions.GET("/:sid/progress", h.GetProgress)

	sessions.PUT("/:sid/filters", h.SetFilters)
	sessions.PUT("/:sid/selected-patient", h.SelectPatient)
	sessions.DELETE("/:sid/selected-patient", h.ClearSelection)

	sessions.PUT("/:sid/forms/:form", h.SetForm)
	sessions.POST("/:sid/forms/:form/submit", h.SubmitForm)
	sessions.POST("/:sid/patients/:id/toggle-status", h.TogglePatientStatus)
	sessions.POST("/:sid/assistants/:id/toggle-status", h.ToggleAssistantStatus)

	api.POST("/auth/logout", h.Logout, auth.RequireViewer())
}

type mountResponse struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
}

func (h *Handler) MountProfessional(c echo.Context) error {
	ctx := c.Request().Context()
	nav := &RedirectRecorder{}
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
	return c.JSON(http.StatusCreated, mountResponse{SessionID: s.ID(), State: state})
}

// Lookup returns the viewer's session sid. Sessions of other viewers are
// reported as missing.
func Lookup(c echo.Context, registry *Registry) (Mounted, error) {
	viewer := auth.ViewerFromContext(c.Request().Context())
	m, ok := registry.Get(c.Param("sid"))
	if !ok || viewer == nil || m.ViewerID() != viewer.ID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return m, nil
}

func (h *Handler) session(c echo.Context) (*Session, error) {
	m, err := Lookup(c, h.registry)
	if err != nil {
		return nil, err
	}
	s, ok := m.(*Session)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return s, nil
}

func (h *Handler) GetView(c echo.Context) error {
	m, err := Lookup(c, h.registry)
	if err != nil {
		return err
	}
	r, ok := m.(Renderer)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session has no view")
	}
	return c.JSON(http.StatusOK, r.Render())
}

func (h *Handler) Unmount(c echo.Context) error {
	if _, err := Lookup(c, h.registry); err != nil {
		return err
	}
	h.registry.Remove(c.Param("sid"))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DismissError(c echo.Context) error {
	m, err := Lookup(c, h.registry)
	if err != nil {
		return err
	}
	d, ok := m.(interface{ DismissError(section string) })
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session has no errors")
	}
	d.DismissError(c.Param("section"))
	return c.NoContent(http.StatusNoContent)
}

// -- Projections --

func (h *Handler) ListPatients(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	v := s.View()
	return c.JSON(http.StatusOK, pagination.Page(v.FilteredPatients, pagination.FromContext(c)))
}

func (h *Handler) ListAssistants(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	v := s.View()
	return c.JSON(http.StatusOK, pagination.Page(v.FilteredAssistants, pagination.FromContext(c)))
}

func (h *Handler) TodayAppointments(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View().TodayAppointments)
}

func (h *Handler) GetProgress(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Store().Snapshot().Progress)
}

// -- Session state --

func (h *Handler) SetFilters(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var criteria FilterCriteria
	if err := c.Bind(&criteria); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.SetCriteria(criteria)
	return c.JSON(http.StatusOK, s.View())
}

type selectRequest struct {
	PatientID string `json:"patient_id"`
}

func (h *Handler) SelectPatient(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if err := s.SelectPatient(req.PatientID); err != nil {
		var f *Failure
		if errors.As(err, &f) && f.Status == http.StatusNotFound {
			return echo.NewHTTPError(http.StatusNotFound, f.Message)
		}
		// A notes failure is a section error, the selection itself stands.
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) ClearSelection(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	s.ClearSelection()
	return c.NoContent(http.StatusNoContent)
}

// -- Forms and mutations --

func (h *Handler) SetForm(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	forms := s.Store().Forms()
	var apply func(f *Forms)
	switch c.Param("form") {
	case FormPatient:
		err = c.Bind(&forms.Patient)
		apply = func(f *Forms) { f.Patient = forms.Patient }
	case FormAppointment:
		err = c.Bind(&forms.Appointment)
		apply = func(f *Forms) { f.Appointment = forms.Appointment }
	case FormAssistant:
		err = c.Bind(&forms.Assistant)
		apply = func(f *Forms) { f.Assistant = forms.Assistant }
	case FormNote:
		err = c.Bind(&forms.Note)
		apply = func(f *Forms) { f.Note = forms.Note }
	case FormEditPatient:
		err = c.Bind(&forms.EditPatient)
		apply = func(f *Forms) { f.EditPatient = forms.EditPatient }
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown form")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.Store().UpdateForms(apply)
	return c.NoContent(http.StatusNoContent)
}

type submitResponse struct {
	Data interface{} `json:"data"`
	View View        `json:"view"`
}

type failureResponse struct {
	Message string `json:"message"`
	Form    Forms  `json:"forms"`
}

// mutationError answers a failed write with its message and the retained
// form buffers.
func mutationError(c echo.Context, s *Session, err error) error {
	f := Normalize(MutationFailure, "", err)
	status := http.StatusUnprocessableEntity
	if f.Status == http.StatusNotFound {
		status = http.StatusNotFound
	}
	forms := s.Store().Forms()
	forms.Assistant.Password = ""
	return c.JSON(status, failureResponse{Message: f.Message, Form: forms})
}

func (h *Handler) SubmitForm(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	ctx := s.Context()
	syn := s.Sync()

	var data interface{}
	switch c.Param("form") {
	case FormPatient:
		data, err = syn.CreatePatient(ctx)
	case FormAppointment:
		data, err = syn.CreateAppointment(ctx)
	case FormAssistant:
		data, err = syn.AddAssistant(ctx)
	case FormNote:
		data, err = syn.AddNote(ctx)
	case FormEditPatient:
		data, err = syn.UpdatePatient(ctx)
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown form")
	}
	if err != nil {
		return mutationError(c, s, err)
	}
	return c.JSON(http.StatusCreated, submitResponse{Data: data, View: s.View()})
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *Handler) TogglePatientStatus(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	next, err := s.Sync().TogglePatientStatus(s.Context(), c.Param("id"))
	if err != nil {
		return mutationError(c, s, err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: next})
}

func (h *Handler) ToggleAssistantStatus(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	next, err := s.Sync().ToggleAssistantStatus(s.Context(), c.Param("id"))
	if err != nil {
		return mutationError(c, s, err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: next})
}

type logoutResponse struct {
	Closed int `json:"closed"`
}

// Logout closes every dashboard session of the viewer.
func (h *Handler) Logout(c echo.Context) error {
	viewer := auth.ViewerFromContext(c.Request().Context())
	n := h.registry.CloseOwnedBy(viewer.ID)
	if h.onLogout != nil {
		h.onLogout(auth.TokenFromContext(c.Request().Context()))
	}
	return c.JSON(http.StatusOK, logoutResponse{Closed: n})
}
