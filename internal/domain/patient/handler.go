package patient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/platform/apiclient"
	"github.com/medibridge/clinic/internal/platform/navigation"
	"github.com/medibridge/clinic/internal/platform/notice"
	"github.com/medibridge/clinic/pkg/pagination"
)

// Success messages shown after mutations.
const (
	MsgCreated      = "Patient added successfully!"
	MsgUpdated      = "Patient updated successfully!"
	MsgDeleted      = "Patient deleted successfully"
	MsgNotesUpdated = "Clinical notes updated successfully!"
	MsgInvalidID    = "Invalid patient ID"
)

// Template names rendered by the screens.
const (
	TemplateList   = "patient_list.html"
	TemplateForm   = "patient_form.html"
	TemplateDetail = "patient_detail.html"
)

// Env is the per-request client instance the screens work against.
type Env interface {
	Patients() *Service
	Identity() (identity.Identity, bool)
	Notices() *notice.Collector
	Navigation() *navigation.Listener
}

// EnvFunc resolves the Env of the current request.
type EnvFunc func(c echo.Context) Env

// ProtectFunc builds the gate middleware for a set of roles.
type ProtectFunc func(roles ...identity.Role) echo.MiddlewareFunc

// ListView is the data of the listing screen.
type ListView struct {
	Role     identity.Role
	Listing  *Listing
	Search   string
	Pages    []int
	Today    time.Time
	CanWrite bool
}

// FormView is the data of the create and edit screens.
type FormView struct {
	Title       string
	Action      string
	Editing     bool
	ID          uint
	Values      Demographics
	Errors      map[string]string
	Genders     []string
	BloodGroups []string
}

// DetailView is the data of the doctor's record screen.
type DetailView struct {
	Patient *Patient
	Age     int
	Notes   ClinicalNotes
}

type Handler struct {
	env EnvFunc
}

func NewHandler(env EnvFunc) *Handler {
	return &Handler{env: env}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, protect ProtectFunc) {
	rec := e.Group("/receptionist/patients", protect(identity.RoleReceptionist))
	rec.GET("", h.ListReceptionist)
	rec.GET("/new", h.NewForm)
	rec.POST("", h.Create)
	rec.GET("/:id/edit", h.EditForm)
	rec.POST("/:id", h.Update)
	rec.POST("/:id/delete", h.Delete)

	doc := e.Group("/doctor/patients", protect(identity.RoleDoctor))
	doc.GET("", h.ListDoctor)
	doc.GET("/:id", h.Show)
	doc.POST("/:id/notes", h.UpdateNotes)
}

// -- Listing --

func (h *Handler) ListReceptionist(c echo.Context) error {
	return h.list(c, identity.RoleReceptionist)
}

func (h *Handler) ListDoctor(c echo.Context) error {
	return h.list(c, identity.RoleDoctor)
}

func (h *Handler) list(c echo.Context, role identity.Role) error {
	env := h.env(c)
	p := pagination.FromContext(c)
	p.Limit = pagination.DefaultLimit

	listing, err := env.Patients().List(c.Request().Context(), role, p)
	if err != nil {
		if r, ok := env.Navigation().Take(); ok {
			return c.Redirect(http.StatusSeeOther, r.Location)
		}
		listing = &Listing{Items: []Patient{}, Page: p.Page, Limit: p.Limit}
	}
	return c.Render(http.StatusOK, TemplateList, ListView{
		Role:     role,
		Listing:  listing,
		Search:   p.Search,
		Pages:    pageNumbers(listing.TotalPages),
		Today:    time.Now(),
		CanWrite: role == identity.RoleReceptionist,
	})
}

func pageNumbers(total int) []int {
	pages := make([]int, 0, total)
	for i := 1; i <= total; i++ {
		pages = append(pages, i)
	}
	return pages
}

// -- Receptionist forms --

func newFormView() FormView {
	return FormView{
		Title:       "Add New Patient",
		Action:      "/receptionist/patients",
		Genders:     Genders,
		BloodGroups: BloodGroups,
	}
}

func editFormView(id uint, values Demographics) FormView {
	v := newFormView()
	v.Title = "Edit Patient"
	v.Action = fmt.Sprintf("/receptionist/patients/%d", id)
	v.Editing = true
	v.ID = id
	v.Values = values
	return v
}

func (h *Handler) NewForm(c echo.Context) error {
	return c.Render(http.StatusOK, TemplateForm, newFormView())
}

func (h *Handler) Create(c echo.Context) error {
	env := h.env(c)
	var in NewPatient
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if _, err := env.Patients().Create(c.Request().Context(), in); err != nil {
		view := newFormView()
		view.Values = Demographics(in)
		return h.formFailure(c, env, err, view)
	}
	env.Notices().Success(MsgCreated)
	return c.Redirect(http.StatusSeeOther, identity.ReceptionistHome)
}

func (h *Handler) EditForm(c echo.Context) error {
	env := h.env(c)
	id, ok := parseID(c)
	if !ok {
		env.Notices().Error(MsgInvalidID)
		return c.Redirect(http.StatusSeeOther, identity.ReceptionistHome)
	}
	p, err := env.Patients().Get(c.Request().Context(), identity.RoleReceptionist, id)
	if err != nil {
		return h.redirectAfter(c, env, identity.ReceptionistHome)
	}
	return c.Render(http.StatusOK, TemplateForm, editFormView(id, p.Demographics()))
}

func (h *Handler) Update(c echo.Context) error {
	env := h.env(c)
	id, ok := parseID(c)
	if !ok {
		env.Notices().Error(MsgInvalidID)
		return c.Redirect(http.StatusSeeOther, identity.ReceptionistHome)
	}
	var d Demographics
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if _, err := env.Patients().UpdateDemographics(c.Request().Context(), id, d); err != nil {
		return h.formFailure(c, env, err, editFormView(id, d))
	}
	env.Notices().Success(MsgUpdated)
	return c.Redirect(http.StatusSeeOther, identity.ReceptionistHome)
}

func (h *Handler) Delete(c echo.Context) error {
	env := h.env(c)
	id, ok := parseID(c)
	if !ok {
		env.Notices().Error(MsgInvalidID)
		return c.Redirect(http.StatusSeeOther, identity.ReceptionistHome)
	}
	if err := env.Patients().Delete(c.Request().Context(), id); err != nil {
		return h.redirectAfter(c, env, identity.ReceptionistHome)
	}
	env.Notices().Success(MsgDeleted)
	return c.Redirect(http.StatusSeeOther, identity.ReceptionistHome)
}

// -- Doctor screens --

func (h *Handler) Show(c echo.Context) error {
	env := h.env(c)
	id, ok := parseID(c)
	if !ok {
		env.Notices().Error(MsgInvalidID)
		return c.Redirect(http.StatusSeeOther, identity.DoctorHome)
	}
	p, err := env.Patients().Get(c.Request().Context(), identity.RoleDoctor, id)
	if err != nil {
		return h.redirectAfter(c, env, identity.DoctorHome)
	}
	return c.Render(http.StatusOK, TemplateDetail, DetailView{
		Patient: p,
		Age:     p.DateOfBirth.Age(time.Now()),
		Notes:   ClinicalNotes{Diagnosis: p.Diagnosis, Notes: p.Notes},
	})
}

func (h *Handler) UpdateNotes(c echo.Context) error {
	env := h.env(c)
	id, ok := parseID(c)
	if !ok {
		env.Notices().Error(MsgInvalidID)
		return c.Redirect(http.StatusSeeOther, identity.DoctorHome)
	}
	var n ClinicalNotes
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	back := fmt.Sprintf("%s/%d", identity.DoctorHome, id)
	if _, err := env.Patients().UpdateClinicalNotes(c.Request().Context(), id, n); err != nil {
		return h.redirectAfter(c, env, back)
	}
	env.Notices().Success(MsgNotesUpdated)
	return c.Redirect(http.StatusSeeOther, back)
}

// -- helpers --

func parseID(c echo.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// redirectAfter follows a pending navigation from the transport events, or
// goes to fallback. The failure notice was already published by the client.
func (h *Handler) redirectAfter(c echo.Context, env Env, fallback string) error {
	if r, ok := env.Navigation().Take(); ok {
		return c.Redirect(http.StatusSeeOther, r.Location)
	}
	return c.Redirect(http.StatusSeeOther, fallback)
}

// formFailure re-renders a form after a failed submit, unless the session or
// access was lost.
func (h *Handler) formFailure(c echo.Context, env Env, err error, view FormView) error {
	if r, ok := env.Navigation().Take(); ok {
		return c.Redirect(http.StatusSeeOther, r.Location)
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		view.Errors = verr.Fields
		return c.Render(http.StatusUnprocessableEntity, TemplateForm, view)
	}
	status := http.StatusBadGateway
	if errors.Is(err, apiclient.ErrValidation) {
		status = http.StatusUnprocessableEntity
	}
	return c.Render(status, TemplateForm, view)
}
