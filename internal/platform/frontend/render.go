package frontend

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/domain/patient"
	"github.com/medibridge/clinic/internal/platform/notice"
)

// Template names rendered outside the patient screens.
const (
	TemplateLogin = "login.html"
	TemplateError = "error.html"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page is what every template receives. Data is the screen's own view.
type Page struct {
	User    *identity.Identity
	Notices []notice.Notice
	CSRF    string
	Data    any
}

// Renderer executes the embedded page templates inside the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page against the layout.
func NewRenderer() (*Renderer, error) {
	layout, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("frontend: parse layout: %w", err)
	}

	names := []string{
		TemplateLogin,
		TemplateError,
		patient.TemplateList,
		patient.TemplateForm,
		patient.TemplateDetail,
	}
	r := &Renderer{pages: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		t, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("frontend: clone layout: %w", err)
		}
		if _, err := t.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("frontend: parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render implements echo.Renderer. Notices pending in the request's
// workspace are consumed here.
func (r *Renderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("frontend: unknown template %q", name)
	}
	page := Page{Data: data}
	if ws, ok := lookupWorkspace(c); ok {
		if id, ok := ws.Identity(); ok {
			page.User = &id
		}
		page.Notices = ws.TakeNotices()
	}
	if token, ok := c.Get(echomw.DefaultCSRFConfig.ContextKey).(string); ok {
		page.CSRF = token
	}
	return t.ExecuteTemplate(w, "layout", page)
}
