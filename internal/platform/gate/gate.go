// Package gate decides whether a protected screen may be shown to the current
// session, and where to send the user otherwise.
package gate

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medibridge/clinic/internal/domain/identity"
)

// LoginPath is the public login screen.
const LoginPath = "/login"

// View is the read-only session information the gate needs. session.Store
// satisfies it.
type View interface {
	Ready() bool
	Identity() (identity.Identity, bool)
}

// Decision is the verdict for a protected screen.
type Decision int

const (
	Hold Decision = iota
	Render
	RedirectToLogin
	RedirectToRoleHome
)

func (d Decision) String() string {
	switch d {
	case Render:
		return "render"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToRoleHome:
		return "redirect_to_role_home"
	}
	return "hold"
}

// Outcome is a decision plus the redirect target, if any.
type Outcome struct {
	Decision Decision
	Location string
}

// Decide applies the gate rules in order:
//  1. session not initialized: hold
//  2. no session: redirect to /login?from=<path>
//  3. path "/": redirect to the role home
//  4. role not among allowedRoles (when any are given): redirect to the role home
//  5. render
func Decide(view View, path string, allowedRoles ...identity.Role) Outcome {
	if view == nil || !view.Ready() {
		return Outcome{Decision: Hold}
	}
	id, ok := view.Identity()
	if !ok {
		return Outcome{Decision: RedirectToLogin, Location: LoginLocation(path)}
	}
	if path == "/" {
		return Outcome{Decision: RedirectToRoleHome, Location: id.Home()}
	}
	if !id.HasRole(allowedRoles...) {
		return Outcome{Decision: RedirectToRoleHome, Location: id.Home()}
	}
	return Outcome{Decision: Render}
}

// LoginLocation is the login URL remembering the requested path.
func LoginLocation(from string) string {
	if from == "" || from == LoginPath {
		return LoginPath
	}
	return LoginPath + "?from=" + url.QueryEscape(from)
}

// RoleForPath returns the role that owns path, if any.
func RoleForPath(path string) (identity.Role, bool) {
	for _, r := range identity.Roles() {
		prefix := "/" + string(r)
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return r, true
		}
	}
	return "", false
}

// SafeReturn picks where to go after a successful login: from when it is a
// local path the user's role may open, the role home otherwise.
func SafeReturn(from string, id identity.Identity) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.Contains(from, "\\") {
		return id.Home()
	}
	u, err := url.Parse(from)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return id.Home()
	}
	if u.Path == "/" || u.Path == LoginPath {
		return id.Home()
	}
	role, owned := RoleForPath(u.Path)
	if !owned || role != id.Role {
		return id.Home()
	}
	return from
}

// ---------------------------------------------------------------------------
// Echo integration
// ---------------------------------------------------------------------------

// ViewFunc extracts the session view of the current request.
type ViewFunc func(c echo.Context) View

// Protect returns middleware that applies Decide to every request.
func Protect(viewOf ViewFunc, allowedRoles ...identity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if req.Method == http.MethodGet && req.URL.RawQuery != "" {
				path += "?" + req.URL.RawQuery
			}
			out := Decide(viewOf(c), req.URL.Path, allowedRoles...)
			switch out.Decision {
			case Render:
				return next(c)
			case Hold:
				c.Response().Header().Set("Retry-After", "1")
				return c.HTML(http.StatusServiceUnavailable, holdPage)
			case RedirectToLogin:
				return c.Redirect(http.StatusSeeOther, LoginLocation(path))
			default:
				return c.Redirect(http.StatusSeeOther, out.Location)
			}
		}
	}
}

const holdPage = `<!doctype html><html><head><meta http-equiv="refresh" content="1"><title>MediBridge</title></head><body><p>Loading...</p></body></html>`
