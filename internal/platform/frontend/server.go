// Package frontend serves the clinic screens to browsers. Every request gets
// its own Workspace; only the session persistence backend is shared.
package frontend

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/domain/patient"
	"github.com/medibridge/clinic/internal/platform/apiclient"
	"github.com/medibridge/clinic/internal/platform/gate"
	"github.com/medibridge/clinic/internal/platform/middleware"
	"github.com/medibridge/clinic/internal/platform/navigation"
	"github.com/medibridge/clinic/internal/platform/notice"
	"github.com/medibridge/clinic/internal/platform/session"
)

// Cookie names.
const (
	SessionCookie = "clinic_sid"
	FlashCookie   = "clinic_flash"
	CSRFCookie    = "_csrf"
	CSRFField     = "_csrf"
)

// Messages shown by the session screens.
const (
	MsgLoggedIn       = "Login successful!"
	MsgLoggedOut      = "Logged out successfully"
	MsgMissingLogin   = "Email and password are required"
	MsgSessionStorage = "Session storage is unavailable"
)

// Config configures the web front-end.
type Config struct {
	API     apiclient.Config
	Backend session.Backend

	CookieSecure bool
	// SessionTTL is the idle lifetime of the browser session cookie; it is
	// re-issued on every request. Zero makes it a browser-session cookie.
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	BodyLimit      string
	// LoginRateLimit throttles sign-in attempts. A zero rate disables it.
	LoginRateLimit middleware.RateLimitConfig
}

// Server holds what outlives a single request.
type Server struct {
	cfg       Config
	logger    zerolog.Logger
	transport *http.Transport
	renderer  *Renderer
}

// LoginView is the data of the sign-in screen.
type LoginView struct {
	Email string
	From  string
	Error string
}

// ErrorView is the data of the error screen.
type ErrorView struct {
	Status  int
	Message string
}

// New builds the front-end and its echo instance.
func New(cfg Config, logger zerolog.Logger) (*Server, *echo.Echo, error) {
	if cfg.Backend == nil {
		return nil, nil, fmt.Errorf("frontend: session backend is required")
	}
	renderer, err := NewRenderer()
	if err != nil {
		return nil, nil, err
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "frontend").Logger(),
		renderer: renderer,
	}
	if cfg.API.Transport == nil {
		s.transport = http.DefaultTransport.(*http.Transport).Clone()
		s.cfg.API.Transport = s.transport
	}
	// Fail fast on a bad base URL instead of on the first request.
	if _, err := apiclient.New(s.cfg.API, nil, s.logger); err != nil {
		return nil, nil, fmt.Errorf("frontend: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger, "/healthz"))
	e.Use(middleware.SecurityHeaders(middleware.PagePolicy))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.Sanitize(s.logger))
	e.Use(echomw.CSRFWithConfig(echomw.CSRFConfig{
		Skipper:        skipWorkspace,
		TokenLookup:    "form:" + CSRFField,
		CookieName:     CSRFCookie,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   cfg.CookieSecure,
		CookieSameSite: http.SameSiteLaxMode,
	}))
	e.Use(s.withWorkspace)

	s.RegisterRoutes(e)
	return s, e, nil
}

// RegisterRoutes mounts the session screens and the patient screens.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET(gate.LoginPath, s.handleLoginForm)
	login := []echo.MiddlewareFunc{}
	if s.cfg.LoginRateLimit.RequestsPerSecond > 0 {
		login = append(login, middleware.RateLimit(s.cfg.LoginRateLimit))
	}
	e.POST(gate.LoginPath, s.handleLogin, login...)
	e.POST("/logout", s.handleLogout)
	e.GET("/", s.handleRoot, s.protect())

	patient.NewHandler(workspaceOf).RegisterRoutes(e, s.protect)

	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, gate.LoginPath)
	})
}

// Close releases idle upstream connections.
func (s *Server) Close() {
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
}

func (s *Server) protect(roles ...identity.Role) echo.MiddlewareFunc {
	return gate.Protect(viewOf, roles...)
}

func viewOf(c echo.Context) gate.View {
	ws, ok := lookupWorkspace(c)
	if !ok {
		return nil
	}
	return ws
}

// ---------------------------------------------------------------------------
// Workspace middleware
// ---------------------------------------------------------------------------

// skipWorkspace is true for routes that never talk to the API.
func skipWorkspace(c echo.Context) bool {
	switch c.Path() {
	case "/healthz", "/*":
		return true
	}
	return false
}

// withWorkspace builds the request's client instance, restores its session
// and moves notices across redirects through the flash cookie.
func (s *Server) withWorkspace(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if skipWorkspace(c) {
			return next(c)
		}
		sid := s.sessionID(c)
		logger := s.logger.With().
			Str("request_id", middleware.GetRequestID(c)).
			Str("session", sid[:8]).
			Logger()

		ws, err := NewWorkspace(s.cfg.API, s.cfg.Backend.For(sid), logger)
		if err != nil {
			return fmt.Errorf("frontend: workspace: %w", err)
		}
		defer ws.Close()

		if ck, err := c.Cookie(FlashCookie); err == nil {
			ws.Carry(notice.DecodeFlash(ck.Value))
		}
		c.Set(workspaceKey, ws)
		c.Response().Before(func() { s.writeFlash(c, ws) })

		ws.Session().Initialize(c.Request().Context())
		// A token rejected during the quiet startup validation still owes the
		// user a notice.
		if r, ok := ws.Navigation().Pending(); ok && r.Reason == navigation.ReasonSessionExpired {
			ws.Notices().Error(apiclient.MsgSessionExpired)
		}
		return next(c)
	}
}

// sessionID returns the browser's session id, minting one when missing. With
// a TTL the cookie is re-issued so its expiry slides with activity.
func (s *Server) sessionID(c echo.Context) string {
	if ck, err := c.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(ck.Value); err == nil {
			if s.cfg.SessionTTL > 0 {
				c.SetCookie(s.cookie(SessionCookie, ck.Value, s.cfg.SessionTTL))
			}
			return ck.Value
		}
	}
	sid := uuid.NewString()
	c.SetCookie(s.cookie(SessionCookie, sid, s.cfg.SessionTTL))
	return sid
}

// writeFlash runs just before the status line is written. Notices nobody
// rendered ride along a redirect; a consumed flash cookie is cleared.
func (s *Server) writeFlash(c echo.Context, ws *Workspace) {
	left := ws.TakeNotices()
	status := c.Response().Status
	if status >= 300 && status < 400 && len(left) > 0 {
		value, err := notice.EncodeFlash(left)
		if err != nil {
			s.logger.Warn().Err(err).Msg("encode flash")
			return
		}
		c.SetCookie(s.cookie(FlashCookie, value, 0))
		return
	}
	if ws.hadFlash() {
		ck := s.cookie(FlashCookie, "", 0)
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}

func (s *Server) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.cfg.Backend.Ping(c.Request().Context()); err != nil {
		s.logger.Warn().Err(err).Msg("session backend unhealthy")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  MsgSessionStorage,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, gate.LoginPath)
}

func (s *Server) handleLoginForm(c echo.Context) error {
	ws, _ := lookupWorkspace(c)
	if id, ok := ws.Identity(); ok {
		return c.Redirect(http.StatusSeeOther, id.Home())
	}
	return c.Render(http.StatusOK, TemplateLogin, LoginView{From: c.QueryParam("from")})
}

type loginForm struct {
	Email    string `form:"email"`
	Password string `form:"password"`
	From     string `form:"from"`
}

func (s *Server) handleLogin(c echo.Context) error {
	ws, _ := lookupWorkspace(c)
	var f loginForm
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f.Email = middleware.SanitizeString(f.Email)
	view := LoginView{Email: f.Email, From: f.From}
	if f.Email == "" || f.Password == "" {
		view.Error = MsgMissingLogin
		return c.Render(http.StatusUnprocessableEntity, TemplateLogin, view)
	}

	res := ws.Session().Login(c.Request().Context(), f.Email, f.Password)
	if !res.OK {
		view.Error = res.Reason
		return c.Render(http.StatusUnauthorized, TemplateLogin, view)
	}
	ws.Notices().Success(MsgLoggedIn)
	return c.Redirect(http.StatusSeeOther, gate.SafeReturn(f.From, res.Identity))
}

func (s *Server) handleLogout(c echo.Context) error {
	ws, _ := lookupWorkspace(c)
	if err := ws.Session().Logout(c.Request().Context()); err != nil {
		s.logger.Warn().Err(err).Msg("logout")
	}
	ws.Notices().Success(MsgLoggedOut)
	return c.Redirect(http.StatusSeeOther, gate.LoginPath)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Str("path", c.Request().URL.Path).
			Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if rerr := c.Render(code, TemplateError, ErrorView{Status: code, Message: msg}); rerr != nil {
		_ = c.String(code, msg)
	}
}
