package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/domain/patient"
	"github.com/medibridge/clinic/internal/platform/auth"
	"github.com/medibridge/clinic/internal/platform/middleware"
	"github.com/medibridge/clinic/pkg/pagination"
)

// Wire messages of the clinic API.
const (
	msgInvalidRequest = "Invalid request data"
	msgInvalidID      = "Invalid patient ID"
	msgCreated        = "Patient created successfully"
	msgUpdated        = "Patient updated successfully"

	auditCapacity = 200
)

// Config configures a sandbox API server.
type Config struct {
	SigningKey []byte
	Issuer     string
	TokenTTL   time.Duration
	Seed       SeedConfig
	BodyLimit  string

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS.
	CORSOrigins []string

	// BcryptCost overrides the cost of seeded password hashes.
	BcryptCost int
}

// Server serves the clinic REST API from a Store.
type Server struct {
	store  *Store
	seeder *Seeder
	jwt    auth.JWTConfig
	logger zerolog.Logger

	seedMu sync.Mutex

	mu    sync.Mutex
	audit []middleware.AuditEntry
}

// New builds a seeded sandbox and its echo instance.
func New(cfg Config, logger zerolog.Logger) (*Server, *echo.Echo, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, nil, fmt.Errorf("sandbox: signing key is required")
	}
	store := NewStore()
	if cfg.BcryptCost > 0 {
		store.Cost = cfg.BcryptCost
	}
	s := &Server{
		store:  store,
		seeder: NewSeeder(cfg.Seed),
		jwt: auth.JWTConfig{
			Issuer:     cfg.Issuer,
			SigningKey: cfg.SigningKey,
			TTL:        cfg.TokenTTL,
			Skipper:    auth.AuthSkipper,
		},
		logger: logger.With().Str("component", "sandbox").Logger(),
	}
	res, err := s.seeder.Generate(store)
	if err != nil {
		return nil, nil, fmt.Errorf("sandbox: seed: %w", err)
	}
	s.logger.Info().Int("patients", res.Patients).Int("users", res.Users).Dur("duration", res.Duration).Msg("sandbox seeded")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = goccySerializer{}
	e.Validator = &requestValidator{v: validator.New()}
	e.HTTPErrorHandler = ErrorHandler(s.logger)

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger, "/healthz"))
	e.Use(middleware.SecurityHeaders(middleware.APIPolicy))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		}))
	}
	e.Use(auth.JWTMiddleware(s.jwt))
	e.Use(middleware.Audit(s.logger, s))

	s.RegisterRoutes(e)
	return s, e, nil
}

// Store exposes the backing store, for tests and tooling.
func (s *Server) Store() *Store { return s.store }

// RegisterRoutes mounts the API. Authentication is expected to run as
// global middleware.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/login", s.handleLogin)
	e.GET("/healthz", s.handleHealth)
	e.GET("/auth/validate", s.handleValidate)

	rec := e.Group("/receptionist", auth.RequireRole(identity.RoleReceptionist))
	rec.POST("/patients", s.handleCreate)
	rec.GET("/patients", s.handleList)
	rec.GET("/patients/:id", s.handleGet)
	rec.PUT("/patients/:id", s.handleUpdateDemographics)
	rec.DELETE("/patients/:id", s.handleDelete)

	doc := e.Group("/doctor", auth.RequireRole(identity.RoleDoctor))
	doc.GET("/patients", s.handleList)
	doc.GET("/patients/:id", s.handleGet)
	doc.PATCH("/patients/:id", s.handleUpdateNotes)

	sb := e.Group("/sandbox", auth.RequireRole(identity.Roles()...))
	sb.POST("/seed", s.handleSeed)
	sb.GET("/audit", s.handleAudit)
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string            `json:"token"`
	User  identity.Identity `json:"user"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}

	u, err := s.store.Authenticate(req.Email, req.Password)
	if err != nil {
		s.logger.Warn().Str("email", req.Email).Msg("login rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}
	token, err := auth.IssueToken(s.jwt, u)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info().Uint("user_id", u.ID).Str("role", string(u.Role)).Msg("login")
	return c.JSON(http.StatusOK, loginResponse{Token: token, User: u})
}

func (s *Server) handleValidate(c echo.Context) error {
	claimed, ok := auth.UserFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	u, ok := s.store.User(claimed.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}
	return c.JSON(http.StatusOK, map[string]identity.Identity{"user": u})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "patients": s.store.Len()})
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleList(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total := s.store.List(p)
	return c.JSON(http.StatusOK, pagination.NewResponse(items, p, total))
}

func (s *Server) handleGet(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	p, err := s.store.Get(id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleCreate(c echo.Context) error {
	var in patient.NewPatient
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}
	if err := c.Validate(in); err != nil {
		return err
	}
	p, err := s.store.Create(in, callerID(c))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: p, Message: msgCreated})
}

// handleUpdateDemographics applies the non-empty demographic fields. Clinical
// fields are not part of the request type and cannot be changed here.
func (s *Server) handleUpdateDemographics(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var d patient.Demographics
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}
	if err := c.Validate(d); err != nil {
		return err
	}
	p, err := s.store.Update(id, d, patient.ClinicalNotes{}, callerID(c))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: p, Message: msgUpdated})
}

// handleUpdateNotes applies diagnosis and notes only.
func (s *Server) handleUpdateNotes(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var n patient.ClinicalNotes
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}
	p, err := s.store.Update(id, patient.Demographics{}, n, callerID(c))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: p, Message: msgUpdated})
}

func (s *Server) handleDelete(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	if err := s.store.Delete(id); err != nil {
		return storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Sandbox administration
// ---------------------------------------------------------------------------

func (s *Server) handleSeed(c echo.Context) error {
	cfg := DefaultSeedConfig()
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}
	if cfg.PatientCount < 0 || cfg.PatientCount > 10000 {
		return echo.NewHTTPError(http.StatusBadRequest, "patientCount must be between 0 and 10000")
	}

	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	s.seeder = NewSeeder(cfg)
	result, err := s.seeder.Generate(s.store)
	if err != nil {
		return fmt.Errorf("reseed: %w", err)
	}
	s.logger.Info().Int("patients", result.Patients).Msg("sandbox reseeded")
	return c.JSON(http.StatusOK, result)
}

// RecordAccess keeps the most recent audit entries in memory.
func (s *Server) RecordAccess(entry middleware.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	if len(s.audit) > auditCapacity {
		s.audit = s.audit[len(s.audit)-auditCapacity:]
	}
	return nil
}

// AuditTrail returns a copy of the recorded entries, oldest first.
func (s *Server) AuditTrail() []middleware.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]middleware.AuditEntry(nil), s.audit...)
}

func (s *Server) handleAudit(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"data": s.AuditTrail()})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func patientID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, msgInvalidID)
	}
	return uint(id), nil
}

func callerID(c echo.Context) uint {
	u, _ := auth.UserFromContext(c.Request().Context())
	return u.ID
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	case errors.Is(err, ErrDuplicateEmail):
		return echo.NewHTTPError(http.StatusBadRequest, "A patient with this email already exists")
	case errors.Is(err, ErrInvalidDate):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid date of birth format. Use YYYY-MM-DD")
	}
	return err
}

// ErrorHandler renders every error as {"error": "..."}. Unexpected errors are
// logged and reported as a generic 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "Internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		} else {
			logger.Error().Err(err).
				Str("request_id", middleware.GetRequestID(c)).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]string{"error": msg})
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

// ---------------------------------------------------------------------------
// echo plumbing
// ---------------------------------------------------------------------------

// requestValidator runs go-playground validation for c.Validate. Patient
// payloads use the record rules so messages match the front-end's.
type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	switch i.(type) {
	case patient.NewPatient, patient.Demographics, patient.ClinicalNotes:
		if err := patient.Validate(i); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return nil
	}
	if err := rv.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequest)
	}
	return nil
}

// goccySerializer is echo's JSONSerializer on top of goccy/go-json.
type goccySerializer struct{}

func (goccySerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (goccySerializer) Deserialize(c echo.Context, i any) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	var ute *json.UnmarshalTypeError
	var se *json.SyntaxError
	switch {
	case errors.As(err, &ute):
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unmarshal type error: expected=%v, got=%v, field=%v, offset=%v", ute.Type, ute.Value, ute.Field, ute.Offset)).SetInternal(err)
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Syntax error: offset=%v, error=%v", se.Offset, se.Error())).SetInternal(err)
	}
	return err
}
