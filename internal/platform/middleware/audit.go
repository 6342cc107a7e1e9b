package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibridge/clinic/internal/platform/auth"
)

// AuditEntry records one access to patient data: who, what, when and from
// where.
type AuditEntry struct {
	UserID     uint      `json:"userId"`
	Role       string    `json:"role"`
	PatientID  string    `json:"patientId,omitempty"`
	Action     string    `json:"action"` // read, search, create, update, delete
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"requestId"`
	StatusCode int       `json:"status"`
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request that touches a patients collection, together
// with the authenticated user from auth.JWTMiddleware. Entries are also
// handed to the recorders, if any.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				RequestID:  GetRequestID(c),
				PatientID:  c.Param("id"),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			if u, ok := auth.UserFromContext(c.Request().Context()); ok {
				entry.UserID = u.ID
				entry.Role = string(u.Role)
			}
			entry.Action = httpMethodToAction(req.Method, entry.PatientID != "")

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Uint("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.Contains(path+"/", "/patients/")
}

func httpMethodToAction(method string, item bool) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	if item {
		return "read"
	}
	return "search"
}
