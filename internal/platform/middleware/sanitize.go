package middleware

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192 // 8KB

// Sanitize rejects requests carrying path traversal, null bytes or header
// injection with a 400 before they reach a handler. Form posts have their
// fields checked too.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			reject := func(reason string) error {
				logger.Warn().
					Str("request_id", GetRequestID(c)).
					Str("path", path).
					Str("remote_ip", c.RealIP()).
					Msg(reason)
				return echo.NewHTTPError(http.StatusBadRequest, reason)
			}

			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return reject("Path traversal detected")
			}
			if containsNullByte(path) || containsNullByte(rawPath) {
				return reject("Null byte injection detected")
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return reject("Header value exceeds maximum size: " + name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return reject("Header injection detected: " + name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				if hasNullByte(key, values) {
					return reject("Null byte injection detected in query parameter")
				}
			}

			if isFormPost(req) {
				form, err := c.FormParams()
				if err != nil {
					return reject("Malformed form body")
				}
				for key, values := range form {
					if hasNullByte(key, values) {
						return reject("Null byte injection detected in form field")
					}
				}
			}

			return next(c)
		}
	}
}

func isFormPost(req *http.Request) bool {
	if req.Method != http.MethodPost {
		return false
	}
	ct := req.Header.Get(echo.HeaderContentType)
	return strings.HasPrefix(ct, echo.MIMEApplicationForm)
}

func hasNullByte(key string, values []string) bool {
	if strings.ContainsRune(key, '\x00') {
		return true
	}
	for _, v := range values {
		if strings.ContainsRune(v, '\x00') {
			return true
		}
	}
	return false
}

// containsPathTraversal checks for path traversal sequences in raw and
// percent-encoded forms.
func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

// containsNullByte checks for null bytes in raw and percent-encoded forms.
func containsNullByte(s string) bool {
	if strings.ContainsRune(s, '\x00') {
		return true
	}
	return strings.Contains(strings.ToLower(s), "%00")
}

// SanitizeString strips null bytes and control characters other than \n, \r
// and \t, then trims surrounding whitespace.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\x00' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
