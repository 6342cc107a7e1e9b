package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed call.
type Kind int

const (
	KindAuthentication Kind = iota + 1
	KindAuthorization
	KindValidation
	KindNotFound
	KindServer
	KindTimeout
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	}
	return "unknown"
}

// Sentinels for errors.Is checks against *Error values.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrServer         = errors.New("server error")
	ErrTimeout        = errors.New("request timed out")
	ErrNetwork        = errors.New("network unreachable")
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuthentication:
		return ErrAuthentication
	case KindAuthorization:
		return ErrAuthorization
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindServer:
		return ErrServer
	case KindTimeout:
		return ErrTimeout
	case KindNetwork:
		return ErrNetwork
	}
	return nil
}

// Default user-facing messages.
const (
	MsgSessionExpired  = "Your session has expired. Please log in again."
	MsgForbidden       = "You do not have permission to access this resource"
	MsgInvalidLogin    = "Invalid credentials"
	MsgGeneric         = "An error occurred"
	MsgTimeout         = "The request timed out. Please try again."
	MsgNetwork         = "Network error. Please check your connection."
	MsgInvalidResponse = "Invalid response from server"
)

// Error is a classified failure of a call to the remote API. Message is the
// message the server supplied, if any.
type Error struct {
	Kind         Kind
	Status       int
	Message      string
	Method       string
	Path         string
	RequestID    string
	Credentialed bool
	Err          error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// UserMessage is the text shown to the user for this failure.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindAuthentication:
		if e.Credentialed {
			return MsgSessionExpired
		}
		if e.Message != "" {
			return e.Message
		}
		return MsgInvalidLogin
	case KindAuthorization:
		return MsgForbidden
	case KindTimeout:
		return MsgTimeout
	case KindNetwork:
		return MsgNetwork
	}
	if e.Message != "" {
		return e.Message
	}
	return MsgGeneric
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// UserMessage extracts a displayable message from any error.
func UserMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// kindForStatus maps a non-2xx status code onto the taxonomy.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindValidation
	}
	return KindServer
}

// kindForTransport classifies an error returned by http.Client.Do.
func kindForTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
