// Package apiclient is the single HTTP client the front-ends use to talk to
// the clinic REST API. It owns the base URL, default headers, timeout and the
// two interceptor chains: outgoing requests get the bearer credential and a
// request id, incoming responses are classified and surfaced on the event bus.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibridge/clinic/internal/platform/events"
)

const (
	// RequestIDHeader carries the per-call correlation id.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "medibridge-clinic/1.0"
	maxResponseBytes = 4 << 20
)

// Config holds the fixed settings of a client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Request describes one call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Quiet suppresses the global notice for this call. The caller is
	// expected to show the failure reason itself.
	Quiet bool
	// Anonymous sends the call without the installed credential.
	Anonymous bool
}

// Exchange is what the incoming interceptors see for a finished call.
// Response is nil when the transport failed.
type Exchange struct {
	Request      *http.Request
	Response     *http.Response
	Body         []byte
	Latency      time.Duration
	Quiet        bool
	Credentialed bool
}

// RequestInterceptor may mutate an outgoing request. Returning an error
// aborts the call.
type RequestInterceptor func(*http.Request) error

// ResponseInterceptor receives every finished exchange together with the
// error produced so far and returns the error to pass on.
type ResponseInterceptor func(ex *Exchange, err error) error

// Client wraps http.Client with the clinic conventions. A Client belongs to a
// single client instance; its token is swapped by the session store.
type Client struct {
	baseURL   *url.URL
	userAgent string
	http      *http.Client
	bus       *events.Bus
	logger    zerolog.Logger

	mu          sync.RWMutex
	token       string
	invalidated bool

	outgoing []RequestInterceptor
	incoming []ResponseInterceptor
}

// New builds a client. bus may be nil when nothing listens for events.
func New(cfg Config, bus *events.Bus, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: base url must be http or https, got %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	c := &Client{
		baseURL:   base,
		userAgent: ua,
		http:      &http.Client{Timeout: timeout, Transport: cfg.Transport},
		bus:       bus,
		logger:    logger.With().Str("component", "apiclient").Logger(),
	}
	c.outgoing = []RequestInterceptor{c.attachCredentials}
	c.incoming = []ResponseInterceptor{c.classify, c.surface}
	return c, nil
}

// UseRequest appends an outgoing interceptor after the built-in ones.
func (c *Client) UseRequest(fn RequestInterceptor) { c.outgoing = append(c.outgoing, fn) }

// UseResponse appends an incoming interceptor after the built-in ones.
func (c *Client) UseResponse(fn ResponseInterceptor) { c.incoming = append(c.incoming, fn) }

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// SetToken installs the bearer credential used by subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.invalidated = false
	c.mu.Unlock()
}

// ClearToken removes the bearer credential.
func (c *Client) ClearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// HasToken reports whether a credential is installed.
func (c *Client) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Do performs req and decodes a successful JSON body into out (when out is
// non-nil), unwrapping a {success, data} envelope. Failures are returned as
// *Error.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := Decode(body, out); err != nil {
		return c.undecodable(ctx, req, err)
	}
	return nil
}

// Send performs req and returns the raw response body of a 2xx response.
func (c *Client) Send(ctx context.Context, req Request) ([]byte, error) {
	if req.Anonymous {
		ctx = context.WithValue(ctx, anonymousKey{}, true)
	}
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, fn := range c.outgoing {
		if err := fn(httpReq); err != nil {
			return nil, fmt.Errorf("apiclient: outgoing interceptor: %w", err)
		}
	}

	ex := &Exchange{
		Request:      httpReq,
		Quiet:        req.Quiet,
		Credentialed: httpReq.Header.Get("Authorization") != "",
	}
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	ex.Latency = time.Since(start)
	if err == nil {
		ex.Response = resp
		ex.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
	}

	for _, fn := range c.incoming {
		err = fn(ex, err)
	}
	if err != nil {
		return nil, err
	}
	return ex.Body, nil
}

// Get is a shorthand for a GET call decoded into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode %s %s: %w", method, req.Path, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build %s %s: %w", method, req.Path, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	id := RequestIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	httpReq.Header.Set(RequestIDHeader, id)
	return httpReq, nil
}

// ---------------------------------------------------------------------------
// Built-in interceptors
// ---------------------------------------------------------------------------

func (c *Client) attachCredentials(r *http.Request) error {
	if anon, _ := r.Context().Value(anonymousKey{}).(bool); anon {
		return nil
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// classify turns transport failures and non-2xx responses into *Error.
func (c *Client) classify(ex *Exchange, err error) error {
	r := ex.Request
	base := Error{
		Method:       r.Method,
		Path:         r.URL.Path,
		RequestID:    r.Header.Get(RequestIDHeader),
		Credentialed: ex.Credentialed,
	}
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return err
		}
		base.Kind = kindForTransport(err)
		base.Err = err
		return &base
	}
	status := ex.Response.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}
	base.Kind = kindForStatus(status)
	base.Status = status
	base.Message = serverMessage(ex.Body)
	return &base
}

// surface publishes the bus events for a classified failure and logs the call.
func (c *Client) surface(ex *Exchange, err error) error {
	r := ex.Request
	evt := c.logger.Debug()
	if err != nil {
		evt = c.logger.Warn().Err(err)
	}
	status := 0
	if ex.Response != nil {
		status = ex.Response.StatusCode
	}
	evt.Str("request_id", r.Header.Get(RequestIDHeader)).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Dur("latency", ex.Latency).
		Msg("api call")

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err
	}
	now := time.Now().UTC()
	switch apiErr.Kind {
	case KindAuthentication:
		if ex.Credentialed && c.markInvalidated() {
			c.bus.Publish(events.SessionInvalidated{
				Method: apiErr.Method, Path: apiErr.Path, RequestID: apiErr.RequestID, At: now,
			})
		}
	case KindAuthorization:
		c.bus.Publish(events.AccessDenied{
			Method: apiErr.Method, Path: apiErr.Path, RequestID: apiErr.RequestID, At: now,
		})
	}
	if !ex.Quiet {
		c.notify(apiErr)
	}
	return err
}

// markInvalidated records that the installed token was rejected and reports
// whether this is the first rejection.
func (c *Client) markInvalidated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidated {
		return false
	}
	c.invalidated = true
	return true
}

func (c *Client) notify(apiErr *Error) {
	c.bus.Publish(events.Notice{
		Level:    events.LevelError,
		Category: apiErr.Kind.String(),
		Message:  apiErr.UserMessage(),
	})
}

// undecodable reports a 2xx body that could not be parsed.
func (c *Client) undecodable(ctx context.Context, req Request, cause error) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	apiErr := &Error{
		Kind:      KindServer,
		Message:   MsgInvalidResponse,
		Method:    method,
		Path:      "/" + strings.TrimLeft(req.Path, "/"),
		RequestID: RequestIDFromContext(ctx),
		Err:       cause,
	}
	c.logger.Warn().Err(cause).Str("path", apiErr.Path).Msg("undecodable response")
	if !req.Quiet {
		c.notify(apiErr)
	}
	return apiErr
}

// serverMessage extracts the server-supplied message from an error body:
// "message" first, then "error".
func serverMessage(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if s := rawString(payload.Message); s != "" {
		return s
	}
	return rawString(payload.Error)
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type (
	ctxKey       struct{}
	anonymousKey struct{}
)

// WithRequestID makes calls issued with ctx reuse id as their request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
