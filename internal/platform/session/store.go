// Package session holds the one authenticated session of a client instance:
// who the user is, the credential the HTTP client sends, and whether startup
// validation has finished.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/platform/apiclient"
	"github.com/medibridge/clinic/internal/platform/events"
)

// State is the lifecycle state of the store.
type State int

const (
	StateUninitialized State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateAnonymous:
		return "ANONYMOUS"
	}
	return "UNINITIALIZED"
}

// Login failure reasons that are not taken from the server.
const (
	ReasonLoginFailed = "Login failed"
)

// Client is the part of apiclient.Client the store needs.
type Client interface {
	SetToken(token string)
	ClearToken()
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Session is an authenticated identity with its credential.
type Session struct {
	Identity identity.Identity
	Token    string
}

// Result is the outcome of a login attempt. Reason is set when OK is false.
type Result struct {
	OK       bool
	Identity identity.Identity
	Reason   string
}

// Store is the session state machine of one client instance. It is safe for
// concurrent use.
type Store struct {
	client  Client
	persist Persistence
	bus     *events.Bus
	logger  zerolog.Logger
	unsub   func()

	mu      sync.RWMutex
	state   State
	ready   bool
	current *Session
}

// New creates an uninitialized store and subscribes it to session
// invalidation on bus.
func New(client Client, persist Persistence, bus *events.Bus, logger zerolog.Logger) *Store {
	s := &Store{
		client:  client,
		persist: persist,
		bus:     bus,
		logger:  logger.With().Str("component", "session").Logger(),
	}
	if bus != nil {
		s.unsub = bus.Subscribe(func(events.Event) {
			s.Invalidate(context.Background())
		}, events.TopicSessionInvalidated)
	}
	return s
}

// Close detaches the store from the bus.
func (s *Store) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// ---------------------------------------------------------------------------
// Readers
// ---------------------------------------------------------------------------

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether Initialize has finished.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Identity returns the signed-in user.
func (s *Store) Identity() (identity.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return identity.Identity{}, false
	}
	return s.current.Identity, true
}

// Current returns a copy of the active session.
func (s *Store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

type validateResponse struct {
	User *identity.Identity `json:"user"`
}

// Initialize restores a persisted session, keeping it only if the server
// still accepts its token. Any failure ends anonymous with persistence
// cleared.
func (s *Store) Initialize(ctx context.Context) {
	if s.Ready() {
		return
	}

	p, err := s.persist.Load(ctx)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Msg("load persisted session")
		s.discard(ctx)
		s.finish(StateAnonymous, nil)
		return
	case p == nil:
		s.finish(StateAnonymous, nil)
		return
	case p.Token == "" || !p.User.Valid():
		s.logger.Info().Msg("incomplete persisted session discarded")
		s.discard(ctx)
		s.finish(StateAnonymous, nil)
		return
	}

	s.client.SetToken(p.Token)
	var resp validateResponse
	err = s.client.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/auth/validate",
		Quiet:  true,
	}, &resp)
	if err != nil {
		s.logger.Info().Err(err).Msg("persisted session rejected")
		s.discard(ctx)
		s.finish(StateAnonymous, nil)
		return
	}

	user := p.User
	if resp.User != nil {
		if !resp.User.Valid() {
			s.logger.Warn().Str("role", string(resp.User.Role)).Msg("validate returned unusable user")
			s.discard(ctx)
			s.finish(StateAnonymous, nil)
			return
		}
		user = *resp.User
		if user != p.User {
			if err := s.persist.Save(ctx, &Persisted{Token: p.Token, User: user}); err != nil {
				s.logger.Warn().Err(err).Msg("refresh persisted user")
			}
		}
	}
	s.finish(StateAuthenticated, &Session{Identity: user, Token: p.Token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string             `json:"token"`
	User  *identity.Identity `json:"user"`
}

// Login exchanges credentials for a session. It never returns a Go error;
// failures are described by Result.Reason.
func (s *Store) Login(ctx context.Context, email, password string) Result {
	var resp loginResponse
	err := s.client.Do(ctx, apiclient.Request{
		Method:    http.MethodPost,
		Path:      "/login",
		Body:      loginRequest{Email: email, Password: password},
		Quiet:     true,
		Anonymous: true,
	}, &resp)
	if err != nil {
		s.logger.Info().Err(err).Str("email", email).Msg("login failed")
		return Result{Reason: loginReason(err)}
	}
	if resp.Token == "" || resp.User == nil || !resp.User.Valid() {
		s.logger.Warn().Str("email", email).Msg("login response missing token or user")
		return Result{Reason: apiclient.MsgInvalidResponse}
	}

	sess := &Session{Identity: *resp.User, Token: resp.Token}
	if err := s.persist.Save(ctx, &Persisted{Token: sess.Token, User: sess.Identity}); err != nil {
		s.logger.Error().Err(err).Msg("persist session")
		return Result{Reason: ReasonLoginFailed}
	}
	s.client.SetToken(sess.Token)
	s.finish(StateAuthenticated, sess)
	s.logger.Info().Uint("user_id", sess.Identity.ID).Str("role", string(sess.Identity.Role)).Msg("logged in")
	return Result{OK: true, Identity: sess.Identity}
}

// Logout ends the session locally. The server is not contacted.
func (s *Store) Logout(ctx context.Context) error {
	err := s.persist.Clear(ctx)
	s.client.ClearToken()
	s.finish(StateAnonymous, nil)
	if err != nil {
		return fmt.Errorf("session: clear persisted session: %w", err)
	}
	return nil
}

// Invalidate drops an authenticated session after the server rejected its
// credential. It reports whether a session was dropped; later calls are
// no-ops.
func (s *Store) Invalidate(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return false
	}
	s.state = StateAnonymous
	s.current = nil
	s.mu.Unlock()

	s.discard(ctx)
	s.logger.Info().Msg("session invalidated by server")
	s.bus.Publish(events.SessionChanged{From: StateAuthenticated.String(), To: StateAnonymous.String()})
	return true
}

func (s *Store) discard(ctx context.Context) {
	if err := s.persist.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("clear persisted session")
	}
	s.client.ClearToken()
}

func (s *Store) finish(to State, sess *Session) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.current = sess
	s.ready = true
	s.mu.Unlock()

	if from != to {
		s.bus.Publish(events.SessionChanged{From: from.String(), To: to.String()})
	}
}

func loginReason(err error) string {
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		return ReasonLoginFailed
	}
	switch apiErr.Kind {
	case apiclient.KindAuthentication:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return apiclient.MsgInvalidLogin
	case apiclient.KindNetwork, apiclient.KindTimeout:
		return apiclient.MsgNetwork
	}
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return ReasonLoginFailed
}
