package frontend

import (
	"fmt"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/domain/patient"
	"github.com/medibridge/clinic/internal/platform/apiclient"
	"github.com/medibridge/clinic/internal/platform/events"
	"github.com/medibridge/clinic/internal/platform/navigation"
	"github.com/medibridge/clinic/internal/platform/notice"
	"github.com/medibridge/clinic/internal/platform/session"
)

const workspaceKey = "workspace"

// Workspace is the client instance serving one browser request: its own bus,
// HTTP client, session store, navigation listener and notice collector.
type Workspace struct {
	bus      *events.Bus
	client   *apiclient.Client
	store    *session.Store
	nav      *navigation.Listener
	notices  *notice.Collector
	patients *patient.Service

	mu      sync.Mutex
	carry   []notice.Notice
	flashed bool
}

// NewWorkspace wires a client instance over persist. The caller must Close it.
func NewWorkspace(api apiclient.Config, persist session.Persistence, logger zerolog.Logger) (*Workspace, error) {
	bus := events.NewBus()
	client, err := apiclient.New(api, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("frontend: api client: %w", err)
	}
	store := session.New(client, persist, bus, logger)
	return &Workspace{
		bus:      bus,
		client:   client,
		store:    store,
		nav:      navigation.NewListener(bus, store.Identity),
		notices:  notice.NewCollector(bus),
		patients: patient.NewService(client),
	}, nil
}

func (w *Workspace) Patients() *patient.Service          { return w.patients }
func (w *Workspace) Notices() *notice.Collector          { return w.notices }
func (w *Workspace) Navigation() *navigation.Listener    { return w.nav }
func (w *Workspace) Session() *session.Store             { return w.store }
func (w *Workspace) Identity() (identity.Identity, bool) { return w.store.Identity() }
func (w *Workspace) Ready() bool                         { return w.store.Ready() }

// Carry queues notices that arrived with the request's flash cookie.
func (w *Workspace) Carry(notices []notice.Notice) {
	if len(notices) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.carry = append(w.carry, notices...)
	w.flashed = true
}

// TakeNotices returns the carried notices followed by the ones collected
// during this request, and forgets both.
func (w *Workspace) TakeNotices() []notice.Notice {
	w.mu.Lock()
	out := w.carry
	w.carry = nil
	w.mu.Unlock()
	return append(out, w.notices.Drain()...)
}

func (w *Workspace) hadFlash() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flashed
}

// Close detaches every subscriber from the bus.
func (w *Workspace) Close() {
	w.nav.Close()
	w.notices.Close()
	w.store.Close()
}

func lookupWorkspace(c echo.Context) (*Workspace, bool) {
	ws, ok := c.Get(workspaceKey).(*Workspace)
	return ws, ok && ws != nil
}

// workspaceOf is the patient.EnvFunc of the front-end.
func workspaceOf(c echo.Context) patient.Env {
	ws, _ := lookupWorkspace(c)
	return ws
}
