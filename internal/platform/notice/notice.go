// Package notice collects user-facing messages published on the event bus and
// hands them to the front-end: a flash cookie for the browser, a writer for
// the command line.
package notice

import (
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/medibridge/clinic/internal/platform/events"
)

// maxFlash bounds how many notices survive a redirect.
const maxFlash = 5

// ---------------------------------------------------------------------------
// Notice
// ---------------------------------------------------------------------------

// Notice is a message shown to the user once.
type Notice struct {
	Level   events.Level `json:"level"`
	Message string       `json:"message"`
}

func (n Notice) String() string {
	return fmt.Sprintf("%s: %s", n.Level, n.Message)
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// Collector keeps notices in publication order. Identical consecutive
// messages are kept once.
type Collector struct {
	unsub func()

	mu      sync.Mutex
	notices []Notice
}

// NewCollector subscribes a collector to bus. bus may be nil.
func NewCollector(bus *events.Bus) *Collector {
	c := &Collector{}
	if bus != nil {
		c.unsub = bus.Subscribe(func(ev events.Event) {
			n := ev.(events.Notice)
			c.Add(n.Level, n.Message)
		}, events.TopicNotice)
	}
	return c
}

// Add records a notice directly.
func (c *Collector) Add(level events.Level, message string) {
	if message == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if k := len(c.notices); k > 0 && c.notices[k-1].Message == message && c.notices[k-1].Level == level {
		return
	}
	c.notices = append(c.notices, Notice{Level: level, Message: message})
}

func (c *Collector) Success(message string) { c.Add(events.LevelSuccess, message) }
func (c *Collector) Error(message string)   { c.Add(events.LevelError, message) }
func (c *Collector) Info(message string)    { c.Add(events.LevelInfo, message) }

// List returns a copy of the collected notices.
func (c *Collector) List() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notice, len(c.notices))
	copy(out, c.notices)
	return out
}

// Drain returns the collected notices and empties the collector.
func (c *Collector) Drain() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

// Close unsubscribes from the bus.
func (c *Collector) Close() {
	if c.unsub != nil {
		c.unsub()
	}
}

// ---------------------------------------------------------------------------
// Flash encoding
// ---------------------------------------------------------------------------

// EncodeFlash serializes notices into a cookie-safe value. Only the last
// maxFlash notices are kept.
func EncodeFlash(notices []Notice) (string, error) {
	if len(notices) == 0 {
		return "", nil
	}
	if len(notices) > maxFlash {
		notices = notices[len(notices)-maxFlash:]
	}
	raw, err := json.Marshal(notices)
	if err != nil {
		return "", fmt.Errorf("notice: encode flash: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeFlash parses a value produced by EncodeFlash. Garbage decodes to no
// notices.
func DecodeFlash(value string) []Notice {
	if value == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	var out []Notice
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// ---------------------------------------------------------------------------
// Writer sink
// ---------------------------------------------------------------------------

// WriteTo subscribes a sink that prints each notice on its own line.
func WriteTo(bus *events.Bus, w io.Writer) (unsubscribe func()) {
	var mu sync.Mutex
	return bus.Subscribe(func(ev events.Event) {
		n := ev.(events.Notice)
		mu.Lock()
		fmt.Fprintln(w, Notice{Level: n.Level, Message: n.Message})
		mu.Unlock()
	}, events.TopicNotice)
}
