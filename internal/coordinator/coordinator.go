// Package coordinator is the process-wide message broker between inspector
// panels and page agents. It owns the only cross-session mutable state in
// the system: the two channel maps keyed by session key. Messages for a key
// with no registered peer are dropped and logged, never queued; the sending
// side is responsible for re-announcing itself.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/uiforensics/elementcap/internal/protocol"
)

// Capturer is the host platform's screenshot primitive, invoked once per
// capture-request for the session's underlying surface.
type Capturer interface {
	Capture(ctx context.Context, sessionKey string) (protocol.CaptureImage, error)
}

// Journal receives every message the coordinator routes, for forensics.
type Journal interface {
	Record(direction string, msg protocol.Message)
}

// SessionInfo is a read-only view of one session's registration state.
type SessionInfo struct {
	Key          string `json:"key"`
	HasInspector bool   `json:"has_inspector"`
	HasAgent     bool   `json:"has_agent"`
}

type registration struct {
	ch  protocol.Channel
	gen uint64
}

// Coordinator relays messages by type and keeps session bookkeeping.
type Coordinator struct {
	capturer       Capturer
	journals       []Journal
	captureTimeout time.Duration

	mu         sync.Mutex
	inspectors map[string]*registration
	agents     map[string]*registration
	nextGen    uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal attaches a message journal. May be given more than once;
// every journal sees every routed message.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journals = append(c.journals, j) }
}

// WithCaptureTimeout bounds how long a single screenshot round trip may take.
func WithCaptureTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.captureTimeout = d }
}

// New creates a Coordinator around the given capture primitive.
func New(capturer Capturer, opts ...Option) *Coordinator {
	c := &Coordinator{
		capturer:       capturer,
		captureTimeout: 30 * time.Second,
		inspectors:     make(map[string]*registration),
		agents:         make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterInspector stores or replaces the inspector channel for a key.
// A newer announcement replaces the older channel outright; the replaced
// channel is closed and its closure no longer tears the session down.
// When the live inspector channel closes, the session is destroyed and the
// agent (if any) receives exactly one session-teardown.
func (c *Coordinator) RegisterInspector(sessionKey string, ch protocol.Channel) {
	c.mu.Lock()
	if old := c.inspectors[sessionKey]; old != nil {
		_ = old.ch.Close()
	}
	c.nextGen++
	reg := &registration{ch: ch, gen: c.nextGen}
	c.inspectors[sessionKey] = reg
	c.mu.Unlock()

	slog.Info("inspector registered", "session_key", sessionKey)
	go c.watchInspector(sessionKey, reg)
}

// RegisterAgent stores or replaces the agent channel for a key. Agent
// channel loss never destroys the session: the agent may reconnect.
func (c *Coordinator) RegisterAgent(sessionKey string, ch protocol.Channel) {
	c.mu.Lock()
	if old := c.agents[sessionKey]; old != nil {
		_ = old.ch.Close()
	}
	c.nextGen++
	reg := &registration{ch: ch, gen: c.nextGen}
	c.agents[sessionKey] = reg
	c.mu.Unlock()

	slog.Info("agent registered", "session_key", sessionKey)
	go c.watchAgent(sessionKey, reg)
}

func (c *Coordinator) watchInspector(sessionKey string, reg *registration) {
	<-reg.ch.CloseNotify()

	c.mu.Lock()
	cur := c.inspectors[sessionKey]
	if cur == nil || cur.gen != reg.gen {
		// Replaced before closing; the newer registration owns the session.
		c.mu.Unlock()
		return
	}
	delete(c.inspectors, sessionKey)
	agent := c.agents[sessionKey]
	c.mu.Unlock()

	slog.Info("inspector channel closed, session destroyed", "session_key", sessionKey)
	if agent != nil {
		c.deliver(agent.ch, protocol.Message{Type: protocol.MsgSessionTeardown, SessionKey: sessionKey}, "agent")
	}
}

func (c *Coordinator) watchAgent(sessionKey string, reg *registration) {
	<-reg.ch.CloseNotify()

	c.mu.Lock()
	cur := c.agents[sessionKey]
	if cur != nil && cur.gen == reg.gen {
		delete(c.agents, sessionKey)
	}
	c.mu.Unlock()
	slog.Info("agent channel closed", "session_key", sessionKey)
}

// Route forwards a message to its destination per type. It is total over
// the message union: unrecognized types are dropped with a diagnostic and
// Route never panics or returns an error to the caller.
func (c *Coordinator) Route(msg protocol.Message) {
	for _, j := range c.journals {
		j.Record("route", msg)
	}

	switch msg.Type {
	case protocol.MsgVisibilityShown, protocol.MsgVisibilityHidden,
		protocol.MsgStartSelection, protocol.MsgStopSelection:
		c.toAgent(msg)
	case protocol.MsgSelectionResult, protocol.MsgSelectionCanceled:
		c.toInspector(msg)
	case protocol.MsgCaptureRequest:
		c.handleCaptureRequest(msg.SessionKey)
	case protocol.MsgSessionAnnounce:
		// Announcements register channels out of band; nothing to forward.
		slog.Debug("announce seen in route path", "session_key", msg.SessionKey)
	default:
		slog.Warn("dropping unrecognized message type",
			"type", string(msg.Type), "session_key", msg.SessionKey)
	}
}

// handleCaptureRequest invokes the capture primitive and answers only the
// inspector channel registered for the key at request time. A panel that
// re-announced mid-capture gets nothing; its pending state resolves on retry.
func (c *Coordinator) handleCaptureRequest(sessionKey string) {
	c.mu.Lock()
	inspector := c.inspectors[sessionKey]
	c.mu.Unlock()
	if inspector == nil {
		slog.Warn("capture request for session without inspector", "session_key", sessionKey)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.captureTimeout)
		defer cancel()

		img, err := c.capturer.Capture(ctx, sessionKey)
		resp := protocol.Message{SessionKey: sessionKey}
		if err != nil {
			slog.Warn("screenshot capture failed", "session_key", sessionKey, "error", err)
			resp.Type = protocol.MsgCaptureFailed
			resp.Notice = captureNotice(err)
		} else {
			resp.Type = protocol.MsgCaptureResult
			resp.Capture = &img
		}
		for _, j := range c.journals {
			j.Record("route", resp)
		}
		c.deliver(inspector.ch, resp, "inspector")
	}()
}

func (c *Coordinator) toAgent(msg protocol.Message) {
	c.mu.Lock()
	reg := c.agents[msg.SessionKey]
	c.mu.Unlock()
	if reg == nil {
		slog.Warn("dropping message, no agent for session",
			"type", string(msg.Type), "session_key", msg.SessionKey)
		return
	}
	c.deliver(reg.ch, msg, "agent")
}

func (c *Coordinator) toInspector(msg protocol.Message) {
	c.mu.Lock()
	reg := c.inspectors[msg.SessionKey]
	c.mu.Unlock()
	if reg == nil {
		slog.Warn("dropping message, no inspector for session",
			"type", string(msg.Type), "session_key", msg.SessionKey)
		return
	}
	c.deliver(reg.ch, msg, "inspector")
}

func (c *Coordinator) deliver(ch protocol.Channel, msg protocol.Message, peer string) {
	if err := ch.Send(msg); err != nil {
		slog.Warn("message delivery failed",
			"type", string(msg.Type), "session_key", msg.SessionKey, "peer", peer, "error", err)
	}
}

// Sessions lists every session key with at least one registered channel.
func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make(map[string]bool, len(c.inspectors)+len(c.agents))
	for k := range c.inspectors {
		keys[k] = true
	}
	for k := range c.agents {
		keys[k] = true
	}

	out := make([]SessionInfo, 0, len(keys))
	for k := range keys {
		out = append(out, SessionInfo{
			Key:          k,
			HasInspector: c.inspectors[k] != nil,
			HasAgent:     c.agents[k] != nil,
		})
	}
	return out
}

func captureNotice(err error) *protocol.Notice {
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		return &protocol.Notice{Code: coded.Code, Message: coded.Message}
	}
	return &protocol.Notice{Code: protocol.CodeCaptureFailed, Message: err.Error()}
}
