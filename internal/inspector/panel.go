// Package inspector is the operator-facing side of a capture session. The
// panel tracks the last confirmed selection per session, drives selection
// mode on the agent and owns the capture-and-crop pipeline that turns a raw
// screenshot into a capture record.
package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uiforensics/elementcap/internal/crop"
	"github.com/uiforensics/elementcap/internal/protocol"
	"github.com/uiforensics/elementcap/internal/record"
)

// DefaultCaptureTimeout bounds one capture round trip through the
// coordinator.
const DefaultCaptureTimeout = 30 * time.Second

// Broker is the coordinator surface the panel needs.
type Broker interface {
	RegisterInspector(sessionKey string, ch protocol.Channel)
	Route(msg protocol.Message)
}

// SessionState is the panel's view of one session.
type SessionState struct {
	SessionKey   string           `json:"session_key"`
	Selecting    bool             `json:"selecting"`
	HasSelection bool             `json:"has_selection"`
	LastNotice   *protocol.Notice `json:"last_notice,omitempty"`
}

type session struct {
	key  string
	pipe *protocol.Pipe

	mu            sync.Mutex
	selecting     bool
	lastSelection *protocol.SelectionPayload
	lastNotice    *protocol.Notice
	pending       chan protocol.Message
}

// Panel owns the inspector side of every open session.
type Panel struct {
	broker         Broker
	log            *slog.Logger
	captureTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// Option tweaks a Panel.
type Option func(*Panel)

// WithCaptureTimeout overrides the capture round-trip deadline.
func WithCaptureTimeout(d time.Duration) Option {
	return func(p *Panel) { p.captureTimeout = d }
}

// NewPanel builds a panel over the given broker.
func NewPanel(broker Broker, log *slog.Logger, opts ...Option) *Panel {
	if log == nil {
		log = slog.Default()
	}
	p := &Panel{
		broker:         broker,
		log:            log.With("component", "inspector"),
		captureTimeout: DefaultCaptureTimeout,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open announces the inspector for a session. Re-opening an open session
// replaces the registration; the coordinator closes the superseded channel
// and any selection state held for it is discarded.
func (p *Panel) Open(sessionKey string) {
	sess := &session{key: sessionKey, pipe: protocol.NewPipe()}

	p.mu.Lock()
	p.sessions[sessionKey] = sess
	p.mu.Unlock()

	p.broker.RegisterInspector(sessionKey, sess.pipe)
	p.broker.Route(protocol.Message{Type: protocol.MsgSessionAnnounce, SessionKey: sessionKey})
	go p.recvLoop(sess)
	p.log.Info("session opened", "session_key", sessionKey)
}

// Close tears the session down. Closing the inspector channel is the
// authoritative destroy signal: the coordinator drops the session and
// instructs the agent to clean up.
func (p *Panel) Close(sessionKey string) error {
	p.mu.Lock()
	sess, ok := p.sessions[sessionKey]
	if ok {
		delete(p.sessions, sessionKey)
	}
	p.mu.Unlock()
	if !ok {
		return protocol.NewError(protocol.CodeSessionNotFound, fmt.Sprintf("session %s not open", sessionKey), nil)
	}
	sess.pipe.Close()
	p.log.Info("session closed", "session_key", sessionKey)
	return nil
}

func (p *Panel) get(sessionKey string) (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[sessionKey]
	if !ok {
		return nil, protocol.NewError(protocol.CodeSessionNotFound, fmt.Sprintf("session %s not open", sessionKey), nil)
	}
	return sess, nil
}

// recvLoop consumes agent-originated messages until the channel dies. A
// replaced session's loop exits without touching the successor's entry.
func (p *Panel) recvLoop(sess *session) {
	for {
		select {
		case msg := <-sess.pipe.Recv():
			p.handle(sess, msg)
		case <-sess.pipe.CloseNotify():
			p.mu.Lock()
			if p.sessions[sess.key] == sess {
				delete(p.sessions, sess.key)
			}
			p.mu.Unlock()
			return
		}
	}
}

func (p *Panel) handle(sess *session, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgSelectionResult:
		sess.mu.Lock()
		sess.selecting = false
		sess.lastSelection = msg.Selection
		sess.lastNotice = nil
		sess.mu.Unlock()
		p.log.Info("selection received", "session_key", sess.key,
			"label", msg.Selection.Target.Tag, "class", string(msg.Selection.Target.Class))

	case protocol.MsgSelectionCanceled:
		sess.mu.Lock()
		sess.selecting = false
		sess.lastNotice = msg.Notice
		sess.mu.Unlock()
		if msg.Notice != nil {
			p.log.Warn("selection canceled", "session_key", sess.key, "code", msg.Notice.Code)
		} else {
			p.log.Info("selection canceled by user", "session_key", sess.key)
		}

	case protocol.MsgCaptureResult, protocol.MsgCaptureFailed:
		sess.mu.Lock()
		pending := sess.pending
		sess.mu.Unlock()
		if pending == nil {
			p.log.Debug("discarding capture response with no waiter", "session_key", sess.key)
			return
		}
		select {
		case pending <- msg:
		default:
			p.log.Debug("discarding superseded capture response", "session_key", sess.key)
		}

	default:
		p.log.Debug("ignoring message", "session_key", sess.key, "type", string(msg.Type))
	}
}

// StartSelection arms selection mode on the session's agent.
func (p *Panel) StartSelection(sessionKey string) error {
	sess, err := p.get(sessionKey)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.selecting = true
	sess.lastNotice = nil
	sess.mu.Unlock()
	p.broker.Route(protocol.Message{Type: protocol.MsgStartSelection, SessionKey: sessionKey})
	return nil
}

// StopSelection disarms selection mode. A stop with nothing armed is a
// no-op on the agent side.
func (p *Panel) StopSelection(sessionKey string) error {
	sess, err := p.get(sessionKey)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.selecting = false
	sess.mu.Unlock()
	p.broker.Route(protocol.Message{Type: protocol.MsgStopSelection, SessionKey: sessionKey})
	return nil
}

// SetVisibility relays panel visibility to the agent. Hiding the panel
// cancels any selection in progress.
func (p *Panel) SetVisibility(sessionKey string, shown bool) error {
	sess, err := p.get(sessionKey)
	if err != nil {
		return err
	}
	typ := protocol.MsgVisibilityShown
	if !shown {
		typ = protocol.MsgVisibilityHidden
		sess.mu.Lock()
		sess.selecting = false
		sess.mu.Unlock()
	}
	p.broker.Route(protocol.Message{Type: typ, SessionKey: sessionKey})
	return nil
}

// LastSelection returns the most recent confirmed selection for a session.
func (p *Panel) LastSelection(sessionKey string) (*protocol.SelectionPayload, error) {
	sess, err := p.get(sessionKey)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.lastSelection == nil {
		return nil, protocol.NewError(protocol.CodeValidation, "no confirmed selection for session", nil)
	}
	sel := *sess.lastSelection
	return &sel, nil
}

// States reports every open session.
func (p *Panel) States() []SessionState {
	p.mu.Lock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		sessions = append(sessions, sess)
	}
	p.mu.Unlock()

	out := make([]SessionState, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		out = append(out, SessionState{
			SessionKey:   sess.key,
			Selecting:    sess.selecting,
			HasSelection: sess.lastSelection != nil,
			LastNotice:   sess.lastNotice,
		})
		sess.mu.Unlock()
	}
	return out
}

// Capture runs one capture round trip: request a raw screenshot through the
// coordinator, crop it to the frozen selection's viewport rect and assemble
// the record. One capture per session may be in flight at a time.
func (p *Panel) Capture(ctx context.Context, sessionKey string) (record.CaptureRecord, []byte, error) {
	sess, err := p.get(sessionKey)
	if err != nil {
		return record.CaptureRecord{}, nil, err
	}

	sess.mu.Lock()
	if sess.lastSelection == nil {
		sess.mu.Unlock()
		return record.CaptureRecord{}, nil, protocol.NewError(protocol.CodeValidation, "no confirmed selection to capture", nil)
	}
	if sess.pending != nil {
		sess.mu.Unlock()
		return record.CaptureRecord{}, nil, protocol.NewError(protocol.CodeValidation, "capture already in flight", nil)
	}
	sel := *sess.lastSelection
	pending := make(chan protocol.Message, 1)
	sess.pending = pending
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.pending = nil
		sess.mu.Unlock()
	}()

	p.broker.Route(protocol.Message{Type: protocol.MsgCaptureRequest, SessionKey: sessionKey})

	ctx, cancel := context.WithTimeout(ctx, p.captureTimeout)
	defer cancel()

	var msg protocol.Message
	select {
	case msg = <-pending:
	case <-ctx.Done():
		return record.CaptureRecord{}, nil, protocol.NewError(protocol.CodeCaptureFailed, "capture timed out", ctx.Err())
	}

	if msg.Type == protocol.MsgCaptureFailed {
		code := protocol.CodeCaptureFailed
		text := "capture failed"
		if msg.Notice != nil {
			code = msg.Notice.Code
			text = msg.Notice.Message
		}
		return record.CaptureRecord{}, nil, protocol.NewError(code, text, nil)
	}
	if msg.Capture == nil {
		return record.CaptureRecord{}, nil, protocol.NewError(protocol.CodeCaptureFailed, "capture result carries no image", nil)
	}

	res, err := crop.Crop(msg.Capture.Data, sel.Target.ViewportRect, msg.Capture.DPR)
	if err != nil {
		return record.CaptureRecord{}, nil, err
	}

	// Best effort only: a mutation between confirm and capture flags the
	// record, it never blocks it.
	stale := msg.Capture.Mutations != sel.Meta.Mutations
	rec := record.Build(uuid.NewString(), sel, res.Width, res.Height, stale)
	p.log.Info("capture assembled", "session_key", sessionKey,
		"record_id", rec.ID, "width", res.Width, "height", res.Height, "stale", stale)
	return rec, res.PNG, nil
}
