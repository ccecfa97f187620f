// Package pageagent runs the in-page side of a capture session: a selection
// state machine per browser tab, backed by a DocumentDriver that injects the
// overlay and reports pointer and keyboard events. The agent speaks the
// envelope protocol with the coordinator through an in-process channel.
package pageagent

import (
	"context"
	"log/slog"
	"time"

	"github.com/uiforensics/elementcap/internal/extract"
	"github.com/uiforensics/elementcap/internal/protocol"
)

// DefaultFeedbackDelay is how long the confirmation emphasis stays on screen
// before the machine returns to idle and the result goes out.
const DefaultFeedbackDelay = 150 * time.Millisecond

// Broker is the coordinator surface the agent needs: a place to register its
// command channel and a router for its outbound messages.
type Broker interface {
	RegisterAgent(sessionKey string, ch protocol.Channel)
	Route(msg protocol.Message)
}

// Agent owns the selection state machine for one tab. All state is confined
// to the Run goroutine; the only concurrent inputs are the command pipe and
// the driver's event channel.
type Agent struct {
	key    string
	driver DocumentDriver
	broker Broker
	probes []extract.LibraryProbe
	log    *slog.Logger

	feedbackDelay time.Duration
	now           func() time.Time

	pipe        *protocol.Pipe
	state       State
	reconnected bool

	feedback *time.Timer
	pending  *protocol.SelectionPayload
}

// AgentOption tweaks an Agent.
type AgentOption func(*Agent)

// WithFeedbackDelay overrides the confirmation feedback window.
func WithFeedbackDelay(d time.Duration) AgentOption {
	return func(a *Agent) { a.feedbackDelay = d }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) AgentOption {
	return func(a *Agent) { a.now = now }
}

// NewAgent builds an agent for one session. Run must be called to start it.
func NewAgent(sessionKey string, driver DocumentDriver, broker Broker, probes []extract.LibraryProbe, log *slog.Logger, opts ...AgentOption) *Agent {
	if log == nil {
		log = slog.Default()
	}
	a := &Agent{
		key:           sessionKey,
		driver:        driver,
		broker:        broker,
		probes:        probes,
		log:           log.With("session", sessionKey, "component", "pageagent"),
		feedbackDelay: DefaultFeedbackDelay,
		now:           time.Now,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports the machine position. Only meaningful from the Run goroutine
// or after Run has returned; exposed for tests.
func (a *Agent) State() State { return a.state }

// Run registers with the broker, announces the session and processes commands
// and document events until teardown or context cancellation. A lost channel
// is survivable: mid-selection the agent re-registers exactly once, from idle
// it shuts down.
func (a *Agent) Run(ctx context.Context) {
	a.register()
	defer a.driver.Close()

	for {
		timerC := a.timerC()
		select {
		case <-ctx.Done():
			a.cancelSelection(ctx, nil)
			a.pipe.Close()
			return

		case msg := <-a.pipe.Recv():
			if a.handleCommand(ctx, msg) {
				a.pipe.Close()
				return
			}

		case <-a.pipe.CloseNotify():
			if a.state == StateIdle || a.reconnected {
				a.log.Info("channel lost, shutting down", "state", a.state.String())
				a.cancelSelection(ctx, nil)
				return
			}
			a.log.Warn("channel lost mid-selection, re-registering once")
			a.reconnected = true
			a.register()

		case ev := <-a.driver.Events():
			a.handleDocEvent(ctx, ev)

		case <-timerC:
			a.finishResolve(ctx)
		}
	}
}

func (a *Agent) register() {
	a.pipe = protocol.NewPipe()
	a.broker.RegisterAgent(a.key, a.pipe)
	a.broker.Route(protocol.Message{Type: protocol.MsgSessionAnnounce, SessionKey: a.key})
}

// timerC returns the feedback timer's channel, or nil (blocks forever in
// select) when no resolve is pending.
func (a *Agent) timerC() <-chan time.Time {
	if a.feedback == nil {
		return nil
	}
	return a.feedback.C
}

// handleCommand applies one coordinator command. Returns true when the run
// loop should terminate.
func (a *Agent) handleCommand(ctx context.Context, msg protocol.Message) bool {
	switch msg.Type {
	case protocol.MsgStartSelection:
		a.startSelection(ctx)
	case protocol.MsgStopSelection:
		a.cancelSelection(ctx, nil)
	case protocol.MsgVisibilityHidden:
		// Inspector went dark: selection mode cannot outlive it.
		a.cancelSelection(ctx, nil)
	case protocol.MsgVisibilityShown:
		// Nothing to restore; the next start-selection re-arms.
	case protocol.MsgSessionTeardown:
		a.log.Info("session teardown")
		a.cancelSelection(ctx, nil)
		return true
	default:
		a.log.Warn("unexpected command", "type", string(msg.Type))
	}
	return false
}

func (a *Agent) startSelection(ctx context.Context) {
	if a.state != StateIdle {
		// Already selecting; the command is not a restart.
		return
	}
	if err := a.driver.Arm(ctx); err != nil {
		a.log.Error("arm failed", "error", err)
		a.broker.Route(protocol.Message{
			Type:       protocol.MsgSelectionCanceled,
			SessionKey: a.key,
			Notice:     &protocol.Notice{Code: protocol.CodeEvalFailure, Message: "selection mode could not be armed"},
		})
		return
	}
	a.state = StateArmed
	a.log.Debug("armed")
}

// cancelSelection disarms and returns to idle without emitting anything.
// Used for stop commands, visibility loss and teardown; a nil notice means
// the peer either asked for the cancellation or is already gone.
func (a *Agent) cancelSelection(ctx context.Context, notice *protocol.Notice) {
	if a.state == StateIdle {
		return
	}
	a.stopFeedback()
	a.pending = nil
	if err := a.driver.Disarm(ctx); err != nil {
		a.log.Warn("disarm failed", "error", err)
	}
	a.state = StateIdle
	a.reconnected = false
	if notice != nil {
		a.broker.Route(protocol.Message{
			Type:       protocol.MsgSelectionCanceled,
			SessionKey: a.key,
			Notice:     notice,
		})
	}
}

func (a *Agent) handleDocEvent(ctx context.Context, ev DocEvent) {
	switch ev.Kind {
	case EventHover:
		// Hover visuals live entirely in the page; nothing to do here.
	case EventConfirm:
		a.confirm(ctx, ev)
	case EventCancel:
		if a.state == StateIdle {
			return
		}
		a.log.Debug("selection canceled by user")
		a.stopFeedback()
		a.pending = nil
		if err := a.driver.Disarm(ctx); err != nil {
			a.log.Warn("disarm failed", "error", err)
		}
		a.state = StateIdle
		a.reconnected = false
		a.broker.Route(protocol.Message{Type: protocol.MsgSelectionCanceled, SessionKey: a.key})
	}
}

func (a *Agent) confirm(ctx context.Context, ev DocEvent) {
	if a.state != StateArmed {
		// A stale click after cancel or a double click during the
		// feedback window; the frozen target wins.
		return
	}
	if ev.Element == nil || ev.Page == nil {
		a.log.Warn("confirm event without facts")
		return
	}
	if ev.Element.CrossOrigin {
		a.log.Info("refusing cross-origin target", "tag", ev.Element.Tag)
		a.cancelWithNotice(ctx, protocol.CodeCrossOrigin, "element belongs to a cross-origin frame")
		return
	}

	payload := extract.Resolve(*ev.Element, *ev.Page, a.probes, a.now())
	a.pending = &payload
	a.state = StateResolving
	a.feedback = time.NewTimer(a.feedbackDelay)
	a.log.Debug("resolving", "class", string(payload.Target.Class))
}

func (a *Agent) cancelWithNotice(ctx context.Context, code, msg string) {
	a.stopFeedback()
	a.pending = nil
	if err := a.driver.Disarm(ctx); err != nil {
		a.log.Warn("disarm failed", "error", err)
	}
	a.state = StateIdle
	a.reconnected = false
	a.broker.Route(protocol.Message{
		Type:       protocol.MsgSelectionCanceled,
		SessionKey: a.key,
		Notice:     &protocol.Notice{Code: code, Message: msg},
	})
}

// finishResolve closes the feedback window: the emphasis comes down, the
// machine returns to idle and the frozen payload goes out.
func (a *Agent) finishResolve(ctx context.Context) {
	a.feedback = nil
	if a.state != StateResolving || a.pending == nil {
		return
	}
	payload := a.pending
	a.pending = nil
	if err := a.driver.Disarm(ctx); err != nil {
		a.log.Warn("disarm failed", "error", err)
	}
	a.state = StateIdle
	a.reconnected = false
	a.broker.Route(protocol.Message{
		Type:       protocol.MsgSelectionResult,
		SessionKey: a.key,
		Selection:  payload,
	})
}

func (a *Agent) stopFeedback() {
	if a.feedback == nil {
		return
	}
	if !a.feedback.Stop() {
		select {
		case <-a.feedback.C:
		default:
		}
	}
	a.feedback = nil
}
