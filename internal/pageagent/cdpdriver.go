package pageagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uiforensics/elementcap/internal/devtools"
	"github.com/uiforensics/elementcap/internal/extract"
	"github.com/uiforensics/elementcap/internal/protocol"
)

const (
	driverEventBuf = 16
	evalTimeout    = 10 * time.Second
)

// CDPDriver drives a real tab over DevTools. Page events arrive through the
// notify binding; the manager feeds them in via HandleBinding.
type CDPDriver struct {
	dev       *devtools.Client
	sessionID string
	log       *slog.Logger

	armJS    string
	disarmJS string

	events    chan DocEvent
	done      chan struct{}
	closeOnce sync.Once
}

// NewCDPDriver attaches to the target, enables the Runtime domain and
// installs the notify binding. The overlay itself is only injected on Arm.
func NewCDPDriver(ctx context.Context, dev *devtools.Client, targetID string, probes []extract.LibraryProbe, log *slog.Logger) (*CDPDriver, error) {
	if log == nil {
		log = slog.Default()
	}
	sessionID, err := dev.Attach(ctx, targetID)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeCDPUnavailable, "attach to target", err)
	}
	if err := dev.EnableRuntime(ctx, sessionID); err != nil {
		return nil, protocol.NewError(protocol.CodeCDPUnavailable, "enable runtime", err)
	}
	if err := dev.AddBinding(ctx, sessionID, BindingName); err != nil {
		return nil, protocol.NewError(protocol.CodeCDPUnavailable, "add binding", err)
	}

	var globals, attrs []string
	for _, p := range probes {
		if p.Global != "" {
			globals = append(globals, p.Global)
		}
		if p.Attribute != "" {
			attrs = append(attrs, p.Attribute)
		}
	}

	return &CDPDriver{
		dev:       dev,
		sessionID: sessionID,
		log:       log.With("component", "cdpdriver", "target", targetID),
		armJS:     armScript(globals, attrs),
		disarmJS:  disarmScript(),
		events:    make(chan DocEvent, driverEventBuf),
		done:      make(chan struct{}),
	}, nil
}

// SessionID identifies this driver's DevTools session for binding dispatch.
func (d *CDPDriver) SessionID() string { return d.sessionID }

func (d *CDPDriver) Arm(ctx context.Context) error {
	return d.eval(ctx, d.armJS)
}

func (d *CDPDriver) Disarm(ctx context.Context) error {
	return d.eval(ctx, d.disarmJS)
}

func (d *CDPDriver) Events() <-chan DocEvent { return d.events }

// Close detaches the DevTools session and stops delivering events. The
// events channel is never closed so late binding calls cannot panic.
func (d *CDPDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = d.dev.Detach(ctx, d.sessionID)
	})
	return err
}

// eval runs an envelope script and unwraps the ok/error_code answer.
func (d *CDPDriver) eval(ctx context.Context, js string) error {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	out, err := d.dev.Evaluate(ctx, d.sessionID, js)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return protocol.NewError(protocol.CodeEvalTimeout, "page script timed out", err)
		}
		return protocol.NewError(protocol.CodeEvalFailure, "page script failed", err)
	}

	var env struct {
		OK           bool   `json:"ok"`
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		return protocol.NewError(protocol.CodeEvalFailure, "malformed script envelope", err)
	}
	if !env.OK {
		return protocol.NewError(protocol.CodeEvalFailure, fmt.Sprintf("%s: %s", env.ErrorCode, env.ErrorMessage), nil)
	}
	return nil
}

// bindingEvent is the JSON body the injected listeners send through the
// notify binding.
type bindingEvent struct {
	Event   string                `json:"event"`
	Rect    protocol.Rect         `json:"rect"`
	Element *extract.ElementFacts `json:"element"`
	Page    *extract.PageFacts    `json:"page"`
}

// HandleBinding decodes one notify payload and queues it for the agent.
// Called from the DevTools read loop; never blocks, a full queue drops the
// event with a diagnostic.
func (d *CDPDriver) HandleBinding(payload string) {
	select {
	case <-d.done:
		return
	default:
	}

	var ev bindingEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		d.log.Warn("undecodable binding payload", "error", err)
		return
	}

	var out DocEvent
	switch ev.Event {
	case "hover":
		out = DocEvent{Kind: EventHover, Rect: ev.Rect}
	case "confirm":
		if ev.Element == nil || ev.Page == nil {
			d.log.Warn("confirm payload missing facts")
			return
		}
		out = DocEvent{Kind: EventConfirm, Element: ev.Element, Page: ev.Page}
	case "cancel":
		out = DocEvent{Kind: EventCancel}
	default:
		d.log.Warn("unknown binding event", "event", ev.Event)
		return
	}

	select {
	case d.events <- out:
	default:
		d.log.Warn("event queue full, dropping", "event", ev.Event)
	}
}
