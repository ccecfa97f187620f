package pageagent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/uiforensics/elementcap/internal/extract"
	"github.com/uiforensics/elementcap/internal/protocol"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDriver struct {
	mu          sync.Mutex
	armCalls    int
	disarmCalls int
	armErr      error
	closed      bool
	events      chan DocEvent
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{events: make(chan DocEvent, 8)}
}

func (d *fakeDriver) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armErr != nil {
		return d.armErr
	}
	d.armCalls++
	return nil
}

func (d *fakeDriver) Disarm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmCalls++
	return nil
}

func (d *fakeDriver) Events() <-chan DocEvent { return d.events }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) counts() (arm, disarm int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armCalls, d.disarmCalls
}

type fakeBroker struct {
	mu       sync.Mutex
	channels []protocol.Channel
	routed   chan protocol.Message
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{routed: make(chan protocol.Message, 32)}
}

func (b *fakeBroker) RegisterAgent(sessionKey string, ch protocol.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

func (b *fakeBroker) Route(msg protocol.Message) { b.routed <- msg }

func (b *fakeBroker) channel(i int) protocol.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.channels) {
		return nil
	}
	return b.channels[i]
}

func (b *fakeBroker) registrations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// recvRouted waits for the next routed message, skipping announces.
func recvRouted(t *testing.T, b *fakeBroker) protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-b.routed:
			if msg.Type == protocol.MsgSessionAnnounce {
				continue
			}
			return msg
		case <-deadline:
			t.Fatal("timed out waiting for routed message")
		}
	}
}

func assertNoRouted(t *testing.T, b *fakeBroker, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-b.routed:
		if msg.Type != protocol.MsgSessionAnnounce {
			t.Fatalf("unexpected routed message %q", msg.Type)
		}
	case <-time.After(wait):
	}
}

func confirmEvent(crossOrigin bool) DocEvent {
	return DocEvent{
		Kind: EventConfirm,
		Element: &extract.ElementFacts{
			Tag:          "button",
			Classes:      []string{"cta"},
			HasText:      true,
			CrossOrigin:  crossOrigin,
			HTML:         `<button class="cta">Go</button>`,
			PageRect:     protocol.Rect{X: 10, Y: 220, W: 100, H: 50},
			ViewportRect: protocol.Rect{X: 10, Y: 20, W: 100, H: 50},
			Style:        map[string]string{"color": "rgb(255, 255, 255)"},
		},
		Page: &extract.PageFacts{
			Href:       "https://shop.example/checkout",
			Globals:    map[string]bool{},
			Attributes: map[string]bool{},
		},
	}
}

// startAgent runs an agent against a fake driver and waits for the initial
// registration before returning.
func startAgent(t *testing.T, driver *fakeDriver, broker *fakeBroker, opts ...AgentOption) (stop func(), done chan struct{}) {
	t.Helper()
	base := []AgentOption{WithFeedbackDelay(2 * time.Millisecond)}
	agent := NewAgent("tab-1", driver, broker, nil, testLogger(t), append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(done)
	}()

	select {
	case msg := <-broker.routed:
		if msg.Type != protocol.MsgSessionAnnounce {
			t.Fatalf("first routed message = %q, want announce", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent never announced")
	}
	return cancel, done
}

func sendCmd(t *testing.T, broker *fakeBroker, typ protocol.MessageType) {
	t.Helper()
	ch := broker.channel(broker.registrations() - 1)
	if ch == nil {
		t.Fatal("no registered channel")
	}
	if err := ch.Send(protocol.Message{Type: typ, SessionKey: "tab-1"}); err != nil {
		t.Fatalf("send %q: %v", typ, err)
	}
}

func waitForArm(t *testing.T, driver *fakeDriver, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if arm, _ := driver.counts(); arm >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("driver never reached %d arm calls", want)
}

func TestConfirmEmitsResultAndReturnsToIdle(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)

	driver.events <- confirmEvent(false)

	msg := recvRouted(t, broker)
	if msg.Type != protocol.MsgSelectionResult {
		t.Fatalf("routed %q, want selection-result", msg.Type)
	}
	if msg.Selection == nil {
		t.Fatal("selection-result carries no payload")
	}
	got := msg.Selection.Target.ViewportRect
	if got.X != 10 || got.Y != 20 || got.W != 100 || got.H != 50 {
		t.Fatalf("viewport rect = %+v", got)
	}
	if msg.Selection.Target.Class != protocol.ClassAtom {
		t.Fatalf("class = %q, want atom", msg.Selection.Target.Class)
	}

	// Back in idle: a new start must arm again.
	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 2)
	if _, disarm := driver.counts(); disarm != 1 {
		t.Fatalf("disarm calls = %d, want 1", disarm)
	}
}

func TestEscapeCancelsExactlyOnce(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)

	driver.events <- DocEvent{Kind: EventCancel}

	msg := recvRouted(t, broker)
	if msg.Type != protocol.MsgSelectionCanceled {
		t.Fatalf("routed %q, want selection-canceled", msg.Type)
	}
	if msg.Notice != nil {
		t.Fatalf("user cancel carries notice %+v", msg.Notice)
	}

	// A stray second Escape from idle must not produce a second cancel.
	driver.events <- DocEvent{Kind: EventCancel}
	assertNoRouted(t, broker, 30*time.Millisecond)
}

func TestStopFromIdleIsNoop(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStopSelection)
	assertNoRouted(t, broker, 30*time.Millisecond)
	if arm, disarm := driver.counts(); arm != 0 || disarm != 0 {
		t.Fatalf("driver touched from idle: arm=%d disarm=%d", arm, disarm)
	}
}

func TestStartWhileArmedDoesNotRestart(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)
	sendCmd(t, broker, protocol.MsgStartSelection)

	// Escape still works, proving the machine stayed armed.
	driver.events <- DocEvent{Kind: EventCancel}
	msg := recvRouted(t, broker)
	if msg.Type != protocol.MsgSelectionCanceled {
		t.Fatalf("routed %q, want selection-canceled", msg.Type)
	}
	if arm, _ := driver.counts(); arm != 1 {
		t.Fatalf("arm calls = %d, want 1", arm)
	}
}

func TestCrossOriginTargetRefused(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)

	driver.events <- confirmEvent(true)

	msg := recvRouted(t, broker)
	if msg.Type != protocol.MsgSelectionCanceled {
		t.Fatalf("routed %q, want selection-canceled", msg.Type)
	}
	if msg.Notice == nil || msg.Notice.Code != protocol.CodeCrossOrigin {
		t.Fatalf("notice = %+v, want CROSS_ORIGIN", msg.Notice)
	}
	assertNoRouted(t, broker, 30*time.Millisecond)
}

func TestArmFailureReportsEvalFailure(t *testing.T) {
	driver := newFakeDriver()
	driver.armErr = errors.New("runtime detached")
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)

	msg := recvRouted(t, broker)
	if msg.Type != protocol.MsgSelectionCanceled {
		t.Fatalf("routed %q, want selection-canceled", msg.Type)
	}
	if msg.Notice == nil || msg.Notice.Code != protocol.CodeEvalFailure {
		t.Fatalf("notice = %+v, want EVAL_FAILURE", msg.Notice)
	}
}

func TestTeardownWhileArmedStopsAgent(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, done := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)
	sendCmd(t, broker, protocol.MsgSessionTeardown)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop on teardown")
	}
	if _, disarm := driver.counts(); disarm != 1 {
		t.Fatalf("disarm calls = %d, want 1", disarm)
	}
	assertNoRouted(t, broker, 30*time.Millisecond)
}

func TestVisibilityHiddenCancelsSelection(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)
	sendCmd(t, broker, protocol.MsgVisibilityHidden)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, disarm := driver.counts(); disarm == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("overlay never came down after visibility loss")
}

func TestChannelLossMidSelectionReconnectsOnce(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, done := startAgent(t, driver, broker)
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)

	broker.channel(0).Close()

	deadline := time.Now().Add(2 * time.Second)
	for broker.registrations() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if broker.registrations() != 2 {
		t.Fatalf("registrations = %d, want 2", broker.registrations())
	}

	// A second loss while still selecting is terminal.
	broker.channel(1).Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent kept running after second channel loss")
	}
	if broker.registrations() != 2 {
		t.Fatalf("registrations after shutdown = %d, want 2", broker.registrations())
	}
}

func TestChannelLossFromIdleShutsDown(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, done := startAgent(t, driver, broker)
	defer stop()

	broker.channel(0).Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle agent kept running after channel loss")
	}
	if broker.registrations() != 1 {
		t.Fatalf("registrations = %d, want 1", broker.registrations())
	}
}

func TestSecondConfirmDuringFeedbackIgnored(t *testing.T) {
	driver := newFakeDriver()
	broker := newFakeBroker()
	stop, _ := startAgent(t, driver, broker, WithFeedbackDelay(50*time.Millisecond))
	defer stop()

	sendCmd(t, broker, protocol.MsgStartSelection)
	waitForArm(t, driver, 1)

	driver.events <- confirmEvent(false)
	driver.events <- confirmEvent(false)

	first := recvRouted(t, broker)
	if first.Type != protocol.MsgSelectionResult {
		t.Fatalf("routed %q, want selection-result", first.Type)
	}
	assertNoRouted(t, broker, 80*time.Millisecond)
}
