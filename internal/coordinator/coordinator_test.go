package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/uiforensics/elementcap/internal/protocol"
)

type fakeCapturer struct {
	img protocol.CaptureImage
	err error
}

func (f *fakeCapturer) Capture(_ context.Context, _ string) (protocol.CaptureImage, error) {
	return f.img, f.err
}

func recvMsg(t *testing.T, p *protocol.Pipe) protocol.Message {
	t.Helper()
	select {
	case msg := <-p.Recv():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.Message{}
	}
}

func assertNoMsg(t *testing.T, p *protocol.Pipe) {
	t.Helper()
	select {
	case msg := <-p.Recv():
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReannounceReplacesInspectorChannel(t *testing.T) {
	c := New(&fakeCapturer{})

	first := protocol.NewPipe()
	second := protocol.NewPipe()
	c.RegisterInspector("T1", first)
	c.RegisterInspector("T1", second)

	// The replaced channel is closed immediately.
	select {
	case <-first.CloseNotify():
	case <-time.After(time.Second):
		t.Fatal("replaced inspector channel was not closed")
	}

	// Traffic flows only to the replacement.
	c.Route(protocol.Message{Type: protocol.MsgSelectionCanceled, SessionKey: "T1"})
	if msg := recvMsg(t, second); msg.Type != protocol.MsgSelectionCanceled {
		t.Fatalf("second channel got %q", msg.Type)
	}

	sessions := c.Sessions()
	if len(sessions) != 1 || !sessions[0].HasInspector {
		t.Fatalf("sessions = %+v, want exactly one with inspector", sessions)
	}
}

func TestReplacedChannelClosureDoesNotTearDown(t *testing.T) {
	c := New(&fakeCapturer{})
	agent := protocol.NewPipe()
	c.RegisterAgent("T1", agent)

	first := protocol.NewPipe()
	second := protocol.NewPipe()
	c.RegisterInspector("T1", first)
	c.RegisterInspector("T1", second)

	// Closing the stale channel must not destroy the session now owned by
	// the replacement.
	_ = first.Close()
	assertNoMsg(t, agent)

	sessions := c.Sessions()
	if len(sessions) != 1 || !sessions[0].HasInspector || !sessions[0].HasAgent {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestInspectorCloseSendsExactlyOneTeardown(t *testing.T) {
	c := New(&fakeCapturer{})
	agent := protocol.NewPipe()
	inspector := protocol.NewPipe()
	c.RegisterAgent("T2", agent)
	c.RegisterInspector("T2", inspector)

	_ = inspector.Close()

	msg := recvMsg(t, agent)
	if msg.Type != protocol.MsgSessionTeardown || msg.SessionKey != "T2" {
		t.Fatalf("agent got %+v, want session-teardown for T2", msg)
	}
	assertNoMsg(t, agent)

	// Session is destroyed on the inspector side; agent entry remains until
	// its own channel closes.
	sessions := c.Sessions()
	if len(sessions) != 1 || sessions[0].HasInspector || !sessions[0].HasAgent {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestAgentCloseKeepsSession(t *testing.T) {
	c := New(&fakeCapturer{})
	agent := protocol.NewPipe()
	inspector := protocol.NewPipe()
	c.RegisterAgent("T3", agent)
	c.RegisterInspector("T3", inspector)

	_ = agent.Close()

	deadline := time.Now().Add(time.Second)
	for {
		sessions := c.Sessions()
		if len(sessions) == 1 && sessions[0].HasInspector && !sessions[0].HasAgent {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sessions = %+v, want inspector kept after agent loss", sessions)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The inspector never hears a teardown from agent loss.
	assertNoMsg(t, inspector)
}

func TestRouteForwardsCommandsToAgent(t *testing.T) {
	c := New(&fakeCapturer{})
	agent := protocol.NewPipe()
	c.RegisterAgent("T4", agent)

	for _, typ := range []protocol.MessageType{
		protocol.MsgVisibilityShown,
		protocol.MsgVisibilityHidden,
		protocol.MsgStartSelection,
		protocol.MsgStopSelection,
	} {
		c.Route(protocol.Message{Type: typ, SessionKey: "T4"})
		if msg := recvMsg(t, agent); msg.Type != typ {
			t.Fatalf("agent got %q, want %q", msg.Type, typ)
		}
	}
}

func TestRouteDropsWhenNoPeer(t *testing.T) {
	c := New(&fakeCapturer{})
	// None of these may panic or block.
	c.Route(protocol.Message{Type: protocol.MsgStartSelection, SessionKey: "missing"})
	c.Route(protocol.Message{Type: protocol.MsgSelectionResult, SessionKey: "missing"})
	c.Route(protocol.Message{Type: protocol.MsgCaptureRequest, SessionKey: "missing"})
	c.Route(protocol.Message{Type: protocol.MessageType("bogus"), SessionKey: "missing"})
}

func TestCaptureRoundTrip(t *testing.T) {
	img := protocol.CaptureImage{Data: []byte{1, 2, 3}, Format: "png", DPR: 2}
	c := New(&fakeCapturer{img: img})
	inspector := protocol.NewPipe()
	c.RegisterInspector("T5", inspector)

	c.Route(protocol.Message{Type: protocol.MsgCaptureRequest, SessionKey: "T5"})

	msg := recvMsg(t, inspector)
	if msg.Type != protocol.MsgCaptureResult {
		t.Fatalf("got %q, want capture-result", msg.Type)
	}
	if msg.Capture == nil || msg.Capture.DPR != 2 || len(msg.Capture.Data) != 3 {
		t.Fatalf("capture payload = %+v", msg.Capture)
	}
}

func TestCaptureFailureIsTyped(t *testing.T) {
	c := New(&fakeCapturer{err: protocol.NewError(protocol.CodeCaptureFailed, "surface is protected", nil)})
	inspector := protocol.NewPipe()
	c.RegisterInspector("T6", inspector)

	c.Route(protocol.Message{Type: protocol.MsgCaptureRequest, SessionKey: "T6"})

	msg := recvMsg(t, inspector)
	if msg.Type != protocol.MsgCaptureFailed {
		t.Fatalf("got %q, want capture-failed", msg.Type)
	}
	if msg.Notice == nil || msg.Notice.Code != protocol.CodeCaptureFailed {
		t.Fatalf("notice = %+v", msg.Notice)
	}
}
