package protocol_test

import (
	"sync/atomic"
	"testing"

	"tenengine/internal/message"
	"tenengine/internal/protocol"
)

type fakeProto struct {
	uri       string
	closed    bool
	onClosed  func()
	onMessage func(*message.Message)
}

func (p *fakeProto) URI() string                            { return p.uri }
func (p *fakeProto) SendMsg(any) error                      { return nil }
func (p *fakeProto) Close()                                 { p.closed = true; p.onClosed() }
func (p *fakeProto) SetOnClosed(cb func())                  { p.onClosed = cb }
func (p *fakeProto) SetOnMessage(cb func(*message.Message)) { p.onMessage = cb }

// AddOnClosed must fan out to every observer exactly once, including ones
// registered after the underlying protocol already closed.
func TestRefCountedAddOnClosedFansOutOnce(t *testing.T) {
	t.Parallel()

	p := &fakeProto{uri: "B"}
	rc := protocol.NewRefCounted(p)

	var before, after int32
	rc.AddOnClosed(func() { atomic.AddInt32(&before, 1) })
	rc.AddOnClosed(func() { atomic.AddInt32(&before, 1) })

	p.Close()

	rc.AddOnClosed(func() { atomic.AddInt32(&after, 1) })

	if before != 2 {
		t.Fatalf("pre-registered observers fired %d times, want 2", before)
	}
	if after != 1 {
		t.Fatalf("post-close observer fired %d times, want 1 (immediate call)", after)
	}
}

func TestRefCountedRefUnref(t *testing.T) {
	t.Parallel()

	rc := protocol.NewRefCounted(&fakeProto{uri: "B"})
	if got := rc.Ref(); got != 2 {
		t.Fatalf("Ref() = %d, want 2", got)
	}
	if got := rc.Unref(); got != 1 {
		t.Fatalf("Unref() = %d, want 1", got)
	}
}

func TestConnectionClosedGatesSendAndDelivery(t *testing.T) {
	t.Parallel()

	p := &fakeProto{uri: "B"}
	rc := protocol.NewRefCounted(p)
	conn := protocol.NewConnection("B", rc)

	var delivered *message.Message
	conn.SetOnMessage(func(m *message.Message) { delivered = m })

	var closedFired bool
	conn.SetOnClosed(func() { closedFired = true })

	conn.Close()

	if !conn.Closed() {
		t.Fatal("Closed() should report true after Close()")
	}
	if !closedFired {
		t.Fatal("Connection's own onClosed callback should have fired")
	}
	if err := conn.SendMsg(message.NewCmd("x", message.Dest{AppURI: "B"})); err != protocol.ErrClosed {
		t.Fatalf("SendMsg on closed connection = %v, want ErrClosed", err)
	}

	// handleMessage must not run after close even if the underlying
	// protocol somehow still calls it.
	p.onMessage(message.NewCmd("late", message.Dest{AppURI: "B"}))
	if delivered != nil {
		t.Fatalf("expected no delivery after Close(), got %v", delivered)
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	var closeCount int
	p := &fakeProto{uri: "B"}
	rc := protocol.NewRefCounted(p)
	conn := protocol.NewConnection("B", rc)
	rc.AddOnClosed(func() { closeCount++ })

	conn.Close()
	conn.Close()

	if closeCount != 1 {
		t.Fatalf("underlying protocol closed %d times, want 1", closeCount)
	}
}
