package loopback_test

import (
	"net"
	"testing"
	"time"

	"tenengine/internal/message"
	"tenengine/internal/protocol"
	"tenengine/internal/protocol/loopback"
)

func TestCreateProtocolWithURIRoundTrips(t *testing.T) {
	t.Parallel()

	reg := loopback.NewRegistry()

	acceptedCh := make(chan net.Conn, 1)
	reg.Listen("B", func(nc net.Conn) { acceptedCh <- nc })

	protoCh := make(chan protocol.Protocol, 1)
	errCh := make(chan error, 1)
	reg.CreateProtocolWithURI("B", protocol.RoleOutDefault, func(p protocol.Protocol, err error) {
		protoCh <- p
		errCh <- err
	})

	var accepted net.Conn
	select {
	case accepted = <-acceptedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Listen's onAccept")
	}

	var client protocol.Protocol
	select {
	case client = <-protoCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CreateProtocolWithURI callback")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("CreateProtocolWithURI returned error: %v", err)
	}

	server := loopback.NewAcceptedProtocol("B", accepted)

	gotCh := make(chan *message.Message, 1)
	server.SetOnMessage(func(m *message.Message) { gotCh <- m })

	sent := message.NewStartGraph(message.Dest{AppURI: "B"}, map[string]any{"k": "v"})
	if err := client.SendMsg(sent); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}

	select {
	case got := <-gotCh:
		if got.ID != sent.ID || got.Name != sent.Name {
			t.Fatalf("round-tripped message = %#v, want ID/Name matching %#v", got, sent)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	client.Close()
}

func TestCreateProtocolWithURINoListener(t *testing.T) {
	t.Parallel()

	reg := loopback.NewRegistry()

	errCh := make(chan error, 1)
	reg.CreateProtocolWithURI("ghost", protocol.RoleOutDefault, func(p protocol.Protocol, err error) {
		if p != nil {
			t.Error("expected nil protocol when no listener is registered")
		}
		errCh <- err
	})

	select {
	case err := <-errCh:
		if err != loopback.ErrNoListener {
			t.Fatalf("err = %v, want ErrNoListener", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestPipeProtocolClosePropagatesOnClosed(t *testing.T) {
	t.Parallel()

	reg := loopback.NewRegistry()
	acceptedCh := make(chan net.Conn, 1)
	reg.Listen("B", func(nc net.Conn) { acceptedCh <- nc })

	protoCh := make(chan protocol.Protocol, 1)
	reg.CreateProtocolWithURI("B", protocol.RoleOutDefault, func(p protocol.Protocol, _ error) { protoCh <- p })
	client := <-protoCh
	accepted := <-acceptedCh
	server := loopback.NewAcceptedProtocol("B", accepted)

	closedCh := make(chan struct{})
	server.SetOnClosed(func() { close(closedCh) })

	client.Close()

	select {
	case <-closedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the peer's onClosed to fire after Close()")
	}
}
