package cli

import (
	"path/filepath"
	"testing"

	"tenengine/internal/engine"
	"tenengine/internal/infra/graphstore"
	"tenengine/internal/message"
	"tenengine/internal/protocol"
)

type noopRegistry struct{}

func (noopRegistry) CreateProtocolWithURI(string, protocol.Role, func(protocol.Protocol, error)) {}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := graphstore.Open(filepath.Join(t.TempDir(), "graphs.db"))
	if err != nil {
		t.Fatalf("graphstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	eng := engine.New("A", "g", noopRegistry{}, nil)
	return NewService(eng, store, nil)
}

func TestHandleCommandExitReturnsTrue(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	if !s.handleCommand("exit") {
		t.Fatal("handleCommand(\"exit\") should return true")
	}
}

func TestHandleCommandUnknownDoesNotExit(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	if s.handleCommand("frobnicate") {
		t.Fatal("an unknown command must not signal exit")
	}
}

func TestHandleCommandEmptyLineIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	if s.handleCommand("   ") {
		t.Fatal("a blank line must not signal exit")
	}
}

func TestHandleGraphsExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	if err := s.graphs.Put(graphstore.Graph{Name: "a", PeerURIs: []string{"X"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snap.json")
	s.handleCommand("graphs export " + path)

	fresh, err := graphstore.Open(filepath.Join(t.TempDir(), "other.db"))
	if err != nil {
		t.Fatalf("graphstore.Open: %v", err)
	}
	defer fresh.Close()
	s.graphs = fresh

	s.handleCommand("graphs import " + path)

	if _, ok := fresh.Lookup("a"); !ok {
		t.Fatal("expected graph \"a\" to be present after graphs import")
	}
}

func TestHandleCloseUnknownURI(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	// Must not panic; there is no remote registered for "Z".
	s.handleCommand("close Z")
}

func TestDispatchRoutesCmdResultToPending(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	ch := make(chan *message.Message, 1)
	s.mu.Lock()
	s.pending["cmd-1"] = ch
	s.mu.Unlock()

	s.Dispatch(message.NewErrorResult("cmd-1", "boom"))

	select {
	case got := <-ch:
		if got.Result.Detail != "boom" {
			t.Fatalf("Detail = %q, want %q", got.Result.Detail, "boom")
		}
	default:
		t.Fatal("expected the pending channel to receive the matching cmd_result")
	}
}

func TestDispatchPrintsUnmatchedTraffic(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	// No pending entry for this ID; Dispatch must fall through to printing
	// instead of blocking or panicking on a missing channel.
	s.Dispatch(message.NewErrorResult("no-such-cmd", "ignored"))
}
