package engine

import (
	"testing"

	"tenengine/internal/message"
)

// Property 3 — routing ignores weak remotes. A remote that only made it to
// the weak sequence (dial started, duplicate not yet resolved) must not be
// reachable from RouteMsgToRemote: user traffic may only flow over strong
// channels. This needs direct table manipulation because ConnectTo in this
// implementation resolves weak state synchronously (promote or drop) against
// a fake registry, so there is no externally observable weak-only window to
// drive through the public API alone.
func TestPropertyRoutingIgnoresWeak(t *testing.T) {
	t.Parallel()

	var dispatched []*message.Message
	eng := New("A", "g", nil, func(m *message.Message) { dispatched = append(dispatched, m) })

	weak := &Remote{URI: "B", engine: eng, state: StateWeak}
	eng.mu.Lock()
	eng.table.addWeak(weak)
	eng.mu.Unlock()

	cmd := message.NewCmd("x", message.Dest{AppURI: "B"})
	eng.RouteMsgToRemote(cmd)

	if len(dispatched) != 1 {
		t.Fatalf("expected a synthetic not-found result, got %d messages: %v", len(dispatched), dispatched)
	}
	res := dispatched[0]
	const want = "Could not find suitable remote based on uri: B"
	if res.Type != message.CmdResult || res.Result == nil || res.Result.Status != message.StatusError || res.Result.Detail != want {
		t.Fatalf("unexpected result: %#v, want ERROR detail %q", res, want)
	}

	if eng.table.findStrong("B") != nil {
		t.Fatal("weak remote must not have been promoted to strong by routing")
	}
}
