package graphstore

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graphs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutLookupDelete(t *testing.T) {
	t.Parallel()

	s := openTemp(t)

	g := Graph{Name: "pipeline", PeerURIs: []string{"B", "C"}}
	if err := s.Put(g); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := s.Lookup("pipeline")
	if !ok || got.Name != g.Name || len(got.PeerURIs) != 2 {
		t.Fatalf("Lookup(pipeline) = %#v, %v", got, ok)
	}

	if err := s.Delete("pipeline"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Lookup("pipeline"); ok {
		t.Fatal("expected graph to be gone after Delete")
	}
}

func TestPutRejectsEmptyName(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	if err := s.Put(Graph{PeerURIs: []string{"B"}}); err == nil {
		t.Fatal("expected an error for an empty graph name")
	}
}

func TestDeleteUnknownNameIsNotAnError(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	if err := s.Delete("never-existed"); err != nil {
		t.Fatalf("Delete of unknown name returned error: %v", err)
	}
}

func TestPredefinedGraphMapUsesFirstPeer(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	_ = s.Put(Graph{Name: "a", PeerURIs: []string{"X", "Y"}})
	_ = s.Put(Graph{Name: "empty", PeerURIs: nil})

	m := s.PredefinedGraphMap()
	if m["a"] != "X" {
		t.Fatalf("PredefinedGraphMap()[a] = %q, want %q", m["a"], "X")
	}
	if _, ok := m["empty"]; ok {
		t.Fatal("a graph with no peers must not appear in PredefinedGraphMap")
	}
}

func TestOpenReloadsPersistedGraphs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "graphs.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s1.Put(Graph{Name: "a", PeerURIs: []string{"X"}})
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	defer s2.Close()

	if _, ok := s2.Lookup("a"); !ok {
		t.Fatal("expected graph persisted by the first Store to survive reopen")
	}
}

func TestExportImportJSONRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	_ = s.Put(Graph{Name: "a", PeerURIs: []string{"X"}})
	_ = s.Put(Graph{Name: "b", PeerURIs: []string{"Y", "Z"}})

	exportPath := filepath.Join(t.TempDir(), "snapshot.json")
	if err := s.ExportJSON(exportPath); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	dst := openTemp(t)
	n, err := dst.ImportJSON(exportPath)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if n != 2 {
		t.Fatalf("ImportJSON returned %d, want 2", n)
	}

	var names []string
	for _, g := range dst.Graphs() {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("imported graph names = %v, want [a b]", names)
	}
}

func TestImportJSONRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"name":"", "peer_uris":["X"]}]`), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if _, err := s.ImportJSON(bad); err == nil {
		t.Fatal("expected an error importing a graph with an empty name")
	}
}
