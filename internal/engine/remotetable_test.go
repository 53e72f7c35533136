package engine

import "testing"

func TestRemoteTableAddWeakRejectsDuplicateURI(t *testing.T) {
	t.Parallel()

	table := newRemoteTable()
	table.addWeak(&Remote{URI: "B"})

	defer func() {
		if recover() == nil {
			t.Fatal("addWeak: expected panic on duplicate uri, got none")
		}
	}()
	table.addWeak(&Remote{URI: "B"})
}

func TestRemoteTablePromoteIsDisjoint(t *testing.T) {
	t.Parallel()

	table := newRemoteTable()
	r := &Remote{URI: "B"}
	table.addWeak(r)

	if !table.isWeak(r) {
		t.Fatal("expected remote to be weak before promote")
	}
	table.promote(r)

	if table.isWeak(r) {
		t.Fatal("promote: remote is still weak after promote")
	}
	if table.findStrong(r.URI) != r {
		t.Fatal("promote: remote not found in strong map after promote")
	}
}

func TestRemoteTableFindAnyPrefersStrong(t *testing.T) {
	t.Parallel()

	table := newRemoteTable()
	weakR := &Remote{URI: "B"}
	strongR := &Remote{URI: "C"}
	table.addWeak(weakR)
	table.addStrong(strongR)

	if got := table.findAny("B"); got != weakR {
		t.Fatalf("findAny(B) = %v, want weak remote", got)
	}
	if got := table.findAny("C"); got != strongR {
		t.Fatalf("findAny(C) = %v, want strong remote", got)
	}
	if got := table.findAny("Z"); got != nil {
		t.Fatalf("findAny(Z) = %v, want nil", got)
	}

	strongB := &Remote{URI: "B"}
	table.addStrong(strongB)
	if got := table.findAny("B"); got != strongB {
		t.Fatalf("findAny(B) = %v, want the strong remote once both tiers hold B", got)
	}
}

func TestRemoteTableIsEmpty(t *testing.T) {
	t.Parallel()

	table := newRemoteTable()
	if !table.isEmpty() {
		t.Fatal("newRemoteTable: expected empty table")
	}

	r := &Remote{URI: "B"}
	table.addStrong(r)
	if table.isEmpty() {
		t.Fatal("isEmpty: table with one strong remote reported empty")
	}

	table.removeStrong(r)
	if !table.isEmpty() {
		t.Fatal("isEmpty: table should be empty again after removeStrong")
	}
}
