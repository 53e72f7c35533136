package engine

import "testing"

func TestIsDuplicateURIAntisymmetric(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
	}{
		{"A", "B"},
		{"B", "Z"},
		{"app-1", "app-2"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.a+"_"+tc.b, func(t *testing.T) {
			t.Parallel()

			// a < b (lexicographic): A→B outbound is the duplicate, dropped.
			if !isDuplicateURI(tc.a, tc.b) {
				t.Fatalf("isDuplicateURI(local=%q, peer=%q) = false, want true", tc.a, tc.b)
			}
			// B→A outbound is retained.
			if isDuplicateURI(tc.b, tc.a) {
				t.Fatalf("isDuplicateURI(local=%q, peer=%q) = true, want false", tc.b, tc.a)
			}
		})
	}
}

func TestIsDuplicateURIEqualIsDuplicate(t *testing.T) {
	t.Parallel()

	if !isDuplicateURI("A", "A") {
		t.Fatal("isDuplicateURI(A, A) = false, want true (equal uris treated as duplicate)")
	}
}
