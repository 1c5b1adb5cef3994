package id

import "testing"

func TestRandomGenerator_NewID(t *testing.T) {
	g := NewRandomGenerator()

	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		got, err := g.NewID()
		if err != nil {
			t.Fatalf("new id failed: %v", err)
		}
		if len(got) != 8 {
			t.Fatalf("expected 8-character id, got %q", got)
		}
		for _, r := range got {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
				t.Fatalf("unexpected character %q in id %q", r, got)
			}
		}
		if _, dup := seen[got]; dup {
			t.Fatalf("duplicate id %q within 256 draws", got)
		}
		seen[got] = struct{}{}
	}
}
