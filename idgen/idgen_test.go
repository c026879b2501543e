package idgen

import "testing"

func TestHex128_Format(t *testing.T) {
	gen := Hex128()
	id := gen()
	if len(id) != 32 {
		t.Fatalf("Hex128: expected length 32, got %d for %q", len(id), id)
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("Hex128: unexpected character %q in %q", c, id)
		}
	}
}

func TestHex128_Uniqueness(t *testing.T) {
	gen := Hex128()
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("Hex128: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
