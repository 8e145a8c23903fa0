package batch

import (
	"errors"
	"fmt"
	"testing"

	"pricesync/backend/internal/store"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("prd-%03d", i)
	}
	return out
}

func TestWindowRotatesThroughAllIDs(t *testing.T) {
	var c Cursor
	all := ids(7)
	seen := map[string]int{}
	for range 3 {
		w := c.Window(all, 3)
		if len(w) != 3 {
			t.Fatalf("expected a window of 3, got %v", w)
		}
		for _, id := range w {
			seen[id]++
		}
	}
	if len(seen) != 7 {
		t.Fatalf("three windows of 3 over 7 ids must cover all of them, got %v", seen)
	}
	if w := c.Window(all, 3); w[0] != "prd-002" {
		t.Fatalf("expected rotation to continue at prd-002, got %v", w)
	}
}

func TestWindowReturnsShortListsWhole(t *testing.T) {
	var c Cursor
	if w := c.Window(ids(4), 0); len(w) != 4 {
		t.Fatalf("expected all ids under the default size, got %v", w)
	}
}

func TestCheckExplicit(t *testing.T) {
	if err := CheckExplicit(ids(MaxExplicit)); err != nil {
		t.Fatalf("a list at the limit is accepted, got %v", err)
	}
	err := CheckExplicit(ids(MaxExplicit + 1))
	if !errors.Is(err, ErrTooLarge) || !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrTooLarge wrapping ErrInvalidInput, got %v", err)
	}
}
