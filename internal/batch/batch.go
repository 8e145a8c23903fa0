// Package batch bounds how many products a single sweep cycle touches.
package batch

import (
	"fmt"
	"sync"

	"pricesync/backend/internal/store"
)

const (
	DefaultSize = 50
	// MaxExplicit caps caller supplied id lists.
	MaxExplicit = 200
)

var ErrTooLarge = fmt.Errorf("too many product ids: %w", store.ErrInvalidInput)

// CheckExplicit rejects id lists longer than MaxExplicit.
func CheckExplicit(ids []string) error {
	if len(ids) > MaxExplicit {
		return fmt.Errorf("%w: got %d, at most %d", ErrTooLarge, len(ids), MaxExplicit)
	}
	return nil
}

// Cursor hands out consecutive windows of an id list so repeated sweeps
// rotate through every product.
type Cursor struct {
	mu   sync.Mutex
	next int
}

// Window returns up to size ids starting where the previous window ended,
// wrapping to the start of ids.
func (c *Cursor) Window(ids []string, size int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if len(ids) <= size {
		return ids
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.next % len(ids)
	out := make([]string, 0, size)
	for i := range size {
		out = append(out, ids[(start+i)%len(ids)])
	}
	c.next = (start + size) % len(ids)
	return out
}
