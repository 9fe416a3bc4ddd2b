package storage

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// IDGen mints lowercase, time-ordered ULID identifiers under a prefix.
// Identifiers from one generator are strictly increasing.
type IDGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDGen returns a generator seeded from crypto/rand.
func NewIDGen() *IDGen {
	return &IDGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Next returns a new identifier. It fails when the entropy source fails or
// the monotonic counter overflows within one millisecond.
func (g *IDGen) Next(prefix string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Now(), g.entropy)
	if err != nil {
		return "", fmt.Errorf("new %s id: %w", strings.TrimSuffix(prefix, "-"), err)
	}
	return prefix + strings.ToLower(id.String()), nil
}
